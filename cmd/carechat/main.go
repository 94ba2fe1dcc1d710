package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "carechat:", err)
		os.Exit(1)
	}
}

// run is main without the exit so commands can be driven from tests.
// SIGINT and SIGTERM cancel the command context, which makes the chat
// session close its socket before returning.
func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdin, stdout)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
