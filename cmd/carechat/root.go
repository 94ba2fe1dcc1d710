package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"carechat/internal/app"
	"carechat/internal/config"
)

const shutdownTimeout = 10 * time.Second

// cli holds the global flags shared by every command.
type cli struct {
	stdin io.Reader
	out   io.Writer

	configPath  string
	logLevel    string
	store       string
	storePath   string
	metricsAddr string
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	c := &cli{stdin: stdin, out: stdout}

	root := &cobra.Command{
		Use:   "carechat",
		Short: "Chat client for the car-service booking backend",
		Long: `carechat talks to the booking backend's chat service.

Log in through the web app first and store the issued tokens with
'carechat credentials set'. Every command then refreshes the access token
on its own when the backend rejects it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", os.Getenv("CARECHAT_CONFIG_FILE"), "JSON configuration file (overrides environment)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.store, "store", "", "credential backend: memory, sqlite, redis")
	flags.StringVar(&c.storePath, "store-path", "", "SQLite file for the sqlite backend")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve /health, /api/status and /metrics on this address")

	root.AddCommand(
		c.chatCmd(),
		c.historyCmd(),
		c.searchCmd(),
		c.markReadCmd(),
		c.sendCmd(),
		c.credentialsCmd(),
	)
	return root
}

// loadConfig resolves file > environment > defaults, then applies flags.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(c.configPath)
	if err != nil {
		return nil, err
	}

	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.store != "" {
		cfg.Store.Backend = c.store
	}
	if c.storePath != "" {
		cfg.Store.Path = c.storePath
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Addr = c.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withApp builds the application, runs fn and always shuts it down.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := app.NewApplication(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	runErr := fn(ctx, application)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}
