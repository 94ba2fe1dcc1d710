package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"carechat/internal/app"
	"carechat/internal/chat"
	"carechat/internal/hub"
	"carechat/pkg/types"
)

const quitCommand = "/quit"

func (c *cli) chatCmd() *cobra.Command {
	var peer int64

	cmd := &cobra.Command{
		Use:   "chat --peer <id>",
		Short: "Open an interactive chat with a peer",
		Long: `Open the chat socket to a peer. Each line read from stdin is sent as a
message; lines typed while the socket is down are queued and delivered in
order once it reconnects. Type /quit or press Ctrl-C to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return c.runChat(ctx, a, peer)
			})
		},
	}
	cmd.Flags().Int64Var(&peer, "peer", 0, "user id to chat with")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

// printer serializes writes from hub handlers and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (c *cli) runChat(ctx context.Context, a *app.Application, peer int64) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	p := &printer{out: c.out}
	if err := subscribe(a.Hub(), p); err != nil {
		return err
	}
	a.Resolver().OnSessionExpired(func() {
		p.printf("! session expired, log in again and run 'carechat credentials set'\n")
	})

	if err := a.Connect(ctx, peer); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	lines, readErrs := readLines(c.stdin, done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErrs:
					return fmt.Errorf("read input: %w", err)
				default:
					return nil
				}
			}
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line == quitCommand {
				return nil
			}

			result, err := a.Chat().Send(types.OutboundMessage{Receiver: peer, Message: line})
			if err != nil {
				p.printf("! %v\n", err)
				continue
			}
			if result == chat.Queued {
				p.printf("* queued (%d waiting)\n", a.Chat().QueueLen())
			}
		}
	}
}

func subscribe(h *hub.Hub, p *printer) error {
	if err := h.OnMessage(hub.MessageHandlerFunc(func(payload types.ChatPayload) {
		text := payload.String("message")
		if text == "" {
			p.printf("< %s\n", payload.Raw)
			return
		}
		sender := payload.String("sender")
		if sender == "" {
			sender = "peer"
		}
		p.printf("%s> %s\n", sender, text)
	})); err != nil {
		return err
	}
	if err := h.OnError(hub.ErrorHandlerFunc(func(err error) {
		p.printf("! %v\n", err)
	})); err != nil {
		return err
	}
	return h.OnState(hub.StateHandlerFunc(func(s types.ConnectionState) {
		p.printf("* %s\n", strings.ToLower(string(s)))
	}))
}

// maxInputLine fits the longest valid message in 4-byte runes, plus slack
// for a trailing carriage return and surrounding whitespace.
const maxInputLine = types.MaxMessageLength*utf8.UTFMax + 1024

// readLines scans r on its own goroutine. The lines channel is closed at EOF
// or on a read error; the error, if any, is delivered on the second channel
// first.
func readLines(r io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), maxInputLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()
	return lines, errs
}
