package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"carechat/internal/app"
	"carechat/pkg/types"
)

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				messages, err := a.API().GetHistory(ctx)
				if err != nil {
					return err
				}
				if len(messages) == 0 {
					fmt.Fprintln(c.out, "no messages")
					return nil
				}

				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tFROM\tTO\tREAD\tMESSAGE")
				for _, m := range messages {
					read := "no"
					if m.IsRead {
						read = "yes"
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
						m.Date.UTC().Format(time.DateTime), m.Sender, m.Receiver, read, m.Message)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <username>",
		Short: "Find users by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				users, err := a.API().Search(ctx, args[0])
				if err != nil {
					return err
				}
				if len(users) == 0 {
					fmt.Fprintln(c.out, "no users found")
					return nil
				}

				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tUSERNAME\tNAME")
				for _, u := range users {
					name := strings.TrimSpace(u.FirstName + " " + u.LastName)
					fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Username, name)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) markReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <peer-id>",
		Short: "Mark every message from a peer as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid peer id %q: %w", args[0], err)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				status, err := a.API().MarkRead(ctx, peer)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, status.Message)
				return nil
			})
		},
	}
}

func (c *cli) sendCmd() *cobra.Command {
	var peer int64

	cmd := &cobra.Command{
		Use:   "send --peer <id> <message>",
		Short: "Send one message through the REST endpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				stored, err := a.API().SendViaREST(ctx, types.OutboundMessage{Receiver: peer, Message: text})
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "sent message %d to %d\n", stored.ID, stored.Receiver)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&peer, "peer", 0, "receiver user id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
