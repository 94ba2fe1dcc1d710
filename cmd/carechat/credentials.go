package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"carechat/internal/app"
	"carechat/internal/credentials"
)

func (c *cli) credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the stored session",
	}
	cmd.AddCommand(c.credentialsSetCmd(), c.credentialsShowCmd(), c.credentialsClearCmd())
	return cmd
}

func (c *cli) credentialsSetCmd() *cobra.Command {
	var creds credentials.Credentials

	cmd := &cobra.Command{
		Use:   "set --access <token> --refresh <token> [--user <id>]",
		Short: "Store tokens issued by the backend login",
		Long: `Store the access and refresh tokens issued at login. When --user is
omitted the user id is read from the access token's user_id claim.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if err := a.Credentials().Save(ctx, creds); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "credentials saved")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creds.AccessToken, "access", "", "access token")
	cmd.Flags().StringVar(&creds.RefreshToken, "refresh", "", "refresh token")
	cmd.Flags().Int64Var(&creds.UserID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("access")
	_ = cmd.MarkFlagRequired("refresh")
	return cmd
}

func (c *cli) credentialsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored session with tokens redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				stored, err := a.Credentials().Load(ctx)
				if err != nil {
					return err
				}
				if stored.AccessToken == "" {
					fmt.Fprintln(c.out, "no credentials stored")
					return nil
				}
				fmt.Fprintf(c.out, "access token:  %s\n", redact(stored.AccessToken))
				fmt.Fprintf(c.out, "refresh token: %s\n", redact(stored.RefreshToken))
				if stored.UserID > 0 {
					fmt.Fprintf(c.out, "user id:       %d\n", stored.UserID)
				} else {
					fmt.Fprintln(c.out, "user id:       unknown")
				}
				return nil
			})
		},
	}
}

func (c *cli) credentialsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if err := a.Credentials().Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "credentials cleared")
				return nil
			})
		},
	}
}

func redact(token string) string {
	switch {
	case token == "":
		return "(none)"
	case len(token) <= 8:
		return "********"
	default:
		return token[:6] + "..." + token[len(token)-2:]
	}
}
