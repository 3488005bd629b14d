package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"persona-relay/internal/app"
	logx "persona-relay/pkg/logger"
)

func newSetWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Register WEBHOOK_URL with Telegram and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg, opts, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.WithoutCancel(ctx)) }()

			if err := a.RegisterWebhook(ctx); err != nil {
				logx.Error().Err(err).Msg("webhook registration failed")
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", cfg.WebhookURL)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "Give up after this long.")
	return cmd
}
