package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"persona-relay/internal/app"
	logx "persona-relay/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Register the webhook and serve Telegram updates until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, opts, err := bootstrap(ctx, cmd)
			if err != nil {
				logx.Fatal().Err(err).Msg("invalid configuration")
			}
			a, err := app.New(ctx, cfg, opts...)
			if err != nil {
				logx.Fatal().Err(err).Msg("failed to build relay")
			}
			if err := a.Run(ctx); err != nil {
				logx.Error().Err(err).Msg("relay stopped with errors")
				return err
			}
			logx.Info().Msg("relay stopped")
			return nil
		},
	}
}
