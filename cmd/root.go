package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"persona-relay/internal/app"
	"persona-relay/internal/config"
	"persona-relay/internal/integrations/paramstore"
	"persona-relay/internal/repository"
	logx "persona-relay/pkg/logger"
)

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Telegram to LLM persona relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before reading the environment.")

	cmd.AddCommand(serve)
	cmd.AddCommand(newSetWebhookCmd())
	cmd.AddCommand(newTurnsCmd())
	return cmd
}

// bootstrap loads and validates configuration, initialises logging and
// builds the AWS-backed collaborators the configuration asks for.
func bootstrap(ctx context.Context, cmd *cobra.Command) (config.Config, []app.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}

	var opts []app.Option
	if cfg.NeedsAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("load aws config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return config.Config{}, nil, err
			}
			if err := cfg.ResolveSecrets(ctx, params); err != nil {
				return config.Config{}, nil, err
			}
		}
		if cfg.TurnJournalTable != "" {
			journal, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TurnJournalTable)
			if err != nil {
				return config.Config{}, nil, err
			}
			opts = append(opts, app.WithJournal(journal))
			logx.Info().Str("table", cfg.TurnJournalTable).Msg("turn journal enabled")
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, opts, nil
}

// loadConfig reads the optional dotenv file and the environment, then
// initialises logging for the resulting environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	dotenvErr := config.LoadDotenv(envFile)

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Env()})
	switch {
	case dotenvErr == nil:
	case errors.Is(dotenvErr, fs.ErrNotExist):
		logx.Debug().Str("path", envFile).Msg("no dotenv file")
	default:
		logx.Warn().Err(dotenvErr).Str("path", envFile).Msg("could not load dotenv file")
	}
	return cfg, nil
}
