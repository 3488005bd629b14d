package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"persona-relay/internal/domain"
	"persona-relay/internal/repository"
)

// turnRecord is the JSON line printed per journal entry.
type turnRecord struct {
	At            time.Time `json:"at"`
	Persona       string    `json:"persona"`
	Outcome       string    `json:"outcome"`
	StatusCode    int       `json:"status_code,omitempty"`
	UserText      string    `json:"user_text"`
	Reply         string    `json:"reply,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func newTurnRecord(t domain.Turn) turnRecord {
	return turnRecord{
		At:            t.At,
		Persona:       string(t.Persona),
		Outcome:       t.Outcome.String(),
		StatusCode:    t.StatusCode,
		UserText:      t.UserText,
		Reply:         t.Reply,
		CorrelationID: t.CorrelationID,
	}
}

type turnReader interface {
	RecentTurns(ctx context.Context, conversationID int64, limit int) ([]domain.Turn, error)
}

func newTurnsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Print the most recent journaled turns of one conversation as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chatID, _ := cmd.Flags().GetInt64("chat")
			limit, _ := cmd.Flags().GetInt("limit")
			if chatID == 0 {
				return errors.New("--chat is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.TurnJournalTable == "" {
				return errors.New("TURN_JOURNAL_TABLE is not set")
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
			if err != nil {
				return err
			}
			journal, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TurnJournalTable)
			if err != nil {
				return err
			}
			return printTurns(cmd, journal, chatID, limit)
		},
	}
	cmd.Flags().Int64("chat", 0, "Conversation (chat) id to read.")
	cmd.Flags().Int("limit", 20, "Maximum number of turns, newest kept.")
	return cmd
}

func printTurns(cmd *cobra.Command, r turnReader, chatID int64, limit int) error {
	turns, err := r.RecentTurns(cmd.Context(), chatID, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, t := range turns {
		if err := enc.Encode(newTurnRecord(t)); err != nil {
			return err
		}
	}
	return nil
}
