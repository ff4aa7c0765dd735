/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/folio-ledger/apiserver/config"
	"github.com/folio-ledger/apiserver/internal/logging"
	"github.com/folio-ledger/apiserver/internal/mq"
	"github.com/folio-ledger/apiserver/types"
)

// auditTailCmd prints audit records published to the configured message backend.
var auditTailCmd = &cobra.Command{
	Use:   "audit-tail",
	Short: "Stream audit records from the message backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.LogLevel, cfg.IsDev())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if backend == nil {
			return errors.New("MQ_BACKEND is not configured")
		}
		defer backend.Close()

		out := cmd.OutOrStdout()
		err = backend.Subscribe(ctx, cfg.MQ.AuditChannel, func(_ context.Context, msg mq.Message) error {
			var record types.AuditRecord
			if err := json.Unmarshal(msg.Data, &record); err != nil {
				logger.WithError(err).WithField("message_id", msg.ID).Warn("skipping malformed audit message")
				return nil
			}
			_, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", record.OccurredAt.Format(time.RFC3339), record.TableName, record.Action, deref(record.ActorID))
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func init() {
	rootCmd.AddCommand(auditTailCmd)
}
