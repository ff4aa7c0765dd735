/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/folio-ledger/apiserver/config"
	"github.com/folio-ledger/apiserver/internal/db"
	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/logging"
	"github.com/folio-ledger/apiserver/internal/reconcile"
	"github.com/folio-ledger/apiserver/internal/services"
	"github.com/folio-ledger/apiserver/internal/store"
)

// reconcileCmd completes identity-account deletions left pending by failed hard deletes.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry pending identity-account deletions once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.LogLevel, cfg.IsDev())

		dbConn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		auditor := services.NewAuditService(store.NewAuditRepository(dbConn), logger, services.AuditOptions{StoreTimeout: cfg.StoreTimeout})
		directory := identity.NewLocal(store.NewAccountRepository(dbConn), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		users := services.NewUserService(
			store.NewUserRepository(dbConn),
			store.NewPendingDeletionRepository(dbConn),
			directory,
			auditor,
			logger,
			cfg.StoreTimeout,
		)

		done, err := reconcile.NewJob(users, logger).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "completed %d pending deletions\n", done)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
