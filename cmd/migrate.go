package cmd

import (
	"log/slog"
	"time"

	"github.com/questline/progression/internal/gateways/database"
	"github.com/questline/progression/internal/logger"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { logger.LogCommand("migrate", time.Since(start), err) }()

		ctx := cmd.Context()
		db, err := database.New(ctx, cfg.DB)
		if err != nil {
			log.Error("Failed to connect to database", slog.Any("error", err))
			return err
		}
		defer db.Close()

		return db.InitializeSchema(ctx)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
