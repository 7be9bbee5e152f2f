package cmd

import (
	"errors"
	"log/slog"
	"time"

	"github.com/questline/progression/internal/gateways/archive"
	"github.com/questline/progression/internal/logger"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive-tasks",
	Short: "Move finished task runs older than the retention to S3",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { logger.LogCommand("archive-tasks", time.Since(start), err) }()

		if cfg.Archive.Bucket == "" {
			return errors.New("archive.bucket is required")
		}

		ctx := cmd.Context()
		s, closeStore, err := openStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer closeStore(ctx)

		client, err := archive.NewS3Client(ctx, archive.Options{
			Key:      cfg.Archive.Key,
			Secret:   cfg.Archive.Secret,
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
		})
		if err != nil {
			return err
		}

		cutoff := time.Now().Add(-cfg.Archive.Retention.Duration)
		archiver := archive.NewS3Archiver(s.Tasks(), client, cfg.Archive.Bucket, cfg.Archive.Prefix, log)
		n, err := archiver.Archive(ctx, cutoff)
		if err != nil {
			return err
		}
		log.Info("Task runs archived",
			slog.String("type", "sys"),
			slog.Int("runs", n),
			slog.Time("cutoff", cutoff),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
