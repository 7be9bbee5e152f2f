package cmd

import (
	"time"

	"github.com/questline/progression/internal/logger"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute challenge progress for every active user once",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { logger.LogCommand("reconcile", time.Since(start), err) }()

		ctx := cmd.Context()
		e, err := newEngine(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer e.close(ctx)

		_, err = e.reconciler.Sweep(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
