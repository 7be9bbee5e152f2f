// Package cmd holds the questline command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/questline/progression/internal/config"
	"github.com/questline/progression/internal/logger"
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	configPath string
	cfg        *config.Config
	log        *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "questline",
	Short:         "Progression engine for the questline habit tracker",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		log = logger.New("questline", logger.Options{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			AddSource: cfg.Log.AddSource,
			Color:     cfg.Log.Color,
		})
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to config")
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
