package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/questline/progression/internal/auth"
	httpapi "github.com/questline/progression/internal/http"
	"github.com/spf13/cobra"
)

var serveInMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the fan-out workers and the reconciler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := newEngine(ctx, cfg, serveInMemory)
		if err != nil {
			log.Error("Failed to start engine", slog.Any("error", err))
			return err
		}
		defer e.close(context.Background())

		e.dispatcher.Start(ctx)
		if cfg.Reconcile.Enabled {
			go e.reconciler.Run(ctx, cfg.Reconcile.Interval.Duration)
		}

		handlers := httpapi.NewHandlers(e.progression, e.challenges, e.store.Tasks())
		app := httpapi.NewApp(handlers, auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer), log, httpapi.Options{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			BodyLimit:      cfg.HTTP.BodyLimit,
		})

		errCh := make(chan error, 1)
		go func() {
			log.Info("HTTP server listening",
				slog.String("type", "sys"),
				slog.String("addr", cfg.HTTP.Addr),
				slog.String("version", version),
			)
			errCh <- app.Listen(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("Shutting down", slog.String("type", "sys"))
		case err = <-errCh:
			if err != nil {
				log.Error("HTTP server stopped", slog.Any("error", err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Fanout.ShutdownTimeout.Duration)
		defer cancel()

		var errs []error
		if err != nil {
			errs = append(errs, err)
		}
		if serr := app.ShutdownWithContext(shutdownCtx); serr != nil {
			errs = append(errs, serr)
		}
		if derr := e.dispatcher.Shutdown(shutdownCtx); derr != nil {
			errs = append(errs, derr)
		}
		return errors.Join(errs...)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveInMemory, "memory", false, "use the in-memory store instead of Postgres")
	rootCmd.AddCommand(serveCmd)
}

