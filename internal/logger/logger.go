package logger

import (
	"log/slog"
	"time"
)

// LogCommand logs CLI command execution
func LogCommand(name string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "cmd"),
		slog.String("name", name),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Command failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Info("Command executed", attrs...)
	}
}

// LogQuery logs database operations
func LogQuery(operation, query string, duration time.Duration, rowsAffected int64, err error) {
	attrs := []any{
		slog.String("type", "db"),
		slog.String("operation", operation),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Query failed", append(attrs,
			slog.String("query", query),
			slog.Any("error", err),
		)...)
		return
	}
	slog.Debug("Query executed", append(attrs,
		slog.String("query", query),
		slog.Int64("affected_rows", rowsAffected),
	)...)
}

// LogTask logs the outcome of a fan-out task run
func LogTask(log *slog.Logger, task, runID string, attempt int, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "task"),
		slog.String("task", task),
		slog.String("run_id", runID),
		slog.Int("attempt", attempt),
		slog.Duration("took", duration),
	}

	if err != nil {
		log.Warn("Task failed", append(attrs,
			slog.String("status", "failed"),
			slog.Any("error", err),
		)...)
		return
	}
	log.Info("Task finished", append(attrs, slog.String("status", "succeeded"))...)
}

// LogSystem logs system events
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
