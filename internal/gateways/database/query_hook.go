package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/questline/progression/internal/logger"
	"github.com/uptrace/bun"
)

// queryHook logs every bun query with its duration and affected rows.
// sql.ErrNoRows is an expected outcome and logged as success.
type queryHook struct{}

var _ bun.QueryHook = queryHook{}

func (queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (queryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	var rows int64
	if event.Result != nil {
		rows, _ = event.Result.RowsAffected()
	}
	err := event.Err
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	logger.LogQuery(event.Operation(), event.Query, time.Since(event.StartTime), rows, err)
}
