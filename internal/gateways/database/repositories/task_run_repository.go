package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/uptrace/bun"
)

type taskRunRepository struct{ repos }

func (r *taskRunRepository) CreateBatch(ctx context.Context, runs []*models.TaskRun) error {
	if len(runs) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	for _, run := range runs {
		if run.ID == uuid.Nil {
			run.ID = uuid.New()
		}
		if run.Status == "" {
			run.Status = models.TaskStatusPending
		}
		if run.UpdatedAt.IsZero() {
			run.UpdatedAt = run.CreatedAt
		}
	}
	_, err := r.db.NewInsert().Model(&runs).Exec(ctx)
	return handleError("create task runs", err)
}

func (r *taskRunRepository) Get(ctx context.Context, id uuid.UUID) (*models.TaskRun, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	run := new(models.TaskRun)
	if err := r.db.NewSelect().Model(run).Where("tr.id = ?", id).Scan(ctx); err != nil {
		return nil, handleError("get task run", err)
	}
	return run, nil
}

// runnableWhere matches pending runs and runs stuck in running since before
// the stale cutoff, both under the attempt limit.
const runnableWhere = "attempts < ? AND (status = ? OR (status = ? AND started_at < ?))"

func runnableArgs(staleBefore time.Time, maxAttempts int) []interface{} {
	return []interface{}{maxAttempts, models.TaskStatusPending, models.TaskStatusRunning, staleBefore}
}

func (r *taskRunRepository) ListRunnable(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]*models.TaskRun, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	runs := make([]*models.TaskRun, 0)
	q := r.db.NewSelect().Model(&runs).Where(runnableWhere, runnableArgs(staleBefore, maxAttempts)...)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("tr.created_at ASC").Scan(ctx); err != nil {
		return nil, handleError("list runnable task runs", err)
	}
	return runs, nil
}

func claimQuery(db bun.IDB, id uuid.UUID, now, staleBefore time.Time, maxAttempts int) *bun.UpdateQuery {
	return db.NewUpdate().
		Model((*models.TaskRun)(nil)).
		Set("status = ?", models.TaskStatusRunning).
		Set("attempts = attempts + 1").
		Set("started_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where(runnableWhere, runnableArgs(staleBefore, maxAttempts)...)
}

func (r *taskRunRepository) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time, maxAttempts int) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := claimQuery(r.db, id, now, staleBefore, maxAttempts).Exec(ctx)
	if err != nil {
		return false, handleError("claim task run", err)
	}
	return affected(res)
}

func (r *taskRunRepository) Finish(ctx context.Context, id uuid.UUID, status string, lastErr *string, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return expectRow(r.db.NewUpdate().
		Model((*models.TaskRun)(nil)).
		Set("status = ?", status).
		Set("last_error = ?", lastErr).
		Set("finished_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx))
}

func (r *taskRunRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.TaskRun, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	runs := make([]*models.TaskRun, 0)
	q := r.db.NewSelect().
		Model(&runs).
		Where("tr.status IN (?)", bun.In([]string{models.TaskStatusSucceeded, models.TaskStatusFailed})).
		Where("tr.finished_at < ?", cutoff).
		Order("tr.finished_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, handleError("list finished task runs", err)
	}
	return runs, nil
}

func (r *taskRunRepository) Delete(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.NewDelete().
		Model((*models.TaskRun)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, handleError("delete task runs", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
