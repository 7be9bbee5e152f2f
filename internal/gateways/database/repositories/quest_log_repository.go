package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/uptrace/bun"
)

type questLogRepository struct{ repos }

func (r *questLogRepository) Create(ctx context.Context, log *models.QuestLog) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now()
	res, err := r.db.NewInsert().Model(log).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create quest log", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *questLogRepository) Get(ctx context.Context, id uuid.UUID) (*models.QuestLog, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log := new(models.QuestLog)
	if err := r.db.NewSelect().Model(log).Where("ql.id = ?", id).Scan(ctx); err != nil {
		return nil, handleError("get quest log", err)
	}
	return log, nil
}

func (r *questLogRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.QuestLog, error) {
	log := new(models.QuestLog)
	if err := r.db.NewSelect().Model(log).Where("ql.id = ?", id).For("UPDATE").Scan(ctx); err != nil {
		return nil, handleError("lock quest log", err)
	}
	return log, nil
}

// markCompletedQuery only matches a log that has no completed_at yet.
func markCompletedQuery(db bun.IDB, id uuid.UUID, completedAt time.Time, reflection string, xpAwarded int64) *bun.UpdateQuery {
	return db.NewUpdate().
		Model((*models.QuestLog)(nil)).
		Set("completed_at = ?", completedAt).
		Set("reflection_text = ?", reflection).
		Set("xp_awarded = ?", xpAwarded).
		Where("id = ?", id).
		Where("completed_at IS NULL")
}

func (r *questLogRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, reflection string, xpAwarded int64) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := markCompletedQuery(r.db, id, completedAt, reflection, xpAwarded).Exec(ctx)
	if err != nil {
		return false, handleError("mark quest log completed", err)
	}
	return affected(res)
}
