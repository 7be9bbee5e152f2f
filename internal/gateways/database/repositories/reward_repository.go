package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/uptrace/bun"
)

type rewardRepository struct{ repos }

func insertLedgerQuery(db bun.IDB, entry *models.RewardLedger) *bun.InsertQuery {
	return db.NewInsert().Model(entry).On("CONFLICT DO NOTHING")
}

// InsertLedger relies on the rl_subject_challenge unique key. A concurrent
// insert of the same key blocks until the first transaction ends and then
// reports false.
func (r *rewardRepository) InsertLedger(ctx context.Context, entry *models.RewardLedger) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := insertLedgerQuery(r.db, entry).Exec(ctx)
	if err != nil {
		return false, handleError("insert reward ledger", err)
	}
	return affected(res)
}

func (r *rewardRepository) LedgerFor(ctx context.Context, challengeID uuid.UUID) ([]*models.RewardLedger, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	entries := make([]*models.RewardLedger, 0)
	err := r.db.NewSelect().
		Model(&entries).
		Where("rl.challenge_id = ?", challengeID).
		Order("rl.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, handleError("list reward ledger", err)
	}
	return entries, nil
}

func (r *rewardRepository) AwardBadge(ctx context.Context, badge *models.UserBadge) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if badge.AwardedAt.IsZero() {
		badge.AwardedAt = time.Now()
	}
	res, err := r.db.NewInsert().Model(badge).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return false, handleError("award badge", err)
	}
	return affected(res)
}

func (r *rewardRepository) Badges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	badges := make([]*models.UserBadge, 0)
	err := r.db.NewSelect().
		Model(&badges).
		Where("ub.user_id = ?", userID).
		Order("ub.awarded_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, handleError("list badges", err)
	}
	return badges, nil
}
