package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/uptrace/bun"
)

type leagueRepository struct{ repos }

func addWeeklyQuery(db bun.IDB, lp *models.LeagueParticipant) *bun.InsertQuery {
	return db.NewInsert().
		Model(lp).
		On("CONFLICT (user_id, week_start) DO UPDATE").
		Set("xp_earned = lp.xp_earned + EXCLUDED.xp_earned").
		Set("quests_completed = lp.quests_completed + EXCLUDED.quests_completed").
		Set("updated_at = EXCLUDED.updated_at")
}

func (r *leagueRepository) AddWeekly(ctx context.Context, userID uuid.UUID, weekStart time.Time, xp int64, quests int, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	lp := &models.LeagueParticipant{
		ID:              uuid.New(),
		UserID:          userID,
		WeekStart:       weekStart,
		XPEarned:        xp,
		QuestsCompleted: quests,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	_, err := addWeeklyQuery(r.db, lp).Exec(ctx)
	return handleError("add weekly league stats", err)
}

func (r *leagueRepository) Get(ctx context.Context, userID uuid.UUID, weekStart time.Time) (*models.LeagueParticipant, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	lp := new(models.LeagueParticipant)
	err := r.db.NewSelect().
		Model(lp).
		Where("lp.user_id = ? AND lp.week_start = ?", userID, weekStart.Format(time.DateOnly)).
		Scan(ctx)
	if err != nil {
		return nil, handleError("get league participant", err)
	}
	return lp, nil
}

type referralRepository struct{ repos }

func (r *referralRepository) Create(ctx context.Context, referral *models.Referral) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if referral.ID == uuid.Nil {
		referral.ID = uuid.New()
	}
	if referral.Status == "" {
		referral.Status = models.ReferralPending
	}
	referral.CreatedAt = time.Now()
	res, err := r.db.NewInsert().Model(referral).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create referral", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *referralRepository) GetByReferee(ctx context.Context, refereeID uuid.UUID) (*models.Referral, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	referral := new(models.Referral)
	if err := r.db.NewSelect().Model(referral).Where("rf.referee_id = ?", refereeID).Scan(ctx); err != nil {
		return nil, handleError("get referral", err)
	}
	return referral, nil
}

func (r *referralRepository) Complete(ctx context.Context, id uuid.UUID, rewardXP int64, at time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.NewUpdate().
		Model((*models.Referral)(nil)).
		Set("status = ?", models.ReferralCompleted).
		Set("reward_xp = ?", rewardXP).
		Set("completed_at = ?", at).
		Where("id = ? AND status = ?", id, models.ReferralPending).
		Exec(ctx)
	if err != nil {
		return false, handleError("complete referral", err)
	}
	return affected(res)
}

type itemRepository struct{ repos }

func (r *itemRepository) Create(ctx context.Context, item *models.UserItem) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.db.NewInsert().Model(item).Exec(ctx)
	return handleError("create user item", err)
}

func (r *itemRepository) LastFromSource(ctx context.Context, userID uuid.UUID, source string) (*models.UserItem, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	item := new(models.UserItem)
	err := r.db.NewSelect().
		Model(item).
		Where("ui.user_id = ? AND ui.source = ?", userID, source).
		Order("ui.acquired_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, handleError("get last user item", err)
	}
	return item, nil
}

func (r *itemRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.UserItem, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	items := make([]*models.UserItem, 0)
	err := r.db.NewSelect().
		Model(&items).
		Where("ui.user_id = ?", userID).
		Order("ui.acquired_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, handleError("list user items", err)
	}
	return items, nil
}
