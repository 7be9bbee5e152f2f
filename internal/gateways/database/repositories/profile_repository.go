package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

type profileRepository struct{ repos }

func (r *profileRepository) Create(ctx context.Context, profile *models.Profile) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	if profile.Level == 0 {
		profile.Level = 1
	}
	now := time.Now()
	profile.CreatedAt, profile.UpdatedAt = now, now

	res, err := r.db.NewInsert().Model(profile).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create profile", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *profileRepository) Get(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	profile := new(models.Profile)
	err := r.db.NewSelect().Model(profile).Where("p.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, handleError("get profile", err)
	}
	return profile, nil
}

func (r *profileRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile := new(models.Profile)
	err := r.db.NewSelect().Model(profile).Where("p.id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return nil, handleError("lock profile", err)
	}
	return profile, nil
}

func (r *profileRepository) Update(ctx context.Context, profile *models.Profile) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	profile.UpdatedAt = time.Now()
	res, err := r.db.NewUpdate().
		Model(profile).
		ExcludeColumn("id", "created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return handleError("update profile", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrNotFound)
	}
	return nil
}

// firstErr returns err when set, fallback otherwise.
func firstErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
