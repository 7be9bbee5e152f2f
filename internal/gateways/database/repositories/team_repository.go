package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

type teamRepository struct{ repos }

func (r *teamRepository) Create(ctx context.Context, team *models.Team) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if team.ID == uuid.Nil {
		team.ID = uuid.New()
	}
	team.CreatedAt = time.Now()
	res, err := r.db.NewInsert().Model(team).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create team", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *teamRepository) Get(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	team := new(models.Team)
	if err := r.db.NewSelect().Model(team).Where("t.id = ?", id).Scan(ctx); err != nil {
		return nil, handleError("get team", err)
	}
	return team, nil
}

func (r *teamRepository) AddMember(ctx context.Context, member *models.TeamMember) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.NewInsert().Model(member).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("add team member", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *teamRepository) IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	exists, err := r.db.NewSelect().
		Model((*models.TeamMember)(nil)).
		Where("tm.team_id = ? AND tm.user_id = ?", teamID, userID).
		Exists(ctx)
	if err != nil {
		return false, handleError("check team member", err)
	}
	return exists, nil
}

func (r *teamRepository) Members(ctx context.Context, teamID uuid.UUID) ([]*models.TeamMember, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	members := make([]*models.TeamMember, 0)
	err := r.db.NewSelect().
		Model(&members).
		Where("tm.team_id = ?", teamID).
		Order("tm.joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, handleError("list team members", err)
	}
	return members, nil
}

func (r *teamRepository) TeamsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ids := make([]uuid.UUID, 0)
	err := r.db.NewSelect().
		Model((*models.TeamMember)(nil)).
		Column("team_id").
		Where("tm.user_id = ?", userID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, handleError("list user teams", err)
	}
	return ids, nil
}

func (r *teamRepository) TouchMember(ctx context.Context, userID uuid.UUID, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.NewUpdate().
		Model((*models.TeamMember)(nil)).
		Set("last_active_at = ?", at).
		Where("user_id = ?", userID).
		Exec(ctx)
	return handleError("touch team member", err)
}
