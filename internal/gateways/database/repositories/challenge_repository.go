package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/uptrace/bun"
)

type challengeRepository struct{ repos }

func (r *challengeRepository) Create(ctx context.Context, challenge *models.Challenge) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	challenge.CreatedAt = time.Now()
	res, err := r.db.NewInsert().Model(challenge).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create challenge", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *challengeRepository) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	challenge := new(models.Challenge)
	if err := r.db.NewSelect().Model(challenge).Where("c.id = ?", id).Scan(ctx); err != nil {
		return nil, handleError("get challenge", err)
	}
	return challenge, nil
}

func (r *challengeRepository) CreateParticipation(ctx context.Context, p *models.ChallengeParticipation) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	res, err := r.db.NewInsert().Model(p).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create participation", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *challengeRepository) GetParticipation(ctx context.Context, userID, challengeID uuid.UUID) (*models.ChallengeParticipation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	p := new(models.ChallengeParticipation)
	err := r.db.NewSelect().
		Model(p).
		Relation("Challenge").
		Where("cp.user_id = ? AND cp.challenge_id = ?", userID, challengeID).
		Scan(ctx)
	if err != nil {
		return nil, handleError("get participation", err)
	}
	return p, nil
}

func (r *challengeRepository) ListParticipations(ctx context.Context, userID uuid.UUID) ([]*models.ChallengeParticipation, error) {
	return r.participations(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("cp.user_id = ?", userID)
	})
}

func (r *challengeRepository) OpenParticipations(ctx context.Context, userID uuid.UUID) ([]*models.ChallengeParticipation, error) {
	return r.participations(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("cp.user_id = ? AND cp.completed = false", userID)
	})
}

func (r *challengeRepository) participations(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]*models.ChallengeParticipation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out := make([]*models.ChallengeParticipation, 0)
	q := r.db.NewSelect().Model(&out).Relation("Challenge").Order("cp.joined_at ASC")
	if err := filter(q).Scan(ctx); err != nil {
		return nil, handleError("list participations", err)
	}
	return out, nil
}

func (r *challengeRepository) UpdateParticipationProgress(ctx context.Context, id uuid.UUID, progress int64, completed bool, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := progressUpdate(r.db.NewUpdate().Model((*models.ChallengeParticipation)(nil)), progress, completed, at).
		Where("id = ?", id)
	return expectRow(q.Exec(ctx))
}

func (r *challengeRepository) CreateTeamProgress(ctx context.Context, p *models.TeamChallengeProgress) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.BaselineData == nil {
		p.BaselineData = make(map[string]models.Baseline)
	}
	res, err := r.db.NewInsert().Model(p).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return handleError("create team progress", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return firstErr(err, store.ErrDuplicate)
	}
	return nil
}

func (r *challengeRepository) GetTeamProgress(ctx context.Context, teamID, challengeID uuid.UUID) (*models.TeamChallengeProgress, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	p := new(models.TeamChallengeProgress)
	err := r.db.NewSelect().
		Model(p).
		Relation("Challenge").
		Where("tcp.team_id = ? AND tcp.challenge_id = ?", teamID, challengeID).
		Scan(ctx)
	if err != nil {
		return nil, handleError("get team progress", err)
	}
	return p, nil
}

func (r *challengeRepository) ListTeamProgress(ctx context.Context, teamID uuid.UUID) ([]*models.TeamChallengeProgress, error) {
	return r.teamProgress(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("tcp.team_id = ?", teamID)
	})
}

func (r *challengeRepository) OpenTeamProgress(ctx context.Context, teamIDs []uuid.UUID) ([]*models.TeamChallengeProgress, error) {
	if len(teamIDs) == 0 {
		return []*models.TeamChallengeProgress{}, nil
	}
	return r.teamProgress(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("tcp.team_id IN (?) AND tcp.completed = false", bun.In(teamIDs))
	})
}

func (r *challengeRepository) teamProgress(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]*models.TeamChallengeProgress, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out := make([]*models.TeamChallengeProgress, 0)
	q := r.db.NewSelect().Model(&out).Relation("Challenge").Order("tcp.joined_at ASC")
	if err := filter(q).Scan(ctx); err != nil {
		return nil, handleError("list team progress", err)
	}
	return out, nil
}

func (r *challengeRepository) SetMemberBaseline(ctx context.Context, id uuid.UUID, userID uuid.UUID, baseline models.Baseline) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q, err := setBaselineQuery(r.db, id, userID, baseline)
	if err != nil {
		return err
	}
	return expectRow(q.Exec(ctx))
}

// setBaselineQuery merges the member entry under the existing document, so a
// baseline that is already recorded wins.
func setBaselineQuery(db bun.IDB, id, userID uuid.UUID, baseline models.Baseline) (*bun.UpdateQuery, error) {
	doc, err := json.Marshal(baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to encode baseline: %w", err)
	}
	return db.NewUpdate().
		Model((*models.TeamChallengeProgress)(nil)).
		Set("baseline_data = jsonb_build_object(?::text, ?::jsonb) || baseline_data", userID.String(), string(doc)).
		Where("id = ?", id), nil
}

func (r *challengeRepository) UpdateTeamProgress(ctx context.Context, id uuid.UUID, progress int64, completed bool, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := progressUpdate(r.db.NewUpdate().Model((*models.TeamChallengeProgress)(nil)), progress, completed, at).
		Where("id = ?", id)
	return expectRow(q.Exec(ctx))
}

// progressUpdate writes progress while keeping completed sticky.
func progressUpdate(q *bun.UpdateQuery, progress int64, completed bool, at time.Time) *bun.UpdateQuery {
	return q.
		Set("current_progress = ?", progress).
		Set("completed_at = CASE WHEN completed THEN completed_at WHEN ? THEN ?::timestamptz END", completed, at).
		Set("completed = completed OR ?", completed).
		Set("updated_at = ?", at)
}

const activeUsersSQL = `
SELECT cp.user_id
FROM challenge_participations AS cp
JOIN challenges AS c ON c.id = cp.challenge_id
WHERE cp.completed = false AND c.ends_at > ?
UNION
SELECT tm.user_id
FROM team_challenge_progress AS tcp
JOIN challenges AS c ON c.id = tcp.challenge_id
JOIN team_members AS tm ON tm.team_id = tcp.team_id
WHERE tcp.completed = false AND c.ends_at > ?`

func (r *challengeRepository) ActiveUsers(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ids := make([]uuid.UUID, 0)
	if err := r.db.NewRaw(activeUsersSQL, now, now).Scan(ctx, &ids); err != nil {
		return nil, handleError("list active users", err)
	}
	return ids, nil
}
