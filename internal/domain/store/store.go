// Package store declares the persistence contract of the progression engine.
// The bun gateway implements it against Postgres and the memory gateway
// implements it for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/gateways/database/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Store gives non-transactional access to every repository and runs
// functions inside one ACID transaction.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the repository set bound to one transaction (or to none, when used
// through Store directly).
type Tx interface {
	Profiles() ProfileRepository
	QuestLogs() QuestLogRepository
	Challenges() ChallengeRepository
	Teams() TeamRepository
	Rewards() RewardRepository
	Tasks() TaskRunRepository
	Leagues() LeagueRepository
	Referrals() ReferralRepository
	Items() ItemRepository
}

type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	Get(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	Update(ctx context.Context, profile *models.Profile) error
}

type QuestLogRepository interface {
	Create(ctx context.Context, log *models.QuestLog) error
	Get(ctx context.Context, id uuid.UUID) (*models.QuestLog, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.QuestLog, error)
	// MarkCompleted writes the completion fields only while completed_at is
	// still null. It reports whether the row was written.
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, reflection string, xpAwarded int64) (bool, error)
}

type ChallengeRepository interface {
	Create(ctx context.Context, challenge *models.Challenge) error
	Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error)

	// CreateParticipation returns ErrDuplicate when the user already joined.
	CreateParticipation(ctx context.Context, p *models.ChallengeParticipation) error
	GetParticipation(ctx context.Context, userID, challengeID uuid.UUID) (*models.ChallengeParticipation, error)
	ListParticipations(ctx context.Context, userID uuid.UUID) ([]*models.ChallengeParticipation, error)
	OpenParticipations(ctx context.Context, userID uuid.UUID) ([]*models.ChallengeParticipation, error)
	// UpdateParticipationProgress never flips completed back to false.
	UpdateParticipationProgress(ctx context.Context, id uuid.UUID, progress int64, completed bool, at time.Time) error

	// CreateTeamProgress returns ErrDuplicate when the team is already enrolled.
	CreateTeamProgress(ctx context.Context, p *models.TeamChallengeProgress) error
	GetTeamProgress(ctx context.Context, teamID, challengeID uuid.UUID) (*models.TeamChallengeProgress, error)
	ListTeamProgress(ctx context.Context, teamID uuid.UUID) ([]*models.TeamChallengeProgress, error)
	OpenTeamProgress(ctx context.Context, teamIDs []uuid.UUID) ([]*models.TeamChallengeProgress, error)
	// SetMemberBaseline records a baseline for a member only if none exists.
	SetMemberBaseline(ctx context.Context, id uuid.UUID, userID uuid.UUID, baseline models.Baseline) error
	UpdateTeamProgress(ctx context.Context, id uuid.UUID, progress int64, completed bool, at time.Time) error

	// ActiveUsers lists users with open work in challenges still running at now,
	// either directly or through a team.
	ActiveUsers(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	Get(ctx context.Context, id uuid.UUID) (*models.Team, error)
	// AddMember returns ErrDuplicate when the user is already a member.
	AddMember(ctx context.Context, member *models.TeamMember) error
	IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error)
	Members(ctx context.Context, teamID uuid.UUID) ([]*models.TeamMember, error)
	TeamsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	TouchMember(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type RewardRepository interface {
	// InsertLedger inserts the entry unless one exists for the same
	// (kind, subject, challenge). It reports whether this call inserted it.
	InsertLedger(ctx context.Context, entry *models.RewardLedger) (bool, error)
	LedgerFor(ctx context.Context, challengeID uuid.UUID) ([]*models.RewardLedger, error)
	AwardBadge(ctx context.Context, badge *models.UserBadge) (bool, error)
	Badges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error)
}

type TaskRunRepository interface {
	CreateBatch(ctx context.Context, runs []*models.TaskRun) error
	Get(ctx context.Context, id uuid.UUID) (*models.TaskRun, error)
	// ListRunnable returns pending runs and running runs started before
	// staleBefore, both with fewer than maxAttempts attempts.
	ListRunnable(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]*models.TaskRun, error)
	// Claim moves a runnable run to running and bumps its attempts. Only one
	// concurrent caller can win the claim.
	Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time, maxAttempts int) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, status string, lastErr *string, at time.Time) error
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.TaskRun, error)
	Delete(ctx context.Context, ids []uuid.UUID) (int, error)
}

type LeagueRepository interface {
	AddWeekly(ctx context.Context, userID uuid.UUID, weekStart time.Time, xp int64, quests int, at time.Time) error
	Get(ctx context.Context, userID uuid.UUID, weekStart time.Time) (*models.LeagueParticipant, error)
}

type ReferralRepository interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByReferee(ctx context.Context, refereeID uuid.UUID) (*models.Referral, error)
	// Complete flips a pending referral to completed. It reports whether this
	// call made the transition.
	Complete(ctx context.Context, id uuid.UUID, rewardXP int64, at time.Time) (bool, error)
}

type ItemRepository interface {
	Create(ctx context.Context, item *models.UserItem) error
	LastFromSource(ctx context.Context, userID uuid.UUID, source string) (*models.UserItem, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.UserItem, error)
}
