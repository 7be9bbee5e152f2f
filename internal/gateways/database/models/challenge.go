package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	TargetQuests = "quests"
	TargetXP     = "xp"
	TargetStreak = "streak"
)

type Challenge struct {
	bun.BaseModel `bun:"table:challenges,alias:c"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	Title         string    `bun:"title,notnull"`
	TargetType    string    `bun:"target_type,notnull"` // quests, xp, streak
	TargetValue   int64     `bun:"target_value,notnull"`
	IsTeam        bool      `bun:"is_team,notnull,default:false"`
	RewardXP      int64     `bun:"reward_xp,notnull,default:0"`
	RewardBadgeID *string   `bun:"reward_badge_id"`
	StartsAt      time.Time `bun:"starts_at,notnull"`
	EndsAt        time.Time `bun:"ends_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (c *Challenge) Ended(now time.Time) bool {
	return !now.Before(c.EndsAt)
}

// ChallengeParticipation tracks one user's progress in an individual challenge.
type ChallengeParticipation struct {
	bun.BaseModel `bun:"table:challenge_participations,alias:cp"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid"`
	UserID          uuid.UUID  `bun:"user_id,notnull,type:uuid,unique:cp_user_challenge"`
	ChallengeID     uuid.UUID  `bun:"challenge_id,notnull,type:uuid,unique:cp_user_challenge"`
	BaselineQuests  int        `bun:"baseline_quests,notnull"`
	BaselineXP      int64      `bun:"baseline_xp,notnull"`
	BaselineStreak  int        `bun:"baseline_streak,notnull"`
	CurrentProgress int64      `bun:"current_progress,notnull,default:0"`
	Completed       bool       `bun:"completed,notnull,default:false"`
	CompletedAt     *time.Time `bun:"completed_at"`
	JoinedAt        time.Time  `bun:"joined_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`

	Challenge *Challenge `bun:"rel:belongs-to,join:challenge_id=id"`
}

func (p *ChallengeParticipation) Baseline() Baseline {
	return Baseline{
		Quests: p.BaselineQuests,
		XP:     p.BaselineXP,
		Streak: p.BaselineStreak,
	}
}
