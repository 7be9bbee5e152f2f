package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	LedgerKindUser = "user"
	LedgerKindTeam = "team"
)

// RewardLedger holds one row per rewarded (subject, challenge) pair. The unique
// key is what makes reward issuance exactly-once.
type RewardLedger struct {
	bun.BaseModel `bun:"table:reward_ledger,alias:rl"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	Kind        string     `bun:"kind,notnull,unique:rl_subject_challenge"`
	SubjectID   uuid.UUID  `bun:"subject_id,notnull,type:uuid,unique:rl_subject_challenge"`
	ChallengeID uuid.UUID  `bun:"challenge_id,notnull,type:uuid,unique:rl_subject_challenge"`
	TeamID      *uuid.UUID `bun:"team_id,type:uuid"`
	RewardXP    int64      `bun:"reward_xp,notnull,default:0"`
	BadgeID     *string    `bun:"badge_id"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
}

type UserBadge struct {
	bun.BaseModel `bun:"table:user_badges,alias:ub"`

	UserID    uuid.UUID `bun:"user_id,pk,type:uuid"`
	BadgeID   string    `bun:"badge_id,pk"`
	AwardedAt time.Time `bun:"awarded_at,notnull"`
}

type UserItem struct {
	bun.BaseModel `bun:"table:user_items,alias:ui"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	UserID     uuid.UUID `bun:"user_id,notnull,type:uuid"`
	ItemID     string    `bun:"item_id,notnull"`
	Source     string    `bun:"source,notnull"`
	AcquiredAt time.Time `bun:"acquired_at,notnull"`
}
