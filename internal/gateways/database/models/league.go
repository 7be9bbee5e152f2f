package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type LeagueParticipant struct {
	bun.BaseModel `bun:"table:league_participants,alias:lp"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	UserID          uuid.UUID `bun:"user_id,notnull,type:uuid,unique:lp_user_week"`
	WeekStart       time.Time `bun:"week_start,notnull,type:date,unique:lp_user_week"`
	XPEarned        int64     `bun:"xp_earned,notnull,default:0"`
	QuestsCompleted int       `bun:"quests_completed,notnull,default:0"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

const (
	ReferralPending   = "pending"
	ReferralCompleted = "completed"
)

type Referral struct {
	bun.BaseModel `bun:"table:referrals,alias:rf"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	ReferrerID  uuid.UUID  `bun:"referrer_id,notnull,type:uuid"`
	RefereeID   uuid.UUID  `bun:"referee_id,notnull,type:uuid,unique"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	RewardXP    int64      `bun:"reward_xp,notnull,default:0"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
}
