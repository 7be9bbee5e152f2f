package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is the per-user progression aggregate. Only the progression service
// writes it.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	ID                   uuid.UUID  `bun:"id,pk,type:uuid"`
	Username             string     `bun:"username,notnull"`
	XP                   int64      `bun:"xp,notnull,default:0"`
	Level                int        `bun:"level,notnull,default:1"`
	Streak               int        `bun:"streak,notnull,default:0"`
	LastQuestDate        *time.Time `bun:"last_quest_date,type:date"`
	TotalQuestsCompleted int        `bun:"total_quests_completed,notnull,default:0"`

	// Snapshot of the last broken streak, kept for the recovery window.
	StreakLostAt    *time.Time `bun:"streak_lost_at"`
	LastStreakCount *int       `bun:"last_streak_count"`

	XPBoosterActive       bool       `bun:"xp_booster_active,notnull,default:false"`
	XPBoosterExpiresAt    *time.Time `bun:"xp_booster_expires_at"`
	StreakFreezeActive    bool       `bun:"streak_freeze_active,notnull,default:false"`
	StreakFreezeExpiresAt *time.Time `bun:"streak_freeze_expires_at"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Counters is the cumulative state challenge baselines are taken from.
func (p *Profile) Counters() Baseline {
	return Baseline{
		Quests: p.TotalQuestsCompleted,
		XP:     p.XP,
		Streak: p.Streak,
	}
}

// Baseline is a snapshot of a user's cumulative counters.
type Baseline struct {
	Quests int   `json:"quests"`
	XP     int64 `json:"xp"`
	Streak int   `json:"streak"`
}
