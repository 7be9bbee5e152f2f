package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// QuestLog is one assigned quest instance. CompletedAt and XPAwarded are
// written exactly once.
type QuestLog struct {
	bun.BaseModel `bun:"table:quest_logs,alias:ql"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	QuestID        string     `bun:"quest_id,notnull"`
	Title          string     `bun:"title,notnull"`
	AssignedFor    time.Time  `bun:"assigned_for,notnull,type:date"`
	CompletedAt    *time.Time `bun:"completed_at"`
	ReflectionText *string    `bun:"reflection_text"`
	XPAwarded      *int64     `bun:"xp_awarded"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func (q *QuestLog) Completed() bool {
	return q.CompletedAt != nil
}
