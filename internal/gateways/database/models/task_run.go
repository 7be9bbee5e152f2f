package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// TaskRun is a persisted fan-out task. Rows are written in the same
// transaction as the quest completion that produced them.
type TaskRun struct {
	bun.BaseModel `bun:"table:task_runs,alias:tr"`

	ID         uuid.UUID   `bun:"id,pk,type:uuid"`
	TaskName   string      `bun:"task_name,notnull"`
	UserID     uuid.UUID   `bun:"user_id,notnull,type:uuid"`
	Payload    TaskPayload `bun:"payload,type:jsonb,notnull"`
	Status     string      `bun:"status,notnull,default:'pending'"`
	Attempts   int         `bun:"attempts,notnull,default:0"`
	LastError  *string     `bun:"last_error"`
	CreatedAt  time.Time   `bun:"created_at,notnull"`
	StartedAt  *time.Time  `bun:"started_at"`
	FinishedAt *time.Time  `bun:"finished_at"`
	UpdatedAt  time.Time   `bun:"updated_at,notnull"`
}

func (t *TaskRun) Finished() bool {
	return t.Status == TaskStatusSucceeded || t.Status == TaskStatusFailed
}

// TaskPayload carries the completion facts every fan-out task may need, so
// tasks never reach back into request state.
type TaskPayload struct {
	LogID          uuid.UUID `json:"log_id"`
	XPAwarded      int64     `json:"xp_awarded"`
	TotalXP        int64     `json:"total_xp"`
	Level          int       `json:"level"`
	Streak         int       `json:"streak"`
	TotalQuests    int       `json:"total_quests"`
	Golden         bool      `json:"golden"`
	BoosterApplied bool      `json:"booster_applied"`
	CompletedAt    time.Time `json:"completed_at"`
}
