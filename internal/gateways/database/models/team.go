package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Team struct {
	bun.BaseModel `bun:"table:teams,alias:t"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type TeamMember struct {
	bun.BaseModel `bun:"table:team_members,alias:tm"`

	TeamID       uuid.UUID  `bun:"team_id,pk,type:uuid"`
	UserID       uuid.UUID  `bun:"user_id,pk,type:uuid"`
	JoinedAt     time.Time  `bun:"joined_at,notnull"`
	LastActiveAt *time.Time `bun:"last_active_at"`
}

// TeamChallengeProgress aggregates a team's progress in a team challenge.
// BaselineData is keyed by member user id and captured when the member (or
// the team) joined.
type TeamChallengeProgress struct {
	bun.BaseModel `bun:"table:team_challenge_progress,alias:tcp"`

	ID              uuid.UUID           `bun:"id,pk,type:uuid"`
	TeamID          uuid.UUID           `bun:"team_id,notnull,type:uuid,unique:tcp_team_challenge"`
	ChallengeID     uuid.UUID           `bun:"challenge_id,notnull,type:uuid,unique:tcp_team_challenge"`
	BaselineData    map[string]Baseline `bun:"baseline_data,type:jsonb,notnull"`
	CurrentProgress int64               `bun:"current_progress,notnull,default:0"`
	Completed       bool                `bun:"completed,notnull,default:false"`
	CompletedAt     *time.Time          `bun:"completed_at"`
	JoinedAt        time.Time           `bun:"joined_at,notnull"`
	UpdatedAt       time.Time           `bun:"updated_at,notnull"`

	Challenge *Challenge `bun:"rel:belongs-to,join:challenge_id=id"`
}
