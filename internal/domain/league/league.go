// Package league tracks weekly participation for leaderboards.
package league

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/domain/streak"
	"github.com/questline/progression/internal/gateways/database/models"
)

const TaskName = "league_participation"

// WeekStart returns the Monday of the week containing t in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	day := streak.CivilDate(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

type Tracker struct {
	store store.Store
	loc   *time.Location
}

func NewTracker(s store.Store, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: s, loc: loc}
}

// Record adds one completion to the user's weekly row and marks them active
// in their teams.
func (t *Tracker) Record(ctx context.Context, userID uuid.UUID, xp int64, at time.Time) error {
	return t.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Leagues().AddWeekly(ctx, userID, WeekStart(at, t.loc), xp, 1, at); err != nil {
			return fmt.Errorf("failed to update weekly league: %w", err)
		}
		if err := tx.Teams().TouchMember(ctx, userID, at); err != nil {
			return fmt.Errorf("failed to touch team membership: %w", err)
		}
		return nil
	})
}

func (t *Tracker) Name() string { return TaskName }

func (t *Tracker) Run(ctx context.Context, run *models.TaskRun) error {
	return t.Record(ctx, run.UserID, run.Payload.XPAwarded, run.Payload.CompletedAt)
}
