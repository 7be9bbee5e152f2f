// Package analytics turns completions into daily counters.
package analytics

import (
	"context"
	"time"

	"github.com/questline/progression/internal/domain/streak"
	"github.com/questline/progression/internal/gateways/database/models"
)

const TaskName = "analytics"

const (
	CounterQuests   = "quests_completed"
	CounterXP       = "xp_awarded"
	CounterGolden   = "golden_quests"
	CounterBoosted  = "boosted_quests"
	CounterLevelUps = "level_ups"
)

// Sink adds counters to the bucket of one civil day.
type Sink interface {
	Increment(ctx context.Context, day time.Time, counters map[string]int64) error
}

type Task struct {
	sink Sink
	loc  *time.Location
}

func NewTask(sink Sink, loc *time.Location) *Task {
	if loc == nil {
		loc = time.UTC
	}
	return &Task{sink: sink, loc: loc}
}

func (t *Task) Name() string { return TaskName }

func (t *Task) Run(ctx context.Context, run *models.TaskRun) error {
	return t.sink.Increment(ctx, streak.CivilDate(run.Payload.CompletedAt, t.loc), Counters(run.Payload))
}

// Counters derives the counter increments of one completion.
func Counters(p models.TaskPayload) map[string]int64 {
	c := map[string]int64{
		CounterQuests: 1,
		CounterXP:     p.XPAwarded,
	}
	if p.Golden {
		c[CounterGolden] = 1
	}
	if p.BoosterApplied {
		c[CounterBoosted] = 1
	}
	// The level before this award is derivable from the totals.
	if prev := p.TotalXP - p.XPAwarded; prev/1000 < p.TotalXP/1000 {
		c[CounterLevelUps] = 1
	}
	return c
}
