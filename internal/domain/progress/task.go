package progress

import (
	"context"
	"log/slog"

	"github.com/questline/progression/internal/gateways/database/models"
)

const TaskName = "challenge_progress"

// Task runs the aggregator as a fan-out task of a quest completion.
type Task struct {
	aggregator *Aggregator
}

func NewTask(aggregator *Aggregator) *Task {
	return &Task{aggregator: aggregator}
}

func (t *Task) Name() string { return TaskName }

func (t *Task) Run(ctx context.Context, run *models.TaskRun) error {
	report, err := t.aggregator.RecomputeForUser(ctx, run.UserID)
	if err != nil {
		return err
	}
	if report.Completed > 0 {
		t.aggregator.log.Debug("Progress recomputed",
			slog.String("run_id", run.ID.String()),
			slog.Int("completed", report.Completed),
			slog.Int("rewarded", report.Rewarded),
		)
	}
	return nil
}
