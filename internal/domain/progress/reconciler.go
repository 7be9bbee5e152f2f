package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/questline/progression/internal/domain/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Reconciler bounds the window in which a failed fan-out leaves challenge
// progress stale by periodically recomputing every active user.
type Reconciler struct {
	store       store.Store
	aggregator  *Aggregator
	log         *slog.Logger
	parallelism int
	now         func() time.Time
}

func NewReconciler(s store.Store, aggregator *Aggregator, log *slog.Logger, parallelism int) *Reconciler {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Reconciler{
		store:       s,
		aggregator:  aggregator,
		log:         log,
		parallelism: parallelism,
		now:         aggregator.now,
	}
}

type SweepResult struct {
	Users  int
	Failed int
	Report Report
}

// Sweep recomputes progress for every user with open work in a running
// challenge. A failure for one user is logged and does not stop the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	users, err := r.store.Challenges().ActiveUsers(ctx, r.now())
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list active users: %w", err)
	}

	var (
		failed                       atomic.Int64
		updated, completed, rewarded atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(r.parallelism))

	for _, userID := range users {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			report, err := r.aggregator.RecomputeForUser(gctx, userID)
			if err != nil {
				failed.Add(1)
				r.log.Warn("Reconcile failed for user",
					slog.String("user_id", userID.String()),
					slog.Any("error", err),
				)
				return nil
			}
			updated.Add(int64(report.Updated))
			completed.Add(int64(report.Completed))
			rewarded.Add(int64(report.Rewarded))
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return SweepResult{}, fmt.Errorf("reconcile sweep interrupted: %w", err)
	}

	result := SweepResult{
		Users:  len(users),
		Failed: int(failed.Load()),
		Report: Report{
			Updated:   int(updated.Load()),
			Completed: int(completed.Load()),
			Rewarded:  int(rewarded.Load()),
		},
	}
	r.log.Info("Reconcile sweep finished",
		slog.String("type", "sys"),
		slog.Int("users", result.Users),
		slog.Int("failed", result.Failed),
		slog.Int("updated", result.Report.Updated),
		slog.Int("completed", result.Report.Completed),
		slog.Int("rewarded", result.Report.Rewarded),
		slog.Duration("took", time.Since(start)),
	)
	return result, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("Reconcile sweep failed", slog.Any("error", err))
			}
		}
	}
}
