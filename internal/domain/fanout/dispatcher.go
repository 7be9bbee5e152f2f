package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/questline/progression/internal/logger"
	"golang.org/x/sync/semaphore"
)

type Options struct {
	Workers      int
	TaskTimeout  time.Duration
	PollInterval time.Duration
	// StaleAfter is how long a run may stay running before the poller
	// assumes its executor died and claims it again.
	StaleAfter  time.Duration
	MaxAttempts int
	BatchSize   int
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BatchSize < 1 {
		o.BatchSize = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Dispatcher struct {
	store    store.Tx
	registry *Registry
	log      *slog.Logger
	opts     Options
	sem      *semaphore.Weighted

	// base outlives request contexts so submitted runs finish after the
	// HTTP response has been written.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pollMu     sync.Mutex
	stopPoll   context.CancelFunc
	pollerDone chan struct{}
}

func NewDispatcher(s store.Tx, registry *Registry, log *slog.Logger, opts Options) *Dispatcher {
	opts.defaults()
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    s,
		registry: registry,
		log:      log,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		base:     base,
		cancel:   cancel,
	}
}

// Submit starts the given runs without waiting for them. Runs that find no
// free worker stay pending for the poller.
func (d *Dispatcher) Submit(runs []*models.TaskRun) {
	for _, run := range runs {
		if d.base.Err() != nil {
			return
		}
		if !d.sem.TryAcquire(1) {
			d.log.Debug("Worker pool saturated, leaving run for poller",
				slog.String("type", "task"),
				slog.String("run_id", run.ID.String()),
				slog.String("task", run.TaskName),
			)
			continue
		}
		d.spawn(run)
	}
}

func (d *Dispatcher) spawn(run *models.TaskRun) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.execute(d.base, run)
	}()
}

// Start launches the poller that picks up pending runs and runs left running
// by a dead process.
func (d *Dispatcher) Start(ctx context.Context) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	if d.stopPoll != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.stopPoll = cancel
	d.pollerDone = make(chan struct{})

	go func() {
		defer close(d.pollerDone)
		ticker := time.NewTicker(d.opts.PollInterval)
		defer ticker.Stop()

		d.log.Info("Fan-out poller started",
			slog.String("type", "sys"),
			slog.Int("workers", d.opts.Workers),
			slog.Duration("interval", d.opts.PollInterval),
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
					d.log.Warn("Fan-out poll failed", slog.String("type", "task"), slog.Any("error", err))
				}
			}
		}
	}()
}

// Poll hands one batch of runnable runs to the pool, blocking while the pool
// is full. It returns how many runs were started.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	now := d.opts.Now()
	runs, err := d.store.Tasks().ListRunnable(ctx, now.Add(-d.opts.StaleAfter), d.opts.MaxAttempts, d.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list runnable tasks: %w", err)
	}

	started := 0
	for _, run := range runs {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return started, err
		}
		if d.base.Err() != nil {
			d.sem.Release(1)
			return started, ErrShutdown
		}
		d.spawn(run)
		started++
	}
	return started, nil
}

// Wait blocks until every started run has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops the poller and waits for in-flight runs. Runs still going
// when ctx expires are cancelled; their rows stay running and are reclaimed
// after StaleAfter.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.pollMu.Lock()
	if d.stopPoll != nil {
		d.stopPoll()
		<-d.pollerDone
	}
	d.pollMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("fan-out shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) execute(ctx context.Context, run *models.TaskRun) {
	now := d.opts.Now()
	claimed, err := d.store.Tasks().Claim(ctx, run.ID, now, now.Add(-d.opts.StaleAfter), d.opts.MaxAttempts)
	if err != nil {
		d.log.Warn("Failed to claim task run",
			slog.String("type", "task"),
			slog.String("run_id", run.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	if !claimed {
		return
	}
	attempt := run.Attempts + 1

	start := time.Now()
	runErr := d.run(ctx, run)
	logger.LogTask(d.log, run.TaskName, run.ID.String(), attempt, time.Since(start), runErr)

	status := models.TaskStatusSucceeded
	var lastErr *string
	if runErr != nil {
		status = models.TaskStatusFailed
		msg := runErr.Error()
		lastErr = &msg
	}

	// The outcome is recorded even when the run was cut short by shutdown.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.Tasks().Finish(finishCtx, run.ID, status, lastErr, d.opts.Now()); err != nil {
		d.log.Error("Failed to record task outcome",
			slog.String("type", "task"),
			slog.String("run_id", run.ID.String()),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) run(ctx context.Context, run *models.TaskRun) (err error) {
	task, ok := d.registry.Get(run.TaskName)
	if !ok {
		return &UnknownTaskError{Name: run.TaskName}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Task panic",
				slog.String("type", "task"),
				slog.String("run_id", run.ID.String()),
				slog.String("task", run.TaskName),
				slog.Any("panic", r),
			)
			err = &PanicError{Value: r}
		}
	}()
	return task.Run(ctx, run)
}

type UnknownTaskError struct{ Name string }

func (e *UnknownTaskError) Error() string { return "no task registered for " + e.Name }

type PanicError struct{ Value any }

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

var ErrShutdown = errors.New("dispatcher is shut down")
