package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/questline/progression/internal/config"
	"github.com/questline/progression/internal/domain/analytics"
	"github.com/questline/progression/internal/domain/challenge"
	"github.com/questline/progression/internal/domain/drops"
	"github.com/questline/progression/internal/domain/fanout"
	"github.com/questline/progression/internal/domain/league"
	"github.com/questline/progression/internal/domain/progress"
	"github.com/questline/progression/internal/domain/progression"
	"github.com/questline/progression/internal/domain/referral"
	"github.com/questline/progression/internal/domain/store"
	analyticsgw "github.com/questline/progression/internal/gateways/analytics"
	"github.com/questline/progression/internal/gateways/database"
	"github.com/questline/progression/internal/gateways/database/repositories"
	"github.com/questline/progression/internal/gateways/memory"
)

// engine is the fully wired progression engine.
type engine struct {
	store       store.Store
	dispatcher  *fanout.Dispatcher
	progression *progression.Service
	challenges  *challenge.Service
	aggregator  *progress.Aggregator
	reconciler  *progress.Reconciler

	closers []func(context.Context) error
}

// openStore connects to Postgres and makes sure the schema exists. With
// inMemory set it returns a process-local store instead.
func openStore(ctx context.Context, c *config.Config, inMemory bool) (store.Store, func(context.Context) error, error) {
	if inMemory {
		log.Warn("Using the in-memory store; nothing will be persisted", slog.String("type", "sys"))
		return memory.New(), func(context.Context) error { return nil }, nil
	}

	start := time.Now()
	db, err := database.New(ctx, c.DB)
	if err != nil {
		return nil, nil, err
	}
	if err = db.InitializeSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("Database connected",
		slog.String("type", "db"),
		slog.String("database", c.DB.Database),
		slog.Duration("took", time.Since(start)),
	)

	s := repositories.NewStore(db.BunDB(), repositories.TxOptions{
		IsolationLevel: repositories.StandardTxOptions().IsolationLevel,
		Timeout:        c.Progression.TxTimeout.Duration,
	})
	return s, func(context.Context) error { db.Close(); return nil }, nil
}

func openSink(ctx context.Context, c *config.Config) (analytics.Sink, func(context.Context) error, error) {
	if !c.Analytics.Enabled() {
		return analyticsgw.NewNoopSink(log), func(context.Context) error { return nil }, nil
	}
	sink, err := analyticsgw.Connect(ctx, c.Analytics.MongoURI, c.Analytics.Database, c.Analytics.Collection)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect analytics sink: %w", err)
	}
	return sink, sink.Close, nil
}

func newEngine(ctx context.Context, c *config.Config, inMemory bool) (*engine, error) {
	loc, err := c.Progression.Location()
	if err != nil {
		return nil, err
	}

	e := &engine{}
	s, closeStore, err := openStore(ctx, c, inMemory)
	if err != nil {
		return nil, err
	}
	e.store = s
	e.closers = append(e.closers, closeStore)

	sink, closeSink, err := openSink(ctx, c)
	if err != nil {
		e.close(ctx)
		return nil, err
	}
	e.closers = append(e.closers, closeSink)

	registry := fanout.NewRegistry()
	e.dispatcher = fanout.NewDispatcher(s, registry, log, fanout.Options{
		Workers:      c.Fanout.Workers,
		TaskTimeout:  c.Fanout.TaskTimeout.Duration,
		PollInterval: c.Fanout.PollInterval.Duration,
		StaleAfter:   c.Fanout.StaleAfter.Duration,
		MaxAttempts:  c.Fanout.MaxAttempts,
		BatchSize:    c.Fanout.BatchSize,
	})

	e.progression = progression.NewService(s, e.dispatcher, log, progression.Options{
		Location:  loc,
		Tasks:     taskNames,
		TxTimeout: c.Progression.TxTimeout.Duration,
	})
	e.challenges = challenge.NewService(s, log, nil)
	e.aggregator = progress.NewAggregator(s, e.progression, log, progress.Options{
		CacheSize: c.Cache.ChallengeCacheSize,
		CacheTTL:  c.Cache.ChallengeTTL.Duration,
	})
	e.reconciler = progress.NewReconciler(s, e.aggregator, log, c.Reconcile.Parallelism)

	tasks := []fanout.Task{
		progress.NewTask(e.aggregator),
		league.NewTracker(s, loc),
		analytics.NewTask(sink, loc),
		referral.NewService(s, e.progression, c.Referral.RewardXP, log),
		drops.NewTask(drops.NewLocalRoller(s, drops.Options{
			Chance:   c.Drops.Chance,
			Cooldown: c.Drops.Cooldown.Duration,
			Items:    c.Drops.Items,
		}), log),
	}
	for _, t := range tasks {
		if err = registry.Register(t); err != nil {
			e.close(ctx)
			return nil, err
		}
	}
	return e, nil
}

// taskNames is the fan-out set enqueued for every completed quest.
var taskNames = []string{
	progress.TaskName,
	league.TaskName,
	analytics.TaskName,
	referral.TaskName,
	drops.TaskName,
}

func (e *engine) close(ctx context.Context) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			log.Warn("Failed to close resource", slog.Any("error", err))
		}
	}
}
