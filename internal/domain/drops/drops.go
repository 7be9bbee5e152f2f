// Package drops rolls the rare cosmetic drop that may follow a completion.
package drops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

const (
	TaskName = "rare_drop"
	Source   = "rare_drop"

	TriggerQuest  = "quest_completion"
	TriggerGolden = "golden_quest"
)

type Drop struct {
	Dropped bool
	Item    string
}

// Roller decides whether a user receives a drop. Implementations own the
// probability and cooldown policy.
type Roller interface {
	Roll(ctx context.Context, userID uuid.UUID, trigger string) (Drop, error)
}

type Options struct {
	Chance   float64
	Cooldown time.Duration
	Items    []string
	// Source of randomness; seeded from the runtime when nil.
	Rand *rand.Rand
	Now  func() time.Time
}

// LocalRoller draws from a fixed item pool with a per-user cooldown that is
// read from the last stored drop. Golden quests double the chance.
type LocalRoller struct {
	store store.Store
	opts  Options

	mu sync.Mutex
}

func NewLocalRoller(s store.Store, opts Options) *LocalRoller {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LocalRoller{store: s, opts: opts}
}

// Roll runs the cooldown check and the insert in one transaction holding the
// user's profile lock, so overlapping rolls for one user see each other's drop.
func (r *LocalRoller) Roll(ctx context.Context, userID uuid.UUID, trigger string) (Drop, error) {
	if len(r.opts.Items) == 0 || r.opts.Chance <= 0 {
		return Drop{}, nil
	}

	chance := r.opts.Chance
	if trigger == TriggerGolden {
		chance = min(chance*2, 1)
	}

	var drop Drop
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		drop = Drop{}
		if _, err := tx.Profiles().GetForUpdate(ctx, userID); err != nil {
			return fmt.Errorf("failed to lock profile: %w", err)
		}

		now := r.opts.Now()
		last, err := tx.Items().LastFromSource(ctx, userID, Source)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return fmt.Errorf("failed to read last drop: %w", err)
		case now.Sub(last.AcquiredAt) < r.opts.Cooldown:
			return nil
		}

		r.mu.Lock()
		hit := r.opts.Rand.Float64() < chance
		item := r.opts.Items[r.opts.Rand.IntN(len(r.opts.Items))]
		r.mu.Unlock()
		if !hit {
			return nil
		}

		if err = tx.Items().Create(ctx, &models.UserItem{
			ID:         uuid.New(),
			UserID:     userID,
			ItemID:     item,
			Source:     Source,
			AcquiredAt: now,
		}); err != nil {
			return fmt.Errorf("failed to store drop: %w", err)
		}
		drop = Drop{Dropped: true, Item: item}
		return nil
	})
	if err != nil {
		return Drop{}, err
	}
	return drop, nil
}

// Task adapts a Roller to the fan-out pool. A failing roller only fails the
// task run.
type Task struct {
	roller Roller
	log    *slog.Logger
}

func NewTask(roller Roller, log *slog.Logger) *Task {
	return &Task{roller: roller, log: log}
}

func (t *Task) Name() string { return TaskName }

func (t *Task) Run(ctx context.Context, run *models.TaskRun) error {
	trigger := TriggerQuest
	if run.Payload.Golden {
		trigger = TriggerGolden
	}
	drop, err := t.roller.Roll(ctx, run.UserID, trigger)
	if err != nil {
		return fmt.Errorf("drop roll: %w", err)
	}
	if drop.Dropped {
		t.log.Info("Rare drop",
			slog.String("user_id", run.UserID.String()),
			slog.String("item", drop.Item),
			slog.String("trigger", trigger),
		)
	}
	return nil
}
