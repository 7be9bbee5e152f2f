package progression

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/modifier"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/domain/streak"
	"github.com/questline/progression/internal/domain/xp"
	"github.com/questline/progression/internal/gateways/database/models"
)

const (
	MinReflectionLength = 15
	MaxReflectionLength = 5000
)

// Dispatcher receives the fan-out runs of a committed completion. Submit
// must not block on task execution.
type Dispatcher interface {
	Submit(runs []*models.TaskRun)
}

type Options struct {
	Location *time.Location
	// Tasks names the fan-out tasks enqueued for every completion.
	Tasks     []string
	TxTimeout time.Duration
	Now       func() time.Time
}

type Service struct {
	store      store.Store
	dispatcher Dispatcher
	log        *slog.Logger
	opts       Options
}

func NewService(s store.Store, dispatcher Dispatcher, log *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      s,
		dispatcher: dispatcher,
		log:        log,
		opts:       opts,
	}
}

type CompleteRequest struct {
	UserID     uuid.UUID
	LogID      uuid.UUID
	Reflection string
	Golden     bool
}

type CompleteResult struct {
	XPAwarded        int64        `json:"xp_awarded"`
	Streak           int          `json:"streak"`
	TotalXP          int64        `json:"total_xp"`
	Level            int          `json:"level"`
	XPBoosterApplied bool         `json:"xp_booster_applied"`
	Golden           bool         `json:"golden"`
	StreakState      streak.State `json:"-"`
	FreezeConsumed   bool         `json:"freeze_consumed"`
	TaskRunIDs       []uuid.UUID  `json:"task_run_ids"`
}

// CompleteQuest records the completion of one quest log and applies its
// streak and XP effects to the owner's profile in a single transaction. The
// fan-out runs are written in the same transaction and handed to the
// dispatcher only after commit.
func (s *Service) CompleteQuest(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if s.opts.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TxTimeout)
		defer cancel()
	}

	var (
		result *CompleteResult
		runs   []*models.TaskRun
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err := tx.QuestLogs().GetForUpdate(ctx, req.LogID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return persistence("load quest log", err)
		}
		if entry.UserID != req.UserID {
			return ErrNotFound
		}

		reflection, err := validateReflection(req.Reflection)
		if err != nil {
			return err
		}
		if entry.Completed() {
			return ErrAlreadyCompleted
		}

		profile, err := tx.Profiles().GetForUpdate(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return persistence("load profile", err)
		}

		now := s.opts.Now()
		booster := modifier.Evaluate(profile.XPBoosterActive, profile.XPBoosterExpiresAt, now)
		booster.Apply(&profile.XPBoosterActive, &profile.XPBoosterExpiresAt)
		freeze := modifier.Evaluate(profile.StreakFreezeActive, profile.StreakFreezeExpiresAt, now)
		freeze.Apply(&profile.StreakFreezeActive, &profile.StreakFreezeExpiresAt)

		outcome := streak.Transition(streak.Input{
			LastQuestDate: profile.LastQuestDate,
			Now:           now,
			Location:      s.opts.Location,
			PriorStreak:   profile.Streak,
			FreezeActive:  freeze.Active,
			LostAt:        profile.StreakLostAt,
			LostCount:     profile.LastStreakCount,
		})
		if outcome.FreezeConsumed {
			modifier.Consume(&profile.StreakFreezeActive, &profile.StreakFreezeExpiresAt)
		}

		award := xp.Award(outcome.Streak, booster.Active, req.Golden)
		total, level := xp.Apply(profile.XP, award)

		written, err := tx.QuestLogs().MarkCompleted(ctx, entry.ID, now, reflection, award)
		if err != nil {
			return persistence("complete quest log", err)
		}
		if !written {
			return ErrAlreadyCompleted
		}

		profile.XP = total
		profile.Level = level
		profile.Streak = outcome.Streak
		profile.LastQuestDate = &outcome.Today
		profile.TotalQuestsCompleted++
		profile.StreakLostAt = outcome.LostAt
		profile.LastStreakCount = outcome.LostCount
		if err = tx.Profiles().Update(ctx, profile); err != nil {
			return persistence("update profile", err)
		}

		runs = s.newRuns(profile, entry.ID, award, booster.Active, req.Golden, now)
		if len(runs) > 0 {
			if err = tx.Tasks().CreateBatch(ctx, runs); err != nil {
				return persistence("enqueue fan-out", err)
			}
		}

		result = &CompleteResult{
			XPAwarded:        award,
			Streak:           outcome.Streak,
			TotalXP:          total,
			Level:            level,
			XPBoosterApplied: booster.Active,
			Golden:           req.Golden,
			StreakState:      outcome.State,
			FreezeConsumed:   outcome.FreezeConsumed,
			TaskRunIDs:       runIDs(runs),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Quest completed",
		slog.String("user_id", req.UserID.String()),
		slog.String("log_id", req.LogID.String()),
		slog.Int64("xp_awarded", result.XPAwarded),
		slog.Int("streak", result.Streak),
		slog.String("streak_state", result.StreakState.String()),
		slog.Bool("booster", result.XPBoosterApplied),
		slog.Bool("golden", result.Golden),
	)

	if s.dispatcher != nil && len(runs) > 0 {
		s.dispatcher.Submit(runs)
	}
	return result, nil
}

func (s *Service) newRuns(profile *models.Profile, logID uuid.UUID, award int64, booster, golden bool, now time.Time) []*models.TaskRun {
	payload := models.TaskPayload{
		LogID:          logID,
		XPAwarded:      award,
		TotalXP:        profile.XP,
		Level:          profile.Level,
		Streak:         profile.Streak,
		TotalQuests:    profile.TotalQuestsCompleted,
		Golden:         golden,
		BoosterApplied: booster,
		CompletedAt:    now,
	}

	runs := make([]*models.TaskRun, 0, len(s.opts.Tasks))
	for _, name := range s.opts.Tasks {
		runs = append(runs, &models.TaskRun{
			ID:        uuid.New(),
			TaskName:  name,
			UserID:    profile.ID,
			Payload:   payload,
			Status:    models.TaskStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return runs
}

func runIDs(runs []*models.TaskRun) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}

func validateReflection(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n < MinReflectionLength:
		return "", &ValidationError{Field: "reflection", Reason: "must be at least 15 characters"}
	case n > MaxReflectionLength:
		return "", &ValidationError{Field: "reflection", Reason: "must be at most 5000 characters"}
	}
	return trimmed, nil
}

// GrantXP adds XP outside of a quest completion, for challenge rewards and
// referrals. It must run inside tx so the grant commits with whatever
// justified it.
func (s *Service) GrantXP(ctx context.Context, tx store.Tx, userID uuid.UUID, amount int64) (*models.Profile, error) {
	profile, err := tx.Profiles().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return profile, nil
	}
	profile.XP, profile.Level = xp.Apply(profile.XP, amount)
	if err = tx.Profiles().Update(ctx, profile); err != nil {
		return nil, persistence("grant xp", err)
	}
	return profile, nil
}
