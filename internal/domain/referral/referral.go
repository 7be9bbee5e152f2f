// Package referral completes a pending referral when the referred user
// finishes their first quest.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

const TaskName = "referral_completion"

type Granter interface {
	GrantXP(ctx context.Context, tx store.Tx, userID uuid.UUID, amount int64) (*models.Profile, error)
}

type Service struct {
	store    store.Store
	granter  Granter
	rewardXP int64
	log      *slog.Logger
	now      func() time.Time
}

func NewService(s store.Store, granter Granter, rewardXP int64, log *slog.Logger) *Service {
	return &Service{
		store:    s,
		granter:  granter,
		rewardXP: rewardXP,
		log:      log,
		now:      time.Now,
	}
}

// Complete flips the referee's pending referral and credits the referrer. It
// reports whether this call completed it; a missing or already completed
// referral is not an error.
func (s *Service) Complete(ctx context.Context, refereeID uuid.UUID) (bool, error) {
	completed := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ref, err := tx.Referrals().GetByReferee(ctx, refereeID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load referral: %w", err)
		}
		if ref.Status != models.ReferralPending {
			return nil
		}

		ok, err := tx.Referrals().Complete(ctx, ref.ID, s.rewardXP, s.now())
		if err != nil {
			return fmt.Errorf("failed to complete referral: %w", err)
		}
		if !ok {
			return nil
		}
		if _, err = s.granter.GrantXP(ctx, tx, ref.ReferrerID, s.rewardXP); err != nil {
			return fmt.Errorf("failed to reward referrer: %w", err)
		}
		completed = true
		s.log.Info("Referral completed",
			slog.String("referrer_id", ref.ReferrerID.String()),
			slog.String("referee_id", refereeID.String()),
			slog.Int64("reward_xp", s.rewardXP),
		)
		return nil
	})
	return completed, err
}

func (s *Service) Name() string { return TaskName }

// Run only acts on the referee's first completed quest.
func (s *Service) Run(ctx context.Context, run *models.TaskRun) error {
	if run.Payload.TotalQuests != 1 {
		return nil
	}
	_, err := s.Complete(ctx, run.UserID)
	return err
}
