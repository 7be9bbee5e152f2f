// Package progress recomputes challenge progress from baselines and issues
// completion rewards exactly once per (subject, challenge) through the
// reward ledger.
package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = time.Minute
)

// Granter credits XP inside a transaction and keeps the level in sync.
type Granter interface {
	GrantXP(ctx context.Context, tx store.Tx, userID uuid.UUID, amount int64) (*models.Profile, error)
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

type Aggregator struct {
	store   store.Store
	granter Granter
	log     *slog.Logger
	cache   *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

type cachedChallenge struct {
	challenge *models.Challenge
	fetchedAt time.Time
}

func NewAggregator(s store.Store, granter Granter, log *slog.Logger, opts Options) *Aggregator {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache, _ := lru.New(opts.CacheSize)
	return &Aggregator{
		store:   s,
		granter: granter,
		log:     log,
		cache:   cache,
		ttl:     opts.CacheTTL,
		now:     opts.Now,
	}
}

// Report summarizes one recomputation.
type Report struct {
	Updated   int
	Completed int
	Rewarded  int
}

func (r *Report) add(o Report) {
	r.Updated += o.Updated
	r.Completed += o.Completed
	r.Rewarded += o.Rewarded
}

// RecomputeForUser refreshes every open participation of the user, directly
// or through one of their teams.
func (a *Aggregator) RecomputeForUser(ctx context.Context, userID uuid.UUID) (Report, error) {
	var report Report

	profile, err := a.store.Profiles().Get(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to load profile: %w", err)
	}

	participations, err := a.store.Challenges().OpenParticipations(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to list participations: %w", err)
	}
	for _, p := range participations {
		r, err := a.recomputeIndividual(ctx, profile, p)
		if err != nil {
			return report, err
		}
		report.add(r)
	}

	teamIDs, err := a.store.Teams().TeamsOf(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to list teams: %w", err)
	}
	if len(teamIDs) == 0 {
		return report, nil
	}
	teamProgress, err := a.store.Challenges().OpenTeamProgress(ctx, teamIDs)
	if err != nil {
		return report, fmt.Errorf("failed to list team progress: %w", err)
	}
	for _, tp := range teamProgress {
		r, err := a.recomputeTeam(ctx, tp)
		if err != nil {
			return report, err
		}
		report.add(r)
	}
	return report, nil
}

func (a *Aggregator) recomputeIndividual(ctx context.Context, profile *models.Profile, p *models.ChallengeParticipation) (Report, error) {
	var report Report

	ch, err := a.challenge(ctx, p.ChallengeID)
	if err != nil {
		return report, err
	}
	now := a.now()
	if ch.Ended(now) {
		return report, nil
	}

	progress := Individual(ch.TargetType, profile.Counters(), p.Baseline())
	if progress < ch.TargetValue {
		if progress == p.CurrentProgress {
			return report, nil
		}
		if err = a.store.Challenges().UpdateParticipationProgress(ctx, p.ID, progress, false, now); err != nil {
			return report, fmt.Errorf("failed to update participation: %w", err)
		}
		report.Updated++
		return report, nil
	}

	rewarded := false
	err = a.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Challenges().UpdateParticipationProgress(ctx, p.ID, progress, true, now); err != nil {
			return fmt.Errorf("failed to complete participation: %w", err)
		}
		var err error
		rewarded, err = a.reward(ctx, tx, ch, p.UserID, nil, now)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	report.Updated++
	report.Completed++
	if rewarded {
		report.Rewarded++
	}
	a.log.Info("Challenge completed",
		slog.String("user_id", p.UserID.String()),
		slog.String("challenge_id", ch.ID.String()),
		slog.Int64("progress", progress),
		slog.Bool("rewarded", rewarded),
	)
	return report, nil
}

func (a *Aggregator) recomputeTeam(ctx context.Context, tp *models.TeamChallengeProgress) (Report, error) {
	var report Report

	ch, err := a.challenge(ctx, tp.ChallengeID)
	if err != nil {
		return report, err
	}
	now := a.now()
	if ch.Ended(now) {
		return report, nil
	}

	members, err := a.store.Teams().Members(ctx, tp.TeamID)
	if err != nil {
		return report, fmt.Errorf("failed to list team members: %w", err)
	}

	states := make([]MemberState, 0, len(members))
	for _, m := range members {
		profile, err := a.store.Profiles().Get(ctx, m.UserID)
		if err != nil {
			return report, fmt.Errorf("failed to load member profile: %w", err)
		}
		baseline, ok := tp.BaselineData[m.UserID.String()]
		if !ok {
			// Members that predate baseline capture start counting now.
			baseline = profile.Counters()
			if err = a.store.Challenges().SetMemberBaseline(ctx, tp.ID, m.UserID, baseline); err != nil {
				return report, fmt.Errorf("failed to capture member baseline: %w", err)
			}
		}
		states = append(states, MemberState{Current: profile.Counters(), Baseline: baseline})
	}

	progress := Team(ch.TargetType, states)
	if progress < ch.TargetValue {
		if progress == tp.CurrentProgress {
			return report, nil
		}
		if err = a.store.Challenges().UpdateTeamProgress(ctx, tp.ID, progress, false, now); err != nil {
			return report, fmt.Errorf("failed to update team progress: %w", err)
		}
		report.Updated++
		return report, nil
	}

	granted := 0
	err = a.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		granted = 0
		if err := tx.Challenges().UpdateTeamProgress(ctx, tp.ID, progress, true, now); err != nil {
			return fmt.Errorf("failed to complete team progress: %w", err)
		}
		inserted, err := tx.Rewards().InsertLedger(ctx, &models.RewardLedger{
			ID:          uuid.New(),
			Kind:        models.LedgerKindTeam,
			SubjectID:   tp.TeamID,
			ChallengeID: ch.ID,
			TeamID:      &tp.TeamID,
			RewardXP:    ch.RewardXP,
			BadgeID:     ch.RewardBadgeID,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("failed to write team ledger: %w", err)
		}
		if !inserted {
			return nil
		}

		current, err := tx.Teams().Members(ctx, tp.TeamID)
		if err != nil {
			return fmt.Errorf("failed to list team members: %w", err)
		}
		// Profiles are locked in user_id order so teams sharing members
		// cannot deadlock each other.
		sortByUserID(current)
		for _, m := range current {
			ok, err := a.reward(ctx, tx, ch, m.UserID, &tp.TeamID, now)
			if err != nil {
				return err
			}
			if ok {
				granted++
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	report.Updated++
	report.Completed++
	report.Rewarded += granted
	a.log.Info("Team challenge completed",
		slog.String("team_id", tp.TeamID.String()),
		slog.String("challenge_id", ch.ID.String()),
		slog.Int64("progress", progress),
		slog.Int("members_rewarded", granted),
	)
	return report, nil
}

func sortByUserID(members []*models.TeamMember) {
	slices.SortFunc(members, func(a, b *models.TeamMember) int {
		return bytes.Compare(a.UserID[:], b.UserID[:])
	})
}

// reward writes the ledger entry first and grants only when this call
// inserted it, so concurrent recomputations grant at most once.
func (a *Aggregator) reward(ctx context.Context, tx store.Tx, ch *models.Challenge, userID uuid.UUID, teamID *uuid.UUID, now time.Time) (bool, error) {
	inserted, err := tx.Rewards().InsertLedger(ctx, &models.RewardLedger{
		ID:          uuid.New(),
		Kind:        models.LedgerKindUser,
		SubjectID:   userID,
		ChallengeID: ch.ID,
		TeamID:      teamID,
		RewardXP:    ch.RewardXP,
		BadgeID:     ch.RewardBadgeID,
		CreatedAt:   now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to write reward ledger: %w", err)
	}
	if !inserted {
		return false, nil
	}

	if ch.RewardXP > 0 {
		if _, err = a.granter.GrantXP(ctx, tx, userID, ch.RewardXP); err != nil {
			return false, fmt.Errorf("failed to grant challenge xp: %w", err)
		}
	}
	if ch.RewardBadgeID != nil {
		if _, err = tx.Rewards().AwardBadge(ctx, &models.UserBadge{
			UserID:    userID,
			BadgeID:   *ch.RewardBadgeID,
			AwardedAt: now,
		}); err != nil {
			return false, fmt.Errorf("failed to award badge: %w", err)
		}
	}
	return true, nil
}

func (a *Aggregator) challenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	if v, ok := a.cache.Get(id); ok {
		if c, ok := v.(cachedChallenge); ok && a.now().Sub(c.fetchedAt) < a.ttl {
			return c.challenge, nil
		}
	}

	ch, err := a.store.Challenges().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("challenge %s: %w", id, err)
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	a.cache.Add(id, cachedChallenge{challenge: ch, fetchedAt: a.now()})
	return ch, nil
}
