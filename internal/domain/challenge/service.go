// Package challenge handles joining challenges and teams. Baselines are
// captured here, once, and never adjusted afterwards.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/progression"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

var (
	ErrAlreadyJoined  = errors.New("already joined")
	ErrChallengeEnded = errors.New("challenge has ended")
	ErrNotMember      = errors.New("not a member of this team")

	ErrChallengeNotFound = fmt.Errorf("challenge: %w", store.ErrNotFound)
	ErrTeamNotFound      = fmt.Errorf("team: %w", store.ErrNotFound)
)

type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(s store.Store, log *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, log: log, now: now}
}

func (s *Service) openChallenge(ctx context.Context, tx store.Tx, id uuid.UUID, team bool) (*models.Challenge, error) {
	ch, err := tx.Challenges().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if ch.Ended(s.now()) {
		return nil, ErrChallengeEnded
	}
	if ch.IsTeam != team {
		reason := "individual challenges are joined directly"
		if ch.IsTeam {
			reason = "team challenges are joined through a team"
		}
		return nil, &progression.ValidationError{Field: "challenge", Reason: reason}
	}
	return ch, nil
}

// JoinChallenge enrolls the user in an individual challenge with a baseline
// of their current counters.
func (s *Service) JoinChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*models.ChallengeParticipation, error) {
	var participation *models.ChallengeParticipation
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.openChallenge(ctx, tx, challengeID, false); err != nil {
			return err
		}

		profile, err := tx.Profiles().GetForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}

		now := s.now()
		base := profile.Counters()
		participation = &models.ChallengeParticipation{
			ID:             uuid.New(),
			UserID:         userID,
			ChallengeID:    challengeID,
			BaselineQuests: base.Quests,
			BaselineXP:     base.XP,
			BaselineStreak: base.Streak,
			JoinedAt:       now,
			UpdatedAt:      now,
		}
		err = tx.Challenges().CreateParticipation(ctx, participation)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyJoined
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Challenge joined",
		slog.String("user_id", userID.String()),
		slog.String("challenge_id", challengeID.String()),
	)
	return participation, nil
}

// JoinTeam adds the user to a team and records their baseline in every team
// challenge the team is still running.
func (s *Service) JoinTeam(ctx context.Context, userID, teamID uuid.UUID) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Teams().Get(ctx, teamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTeamNotFound
			}
			return fmt.Errorf("failed to load team: %w", err)
		}

		profile, err := tx.Profiles().GetForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}

		now := s.now()
		err = tx.Teams().AddMember(ctx, &models.TeamMember{TeamID: teamID, UserID: userID, JoinedAt: now})
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyJoined
		}
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}

		running, err := tx.Challenges().ListTeamProgress(ctx, teamID)
		if err != nil {
			return fmt.Errorf("failed to list team progress: %w", err)
		}
		for _, tp := range running {
			if tp.Completed || (tp.Challenge != nil && tp.Challenge.Ended(now)) {
				continue
			}
			if err = tx.Challenges().SetMemberBaseline(ctx, tp.ID, userID, profile.Counters()); err != nil {
				return fmt.Errorf("failed to capture member baseline: %w", err)
			}
		}
		return nil
	})
}

// EnrollTeam enters a team into a team challenge, capturing a baseline for
// every current member. Only members may enroll their team.
func (s *Service) EnrollTeam(ctx context.Context, userID, teamID, challengeID uuid.UUID) (*models.TeamChallengeProgress, error) {
	var progress *models.TeamChallengeProgress
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.Teams().IsMember(ctx, teamID, userID)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if !ok {
			return ErrNotMember
		}
		if _, err = s.openChallenge(ctx, tx, challengeID, true); err != nil {
			return err
		}

		members, err := tx.Teams().Members(ctx, teamID)
		if err != nil {
			return fmt.Errorf("failed to list members: %w", err)
		}
		baselines := make(map[string]models.Baseline, len(members))
		for _, m := range members {
			profile, err := tx.Profiles().GetForUpdate(ctx, m.UserID)
			if err != nil {
				return fmt.Errorf("failed to load member profile: %w", err)
			}
			baselines[m.UserID.String()] = profile.Counters()
		}

		now := s.now()
		progress = &models.TeamChallengeProgress{
			ID:           uuid.New(),
			TeamID:       teamID,
			ChallengeID:  challengeID,
			BaselineData: baselines,
			JoinedAt:     now,
			UpdatedAt:    now,
		}
		err = tx.Challenges().CreateTeamProgress(ctx, progress)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyJoined
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Team enrolled",
		slog.String("team_id", teamID.String()),
		slog.String("challenge_id", challengeID.String()),
		slog.Int("members", len(progress.BaselineData)),
	)
	return progress, nil
}

// Participation is the display view of a user's standing in one challenge.
type Participation struct {
	ChallengeID     uuid.UUID  `json:"challenge_id"`
	Title           string     `json:"title"`
	TargetType      string     `json:"target_type"`
	TargetValue     int64      `json:"target_value"`
	CurrentProgress int64      `json:"current_progress"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	EndsAt          time.Time  `json:"ends_at"`
	TeamID          *uuid.UUID `json:"team_id,omitempty"`
}

func (s *Service) ListParticipations(ctx context.Context, userID uuid.UUID) ([]Participation, error) {
	individual, err := s.store.Challenges().ListParticipations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}

	out := make([]Participation, 0, len(individual))
	for _, p := range individual {
		view := Participation{
			ChallengeID:     p.ChallengeID,
			CurrentProgress: p.CurrentProgress,
			Completed:       p.Completed,
			CompletedAt:     p.CompletedAt,
		}
		fill(&view, p.Challenge)
		out = append(out, view)
	}

	teamIDs, err := s.store.Teams().TeamsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	for _, teamID := range teamIDs {
		rows, err := s.store.Challenges().ListTeamProgress(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("failed to list team progress: %w", err)
		}
		for _, tp := range rows {
			id := tp.TeamID
			view := Participation{
				ChallengeID:     tp.ChallengeID,
				CurrentProgress: tp.CurrentProgress,
				Completed:       tp.Completed,
				CompletedAt:     tp.CompletedAt,
				TeamID:          &id,
			}
			fill(&view, tp.Challenge)
			out = append(out, view)
		}
	}
	return out, nil
}

func fill(view *Participation, ch *models.Challenge) {
	if ch == nil {
		return
	}
	view.Title = ch.Title
	view.TargetType = ch.TargetType
	view.TargetValue = ch.TargetValue
	view.EndsAt = ch.EndsAt
}
