package http

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/challenge"
	"github.com/questline/progression/internal/domain/progression"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

type Completer interface {
	CompleteQuest(ctx context.Context, req progression.CompleteRequest) (*progression.CompleteResult, error)
}

type Challenges interface {
	JoinChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*models.ChallengeParticipation, error)
	JoinTeam(ctx context.Context, userID, teamID uuid.UUID) error
	EnrollTeam(ctx context.Context, userID, teamID, challengeID uuid.UUID) (*models.TeamChallengeProgress, error)
	ListParticipations(ctx context.Context, userID uuid.UUID) ([]challenge.Participation, error)
}

type Handlers struct {
	quests     Completer
	challenges Challenges
	tasks      store.TaskRunRepository
}

func NewHandlers(quests Completer, challenges Challenges, tasks store.TaskRunRepository) *Handlers {
	return &Handlers{quests: quests, challenges: challenges, tasks: tasks}
}

type completeBody struct {
	Reflection string `json:"reflection"`
	Golden     bool   `json:"golden"`
}

type completeResponse struct {
	*progression.CompleteResult
	StreakState string `json:"streak_state"`
}

func (h *Handlers) CompleteQuest(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	logID, err := pathID(c, "logId")
	if err != nil {
		return err
	}
	var body completeBody
	if err := c.BodyParser(&body); err != nil {
		return fmt.Errorf("%w: malformed body", errBadRequest)
	}

	res, err := h.quests.CompleteQuest(c.UserContext(), progression.CompleteRequest{
		UserID:     userID,
		LogID:      logID,
		Reflection: body.Reflection,
		Golden:     body.Golden,
	})
	if err != nil {
		return err
	}
	return sendSuccess(c, fiber.StatusOK, completeResponse{
		CompleteResult: res,
		StreakState:    res.StreakState.String(),
	}, "Quest completed")
}

func (h *Handlers) ListParticipations(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	list, err := h.challenges.ListParticipations(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return sendSuccess(c, fiber.StatusOK, list, "")
}

func (h *Handlers) JoinChallenge(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	challengeID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.challenges.JoinChallenge(c.UserContext(), userID, challengeID)
	if err != nil {
		return err
	}
	return sendSuccess(c, fiber.StatusCreated, fiber.Map{
		"participation_id": p.ID,
		"challenge_id":     p.ChallengeID,
		"joined_at":        p.JoinedAt,
	}, "Challenge joined")
}

func (h *Handlers) JoinTeam(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	teamID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.challenges.JoinTeam(c.UserContext(), userID, teamID); err != nil {
		return err
	}
	return sendSuccess(c, fiber.StatusCreated, fiber.Map{"team_id": teamID}, "Team joined")
}

func (h *Handlers) EnrollTeam(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	teamID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	challengeID, err := pathID(c, "challengeId")
	if err != nil {
		return err
	}
	p, err := h.challenges.EnrollTeam(c.UserContext(), userID, teamID, challengeID)
	if err != nil {
		return err
	}
	return sendSuccess(c, fiber.StatusCreated, fiber.Map{
		"team_id":      p.TeamID,
		"challenge_id": p.ChallengeID,
		"joined_at":    p.JoinedAt,
	}, "Team enrolled")
}

type taskRunResponse struct {
	ID         uuid.UUID `json:"id"`
	TaskName   string    `json:"task_name"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  *string   `json:"last_error,omitempty"`
	CreatedAt  string    `json:"created_at"`
	FinishedAt *string   `json:"finished_at,omitempty"`
}

// TaskRun reports a fan-out run. Runs of other users look missing.
func (h *Handlers) TaskRun(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	run, err := h.tasks.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	if run.UserID != userID {
		return fmt.Errorf("task run: %w", store.ErrNotFound)
	}

	resp := taskRunResponse{
		ID:        run.ID,
		TaskName:  run.TaskName,
		Status:    run.Status,
		Attempts:  run.Attempts,
		LastError: run.LastError,
		CreatedAt: run.CreatedAt.UTC().Format(timeLayout),
	}
	if run.FinishedAt != nil {
		f := run.FinishedAt.UTC().Format(timeLayout)
		resp.FinishedAt = &f
	}
	return sendSuccess(c, fiber.StatusOK, resp, "")
}

func (h *Handlers) Health(c *fiber.Ctx) error {
	return sendSuccess(c, fiber.StatusOK, fiber.Map{"status": "ok"}, "")
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func pathID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a uuid", errBadRequest, name)
	}
	return id, nil
}

