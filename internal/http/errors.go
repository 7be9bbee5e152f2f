package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/questline/progression/internal/auth"
	"github.com/questline/progression/internal/domain/challenge"
	"github.com/questline/progression/internal/domain/progression"
	"github.com/questline/progression/internal/domain/store"
)

var errBadRequest = errors.New("bad request")

type errorMapping struct {
	status int
	code   string
}

// classify maps a domain error onto its HTTP status and error code.
func classify(err error) errorMapping {
	var (
		fe *fiber.Error
		pe *progression.PersistenceError
	)
	switch {
	case errors.As(err, &pe):
		return errorMapping{fiber.StatusInternalServerError, "INTERNAL_SERVER_ERROR"}
	case errors.Is(err, auth.ErrUnauthorized):
		return errorMapping{fiber.StatusUnauthorized, "UNAUTHORIZED"}
	case errors.Is(err, errBadRequest):
		return errorMapping{fiber.StatusBadRequest, "BAD_REQUEST"}
	case errors.Is(err, progression.ErrValidation):
		return errorMapping{fiber.StatusUnprocessableEntity, "VALIDATION_ERROR"}
	case errors.Is(err, challenge.ErrNotMember):
		return errorMapping{fiber.StatusForbidden, "FORBIDDEN"}
	case errors.Is(err, progression.ErrAlreadyCompleted):
		return errorMapping{fiber.StatusConflict, "ALREADY_COMPLETED"}
	case errors.Is(err, challenge.ErrAlreadyJoined):
		return errorMapping{fiber.StatusConflict, "ALREADY_JOINED"}
	case errors.Is(err, challenge.ErrChallengeEnded):
		return errorMapping{fiber.StatusGone, "CHALLENGE_ENDED"}
	case errors.Is(err, store.ErrNotFound):
		return errorMapping{fiber.StatusNotFound, "NOT_FOUND"}
	case errors.As(err, &fe):
		return errorMapping{fe.Code, "HTTP_ERROR"}
	}
	return errorMapping{fiber.StatusInternalServerError, "INTERNAL_SERVER_ERROR"}
}

// ErrorHandler renders every error returned by a handler in the response
// envelope. Internal failures are logged and answered without details.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		m := classify(err)
		message := err.Error()
		var details map[string]string

		var verr *progression.ValidationError
		if errors.As(err, &verr) {
			details = map[string]string{verr.Field: verr.Reason}
		}

		if m.status >= fiber.StatusInternalServerError {
			log.Error("Request failed",
				slog.String("type", "http"),
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
			message = "Internal Server Error"
		}
		return sendError(c, m.status, m.code, message, details)
	}
}
