package http

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/questline/progression/internal/auth"
)

const userKey = "user_id"

type Resolver interface {
	Resolve(token string) (uuid.UUID, error)
}

// BearerAuth resolves the Authorization header into a user id stored in the
// request locals.
func BearerAuth(resolver Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return auth.ErrUnauthorized
		}
		userID, err := resolver.Resolve(strings.TrimSpace(token))
		if err != nil {
			return err
		}
		c.Locals(userKey, userID)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := c.Locals(userKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, auth.ErrUnauthorized
	}
	return id, nil
}

// Logging logs every request once it has been handled.
func Logging(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = classify(err).status
		}
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		attrs := []any{
			slog.String("type", "http"),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("took", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if id, ok := c.Locals(userKey).(uuid.UUID); ok {
			attrs = append(attrs, slog.String("user_id", id.String()))
		}
		log.Log(c.UserContext(), level, "HTTP request processed", attrs...)
		return err
	}
}
