// Package http exposes the progression engine over a small JSON API.
package http

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Options struct {
	AllowedOrigins []string
	BodyLimit      int
}

func NewApp(h *Handlers, resolver Resolver, log *slog.Logger, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "questline",
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(Logging(log))

	origins := "*"
	if len(opts.AllowedOrigins) > 0 {
		origins = strings.Join(opts.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	app.Get("/health", h.Health)

	api := app.Group("/api", BearerAuth(resolver))
	api.Post("/quests/:logId/complete", h.CompleteQuest)
	api.Get("/challenges/participations", h.ListParticipations)
	api.Post("/challenges/:id/join", h.JoinChallenge)
	api.Post("/teams/:id/join", h.JoinTeam)
	api.Post("/teams/:id/challenges/:challengeId/enroll", h.EnrollTeam)
	api.Get("/tasks/:id", h.TaskRun)

	return app
}
