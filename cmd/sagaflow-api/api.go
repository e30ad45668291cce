// Package main provides the Sagaflow administration API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/services"
	"github.com/dukex/sagaflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      services.Engine
	updates     services.UpdatePublisher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine services.Engine,
	updates services.UpdatePublisher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      engine,
		updates:     updates,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewTransactions(a.engine, a.persistence, a.updates),
		services.NewTaskDefinitions(a.persistence, a.validate),
		services.NewWorkflowDefinitions(a.persistence, a.validate),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sagaflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Sagaflow API listening", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
