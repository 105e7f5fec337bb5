// Package main provides the Herald API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/idempotency"
	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/runner"
	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/web"
	"github.com/dukex/herald/pkg/workflow"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	eventBus eventbus.EventBus
	claims   idempotency.Store
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	claims idempotency.Store,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		eventBus: eventBus,
		claims:   claims,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	trigger := workflow.NewTriggerService(a.logger, a.store.Workflows(), a.claims, a.eventBus)
	canceler := runner.NewCanceler(a.logger, "api", a.store.Jobs(), a.store.ExecutionDetails(), a.eventBus)
	resolver := subscribers.NewResolver(a.logger, a.store.Subscribers())

	handlers := web.NewAPIHandlers(trigger, canceler, resolver, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Herald API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
