// Package main provides the CanvasFlow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/canvasflow/canvasflow/pkg/compiler"
	"github.com/canvasflow/canvasflow/pkg/engine"
	"github.com/canvasflow/canvasflow/pkg/eventbus"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/registry"
	"github.com/canvasflow/canvasflow/pkg/versions"
	"github.com/canvasflow/canvasflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	versionStore := versions.NewStore(a.logger, compiler.New(a.registry), a.persistence)
	eng := engine.New(a.logger, a.persistence, versionStore, a.registry, a.eventBus, nil, engine.Config{})

	handlers := web.NewAPIHandlers(a.persistence, versionStore, eng, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("CanvasFlow API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.CreateFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Post("/:id/versions", handlers.CreateVersion)
	f.Get("/:id/versions", handlers.GetVersions)
	f.Get("/:id/versions/current", handlers.GetCurrentVersion)
	f.Get("/:id/versions/:versionId", handlers.GetVersion)
	f.Post("/:id/runs", handlers.StartRun)
	f.Get("/:id/runs", handlers.GetRuns)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Post("/:id/nodes/:nodeId/complete", handlers.CompleteNode)

	e := app.Group("/entities")
	e.Post("/", handlers.CreateEntity)
	e.Get("/:id", handlers.GetEntity)
	e.Get("/:id/journey", handlers.GetEntityJourney)

	app.Post("/layout", handlers.ComputeLayout)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
