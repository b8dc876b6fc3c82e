// Package main provides the flowmend remediation agent binary.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/flowmend/flowmend/pkg/agent"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/web"
)

// API owns the HTTP surface of the agent.
type API struct {
	logger   *slog.Logger
	service  *agent.Service
	store    approvals.Store
	validate *validator.Validate
	app      *fiber.App
}

func NewAPI(logger *slog.Logger, service *agent.Service, store approvals.Store) *API {
	return &API{
		logger:   logger,
		service:  service,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.service, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowmend agent")
	})

	handlers.Register(app)

	return app
}

// Start listens on the given port until Shutdown is called.
func (a *API) Start(port int) error {
	a.app = a.App()

	return a.app.Listen(":" + strconv.Itoa(port))
}

// Shutdown stops the listener, bounded by the context deadline.
func (a *API) Shutdown(ctx context.Context) error {
	if a.app == nil {
		return nil
	}

	return a.app.ShutdownWithContext(ctx)
}
