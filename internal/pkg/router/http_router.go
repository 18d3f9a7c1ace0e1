package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// HttpRouter serves liveness and runtime metrics
type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.handleHealth)

	if len(h.deps.MetricsUsers) > 0 {
		app.Get("/metrics", basicauth.New(basicauth.Config{Users: h.deps.MetricsUsers}), monitor.New())
	} else {
		app.Get("/metrics", monitor.New())
	}
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	checks := fiber.Map{}
	for _, check := range h.deps.Checks {
		if err := check.Check(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			checks[check.Name] = err.Error()
			continue
		}
		checks[check.Name] = "ok"
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": checks})
}
