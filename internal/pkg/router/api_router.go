package router

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"

	"github.com/WebOleg/sepacollect/internal/pkg/billing"
	"github.com/WebOleg/sepacollect/internal/pkg/lock"
	"github.com/WebOleg/sepacollect/internal/pkg/middleware"
	"github.com/WebOleg/sepacollect/internal/pkg/pipeline"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 120, Expiration: time.Minute}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "sepacollect ops api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/batches/:id", h.handleBatch)
	v1.Get("/jobs/stats", h.handleJobStats)
	v1.Get("/queues", h.handleQueues)
	v1.Get("/locks/:phase/:id", h.handleLock)
	v1.Post("/gateway/events", middleware.APIKeyAuthMiddleware(h.deps.GatewayKeys), h.handleGatewayEvent)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) handleBatch(c *fiber.Ctx) error {
	batch, err := h.deps.Queue.FindBatch(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fiber.NewError(fiber.StatusNotFound, "batch not found")
		}
		return err
	}
	return c.JSON(fiber.Map{
		"batch":    batch,
		"finished": batch.Finished(),
	})
}

func (h ApiRouter) handleJobStats(c *fiber.Ctx) error {
	stats, err := h.deps.Queue.GetJobStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// handleQueues reports queue depths and the number of held dispatch locks per phase
func (h ApiRouter) handleQueues(c *fiber.Ctx) error {
	ctx := c.UserContext()
	queues := fiber.Map{}
	for _, name := range h.deps.Queue.Queues() {
		pending, err := h.deps.Queue.GetQueueSize(ctx, name)
		if err != nil {
			return err
		}
		processing, err := h.deps.Queue.GetProcessingSize(ctx, name)
		if err != nil {
			return err
		}
		queues[name] = fiber.Map{"pending": pending, "processing": processing}
	}

	locks := make(map[string]int, len(pipeline.Phases))
	if h.deps.Store != nil {
		patterns := make([]string, 0, len(pipeline.Phases))
		for _, phase := range pipeline.Phases {
			locks[phase] = 0
			patterns = append(patterns, lock.KeyPrefix+phase+":*")
		}
		keys, err := h.deps.Store.FindKeysByPatterns(ctx, patterns)
		if err != nil {
			return err
		}
		for _, key := range keys {
			phase, _, _ := strings.Cut(strings.TrimPrefix(key, lock.KeyPrefix), ":")
			locks[phase]++
		}
	}

	return c.JSON(fiber.Map{"queues": queues, "locks": locks})
}

// handleLock shows whether a debtor is currently claimed for a phase
func (h ApiRouter) handleLock(c *fiber.Ctx) error {
	phase := c.Params("phase")
	if _, ok := pipeline.JobTypeFor(phase); !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unknown phase")
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid debtor id")
	}
	if h.deps.Store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "lock store unavailable")
	}

	key := lock.Key(phase, uint(id))
	ttl, err := h.deps.Store.GetTTL(c.UserContext(), key)
	if err != nil {
		return err
	}
	held := ttl != -2
	resp := fiber.Map{"key": key, "held": held}
	if ttl > 0 {
		resp["ttl_seconds"] = int64(ttl / time.Second)
	}
	return c.JSON(resp)
}

type gatewayEventRequest struct {
	Provider      string     `json:"provider"`
	EventID       string     `json:"event_id"`
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	ReasonCode    string     `json:"reason_code"`
	ReasonMessage string     `json:"reason_message"`
	CreatedAt     *time.Time `json:"created_at"`
	OccurredAt    *time.Time `json:"occurred_at"`
}

func (h ApiRouter) handleGatewayEvent(c *fiber.Ctx) error {
	var req gatewayEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	res, err := h.deps.Outcomes.RecordOutcome(c.UserContext(), billing.OutcomeInput{
		Provider:         req.Provider,
		ProviderEventID:  req.EventID,
		TransactionID:    req.TransactionID,
		Outcome:          billing.Outcome(req.Status),
		ReasonCode:       req.ReasonCode,
		ReasonMessage:    req.ReasonMessage,
		GatewayCreatedAt: req.CreatedAt,
		OccurredAt:       req.OccurredAt,
		PayloadJSON:      string(c.Body()),
	})
	switch {
	case errors.Is(err, billing.ErrUnknownOutcome), errors.Is(err, billing.ErrMissingIdentifiers):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, billing.ErrAttemptNotFound):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case err != nil:
		log.Errorf("[API] Recording gateway event failed: %v", err)
		return err
	}

	status := fiber.StatusAccepted
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}
