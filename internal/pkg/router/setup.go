package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/WebOleg/sepacollect/app/repository"
	"github.com/WebOleg/sepacollect/internal/pkg/billing"
	"github.com/WebOleg/sepacollect/internal/pkg/jobqueue"
)

// Router installs a group of routes on the app
type Router interface {
	InstallRouter(app *fiber.App)
}

// JobQueue is the read side of the job system shown by the ops endpoints
type JobQueue interface {
	FindBatch(ctx context.Context, id string) (*jobqueue.Batch, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	Queues() []string
	GetQueueSize(ctx context.Context, name string) (int64, error)
	GetProcessingSize(ctx context.Context, name string) (int64, error)
}

// OutcomeRecorder stores gateway outcome notifications
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, in billing.OutcomeInput) (*billing.OutcomeResult, error)
}

// HealthCheck pings one backing service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators served over HTTP
type Deps struct {
	Queue        JobQueue
	Store        repository.QueueRepository
	Outcomes     OutcomeRecorder
	Checks       []HealthCheck
	MetricsUsers map[string]string
	// GatewayKeys guard the outcome webhook; empty leaves it open
	GatewayKeys []string
}

// InstallRouter registers the ops and API routes
func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
