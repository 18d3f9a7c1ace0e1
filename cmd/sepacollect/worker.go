package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/WebOleg/sepacollect/internal/pkg/billing"
	"github.com/WebOleg/sepacollect/internal/pkg/env"
	"github.com/WebOleg/sepacollect/internal/pkg/gateway"
	"github.com/WebOleg/sepacollect/internal/pkg/jobqueue"
	"github.com/WebOleg/sepacollect/internal/pkg/pipeline"
	"github.com/WebOleg/sepacollect/internal/pkg/router"
	"github.com/WebOleg/sepacollect/internal/pkg/scheduler"
	"github.com/WebOleg/sepacollect/internal/pkg/vop"
)

const shutdownTimeout = 30 * time.Second

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the queue workers, the scheduler and the ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
			statsEvery, _ := cmd.Flags().GetDuration("stats-interval")

			a, err := bootstrap()
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), a, !noScheduler && a.cfg.Scheduler.Enabled, statsEvery)
		},
	}

	cmd.Flags().Bool("no-scheduler", false, "Do not run the periodic dispatch and blacklist jobs")
	cmd.Flags().Duration("stats-interval", time.Minute, "Queue depth log interval (0 disables)")

	return cmd
}

func runWorker(parent context.Context, a *application, withScheduler bool, statsEvery time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := pipeline.NewHandlers(pipeline.Deps{
		Repos:   a.repos,
		IBAN:    a.iban,
		Dedupe:  a.dedupe,
		Scorer:  vop.NewScorer(a.cfg.Vop, a.iban, nil, vop.NewRepository(a.db)),
		Bics:    a.bics,
		Gateway: gateway.NewSandbox(),
		Locks:   a.locks,
	})
	handlers.Register(a.queue)

	manager := jobqueue.NewManager(a.queue, statsEvery)
	manager.Start()
	defer manager.Stop()

	if withScheduler {
		sched, err := scheduler.New(a.cfg.Scheduler, a.cfg.BicBlacklist.WindowDays, a.dispatcher(), a.bics)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	app := newOpsServer(a)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("[Worker] Ops server listening on %s", a.cfg.Queue.OpsAddr)
		errCh <- app.Listen(a.cfg.Queue.OpsAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("[Worker] Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warnf("[Worker] Ops server shutdown: %v", err)
	}
	return nil
}

func newOpsServer(a *application) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "sepacollect",
		DisableStartupMessage: true,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	var metricsUsers map[string]string
	if user := env.GetEnv("METRICS_USER", ""); user != "" {
		metricsUsers = map[string]string{user: env.GetEnv("METRICS_PASSWORD", "")}
	}

	router.InstallRouter(app, router.Deps{
		Queue:        a.queue,
		Store:        a.repos.Queue,
		Outcomes:     billing.NewServiceFromDB(a.db),
		MetricsUsers: metricsUsers,
		GatewayKeys:  env.GetEnvList("GATEWAY_API_KEYS", nil),
		Checks: []router.HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error {
				sqlDB, err := a.db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "redis", Check: func(ctx context.Context) error {
				return a.redis.Ping(ctx).Err()
			}},
		},
	})

	return app
}
