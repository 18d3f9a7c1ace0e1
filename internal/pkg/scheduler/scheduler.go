// Package scheduler triggers the periodic dispatch and BIC auto-blacklist runs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/WebOleg/sepacollect/internal/pkg/bicblacklist"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/dispatch"
)

const (
	dispatchTimeout     = 10 * time.Minute
	bicBlacklistTimeout = 30 * time.Minute
)

// Dispatcher runs a dispatch over all billing models
type Dispatcher interface {
	RunAll(ctx context.Context, opts dispatch.RunOptions) ([]dispatch.Report, error)
}

// BlacklistEngine runs one auto-blacklist evaluation
type BlacklistEngine interface {
	Run(ctx context.Context, windowDays int, dryRun bool) (bicblacklist.Result, error)
}

// Scheduler owns the cron instance
type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	bics       BlacklistEngine
	windowDays int
}

// New registers both jobs. Overlapping runs of the same job are skipped.
func New(cfg config.SchedulerConfig, windowDays int, dispatcher Dispatcher, bics BlacklistEngine) (*Scheduler, error) {
	logger := fiberLogger{}
	s := &Scheduler{
		cron:       cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		dispatcher: dispatcher,
		bics:       bics,
		windowDays: windowDays,
	}

	if _, err := s.cron.AddFunc(cfg.DispatchSpec, func() { s.RunDispatch(context.Background()) }); err != nil {
		return nil, fmt.Errorf("dispatch schedule %q: %w", cfg.DispatchSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.BicBlacklistSpec, func() { s.RunBicBlacklist(context.Background()) }); err != nil {
		return nil, fmt.Errorf("bic blacklist schedule %q: %w", cfg.BicBlacklistSpec, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	log.Infof("[Scheduler] Starting with %d jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Info("[Scheduler] Stopped")
	case <-ctx.Done():
		log.Warn("[Scheduler] Stop timed out while jobs were still running")
	}
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunDispatch performs one scheduled dispatch over all billing models
func (s *Scheduler) RunDispatch(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, dispatchTimeout)
	defer cancel()

	start := time.Now()
	reports, err := s.dispatcher.RunAll(ctx, dispatch.RunOptions{})
	if err != nil {
		log.Errorf("[Scheduler] Dispatch finished with errors: %v", err)
	}
	total := 0
	for _, r := range reports {
		for _, p := range r.Phases {
			total += p.Dispatched
		}
	}
	log.Infof("[Scheduler] Dispatch run queued %d debtors in %s", total, time.Since(start).Round(time.Millisecond))
}

// RunBicBlacklist performs one scheduled auto-blacklist evaluation
func (s *Scheduler) RunBicBlacklist(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, bicBlacklistTimeout)
	defer cancel()

	res, err := s.bics.Run(ctx, s.windowDays, false)
	if err != nil {
		log.Errorf("[Scheduler] BIC blacklist run failed: %v", err)
		return
	}
	log.Infof("[Scheduler] BIC blacklist run: evaluated=%d added=%d already=%d failed=%d",
		res.Evaluated, res.Added, res.AlreadyBlacklisted, res.Failed)
}

// fiberLogger routes cron's own messages through the application logger
type fiberLogger struct{}

func (fiberLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("[Scheduler] %s %v", msg, keysAndValues)
}

func (fiberLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("[Scheduler] %s: %v %v", msg, err, keysAndValues)
}
