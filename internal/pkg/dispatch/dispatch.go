// Package dispatch selects the debtors that are due for each pipeline phase, claims them
// with a dispatch lock and submits them in chunks to the job system.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/app/repository"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/dedupe"
	"github.com/WebOleg/sepacollect/internal/pkg/jobqueue"
	"github.com/WebOleg/sepacollect/internal/pkg/lock"
	"github.com/WebOleg/sepacollect/internal/pkg/pipeline"
)

// BatchDispatcher submits a named group of jobs to a queue
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, name string, specs []jobqueue.JobSpec, opts jobqueue.BatchOptions) (*jobqueue.Batch, error)
}

// RunOptions controls a dispatch run
type RunOptions struct {
	DryRun bool
}

// PhaseReport counts what happened to the candidates of one phase
type PhaseReport struct {
	Phase      string `json:"phase"`
	Candidates int    `json:"candidates"`
	Skipped    int    `json:"skipped"`
	Locked     int    `json:"locked"`
	Dispatched int    `json:"dispatched"`
	Chunks     int    `json:"chunks"`
	BatchID    string `json:"batch_id,omitempty"`
}

// Report is the outcome of dispatching one billing model
type Report struct {
	Model  models.BillingModel `json:"model"`
	DryRun bool                `json:"dry_run"`
	Phases []PhaseReport       `json:"phases"`
}

// Dispatcher runs the validation, verification and billing phases for a billing model
type Dispatcher struct {
	debtors repository.DebtorRepository
	dedupe  *dedupe.Engine
	locks   lock.Manager
	batches BatchDispatcher
	cfg     config.DispatchConfig
	now     func() time.Time
}

// NewDispatcher creates a dispatcher
func NewDispatcher(debtors repository.DebtorRepository, engine *dedupe.Engine, locks lock.Manager, batches BatchDispatcher, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		debtors: debtors,
		dedupe:  engine,
		locks:   locks,
		batches: batches,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock replaces the time source
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// RunAll dispatches every billing model concurrently. Reports keep the order of
// models.BillingModels; a failing model does not stop the others.
func (d *Dispatcher) RunAll(ctx context.Context, opts RunOptions) ([]Report, error) {
	reports := make([]Report, len(models.BillingModels))
	var g errgroup.Group
	for i, m := range models.BillingModels {
		g.Go(func() error {
			report, err := d.Run(ctx, m, opts)
			reports[i] = report
			if err != nil {
				return fmt.Errorf("dispatch %s: %w", m, err)
			}
			return nil
		})
	}
	return reports, g.Wait()
}

// Run executes the three phases for one billing model in sequence
func (d *Dispatcher) Run(ctx context.Context, model models.BillingModel, opts RunOptions) (Report, error) {
	report := Report{Model: model, DryRun: opts.DryRun}
	if !model.IsValid() {
		return report, fmt.Errorf("unknown billing model %q", model)
	}

	var errs []error
	for _, phase := range pipeline.Phases {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		pr, err := d.runPhase(ctx, model, phase, opts)
		report.Phases = append(report.Phases, pr)
		if err != nil {
			log.Errorf("[Dispatch] %s:%s failed: %v", model, phase, err)
			errs = append(errs, fmt.Errorf("%s phase: %w", phase, err))
		}
	}
	return report, errors.Join(errs...)
}

// Scopes returns the candidate filters of a phase
func Scopes(model models.BillingModel, phase string, now time.Time) []repository.Scope {
	base := []repository.Scope{repository.ForModel(model), repository.Open()}
	switch phase {
	case config.JobKindValidation:
		return append(base, repository.ProfileDue(now), repository.UnderLifetimeCap(), repository.NotValidated())
	case config.JobKindVerification:
		return append(base, repository.ProfileActive(), repository.Validated(), repository.NotVerified())
	default:
		return append(base, repository.ProfileDue(now), repository.UnderLifetimeCap(), repository.Validated(), repository.Verified())
	}
}

func (d *Dispatcher) runPhase(ctx context.Context, model models.BillingModel, phase string, opts RunOptions) (PhaseReport, error) {
	pr := PhaseReport{Phase: phase}
	jobType, ok := pipeline.JobTypeFor(phase)
	if !ok {
		return pr, fmt.Errorf("no job type for phase %q", phase)
	}

	candidates, err := d.debtors.SelectCandidates(ctx, Scopes(model, phase, d.now().UTC())...)
	if err != nil {
		return pr, fmt.Errorf("select candidates: %w", err)
	}
	pr.Candidates = len(candidates)
	if len(candidates) == 0 {
		return pr, nil
	}

	if phase == config.JobKindValidation {
		kept, skipped, err := d.filterDedupe(ctx, candidates, opts.DryRun)
		if err != nil {
			return pr, err
		}
		candidates = kept
		pr.Skipped = skipped
	}

	claimed := d.claim(ctx, phase, candidates, opts.DryRun)
	pr.Locked = len(candidates) - len(claimed)
	if len(claimed) == 0 {
		return pr, nil
	}

	chunks := Chunk(claimed, d.cfg.ChunkSize(phase))
	pr.Chunks = len(chunks)
	pr.Dispatched = len(claimed)
	if opts.DryRun {
		log.Infof("[Dispatch] Dry run %s:%s would dispatch %d debtors in %d chunks", model, phase, pr.Dispatched, pr.Chunks)
		return pr, nil
	}

	specs := make([]jobqueue.JobSpec, 0, len(chunks))
	for _, chunk := range chunks {
		payload := jobqueue.ChunkJobPayload{Model: string(model), Phase: phase, DebtorIDs: chunk}
		specs = append(specs, jobqueue.JobSpec{Type: jobType, Payload: payload.ToMap()})
	}
	batch, err := d.batches.DispatchBatch(ctx, fmt.Sprintf("%s:%s", model, phase), specs, jobqueue.BatchOptions{
		AllowPartialFailures: true,
		Queue:                phase,
	})
	if err != nil {
		d.unlock(ctx, phase, claimed)
		pr.Dispatched, pr.Chunks = 0, 0
		return pr, fmt.Errorf("dispatch batch: %w", err)
	}
	pr.BatchID = batch.ID

	log.Infof("[Dispatch] %s:%s dispatched %d debtors in %d chunks (batch %s, %d locked, %d skipped)",
		model, phase, pr.Dispatched, pr.Chunks, batch.ID, pr.Locked, pr.Skipped)
	return pr, nil
}

// filterDedupe drops candidates barred by the dedupe checks. Permanently barred debtors
// are marked skipped; temporary bars only defer the debtor to a later run.
func (d *Dispatcher) filterDedupe(ctx context.Context, candidates []repository.Candidate, dryRun bool) ([]repository.Candidate, int, error) {
	hashes := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.IBANHash != "" {
			hashes = append(hashes, c.IBANHash)
		}
	}
	if len(hashes) == 0 {
		return candidates, 0, nil
	}

	skips, err := d.dedupe.CheckBatch(ctx, hashes)
	if err != nil {
		return nil, 0, fmt.Errorf("dedupe: %w", err)
	}
	if len(skips) == 0 {
		return candidates, 0, nil
	}

	kept := make([]repository.Candidate, 0, len(candidates))
	byReason := make(map[dedupe.Reason][]uint)
	skipped := 0
	for _, c := range candidates {
		skip, ok := skips[c.IBANHash]
		if !ok || c.IBANHash == "" {
			kept = append(kept, c)
			continue
		}
		skipped++
		if skip.Permanent {
			byReason[skip.Reason] = append(byReason[skip.Reason], c.ID)
		}
	}

	if !dryRun {
		for reason, ids := range byReason {
			n, err := d.debtors.MarkSkipped(ctx, ids, string(reason))
			if err != nil {
				log.Errorf("[Dispatch] Failed to mark %d debtors skipped (%s): %v", len(ids), reason, err)
				continue
			}
			log.Infof("[Dispatch] Marked %d debtors skipped: %s", n, reason)
		}
	}
	return kept, skipped, nil
}

// claim returns the ids whose phase lock was acquired. In dry-run no lock is taken and
// only currently held locks are reported.
func (d *Dispatcher) claim(ctx context.Context, phase string, candidates []repository.Candidate, dryRun bool) []uint {
	ids := make([]uint, 0, len(candidates))
	ttl := d.cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	for _, c := range candidates {
		key := lock.Key(phase, c.ID)
		if dryRun {
			held, err := d.locks.Exists(ctx, key)
			if err != nil {
				log.Warnf("[Dispatch] Lock check failed for %s: %v", key, err)
				continue
			}
			if !held {
				ids = append(ids, c.ID)
			}
			continue
		}
		ok, err := d.locks.TryAcquire(ctx, key, ttl)
		if err != nil {
			log.Warnf("[Dispatch] Lock acquire failed for %s: %v", key, err)
			continue
		}
		if ok {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (d *Dispatcher) unlock(ctx context.Context, phase string, ids []uint) {
	for _, id := range ids {
		if err := d.locks.Release(context.WithoutCancel(ctx), lock.Key(phase, id)); err != nil {
			log.Warnf("[Dispatch] Failed to release %s lock for debtor %d: %v", phase, id, err)
		}
	}
}

// Chunk splits ids into consecutive slices of at most size elements
func Chunk(ids []uint, size int) [][]uint {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(ids)
	}
	chunks := make([][]uint, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
