package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scrapegrid/scrapegrid/internal/credits"
	"github.com/scrapegrid/scrapegrid/internal/identity"
	"github.com/scrapegrid/scrapegrid/internal/models"
)

// Runner is the extraction engine as the worker sees it.
type Runner interface {
	Run(ctx context.Context, template models.Template, params models.Params, ident identity.Identity) (*models.ScrapeResult, *models.MonitoringSnapshot, error)
}

// RunStore is the slice of the persistence collaborator the worker mutates
// at fire time.
type RunStore interface {
	MarkRunning(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, from, to models.Status, reason string) error
	AttachResult(ctx context.Context, id string, result *models.ScrapeResult, mon *models.MonitoringSnapshot, creditsConsumed int) error
}

// Admitter gates and meters credit usage around a run.
type Admitter interface {
	Admit(ctx context.Context, userID string, cost int) error
	Consume(ctx context.Context, userID string, cost int) error
}

// Worker drains due jobs and runs each to completion before taking the
// next. Engine failures are recorded on the extraction and never kill the
// worker loop.
type Worker struct {
	queue        Queue
	store        RunStore
	credits      Admitter
	runner       Runner
	pool         *identity.Pool
	pricing      credits.Pricing
	logger       *slog.Logger
	pollInterval time.Duration
}

func NewWorker(queue Queue, store RunStore, admitter Admitter, runner Runner, pool *identity.Pool, pricing credits.Pricing, pollInterval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		queue:        queue,
		store:        store,
		credits:      admitter,
		runner:       runner,
		pool:         pool,
		pricing:      pricing,
		logger:       logger.With("component", "worker"),
		pollInterval: pollInterval,
	}
}

// Start polls for due jobs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes every job that is due right now, one at a time.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.PopDue(ctx, time.Now())
		if err != nil {
			w.logger.Error("failed to poll queue", "error", err)
			return
		}
		if job == nil {
			return
		}
		w.Process(ctx, job)
	}
}

// Process runs one claimed job through the engine and records the outcome.
func (w *Worker) Process(ctx context.Context, job *Job) {
	logger := w.logger.With("job_id", job.ID, "extraction", job.ExtractionID)
	logger.Info("processing job", "template", job.Template)

	if err := w.store.MarkRunning(ctx, job.ExtractionID); err != nil {
		// Deleted or unscheduled after the claim: drop the job.
		logger.Warn("job target not runnable, dropping", "error", err)
		return
	}

	cost := w.pricing.RunCost(job.Template, job.Params)
	if err := w.credits.Admit(ctx, job.OwnerID, cost); err != nil {
		reason := "internal error"
		if errors.Is(err, credits.ErrQuotaExceeded) {
			reason = "credit quota exceeded"
		}
		logger.Info("job rejected at fire time", "reason", reason, "error", err)
		w.fail(ctx, job.ExtractionID, reason, logger)
		return
	}

	result, mon, err := w.runner.Run(ctx, job.Template, job.Params, w.pool.Pick())
	if err != nil {
		logger.Error("run failed", "error", err)
		w.fail(ctx, job.ExtractionID, err.Error(), logger)
		return
	}

	if err := w.store.AttachResult(ctx, job.ExtractionID, result, mon, cost); err != nil {
		logger.Error("failed to attach result", "error", err)
		w.fail(ctx, job.ExtractionID, "failed to persist results", logger)
		return
	}
	// The completed transition is gated on metering: a run whose usage could
	// not be recorded is reported failed, with the attached result flagged
	// for reconciliation.
	if err := w.credits.Consume(ctx, job.OwnerID, cost); err != nil {
		logger.Error("result attached but credits not metered, needs reconciliation",
			"error", err, "owner", job.OwnerID, "credits", cost)
		w.fail(ctx, job.ExtractionID, "failed to record credit usage", logger)
		return
	}
	if err := w.store.SetStatus(ctx, job.ExtractionID, models.StatusRunning, models.StatusCompleted, ""); err != nil {
		logger.Error("failed to complete extraction", "error", err)
		return
	}

	logger.Info("job completed",
		"records", result.Count(),
		"credits", cost,
		"duration_ms", mon.DurationMs,
	)
}

func (w *Worker) fail(ctx context.Context, extractionID, reason string, logger *slog.Logger) {
	if err := w.store.SetStatus(ctx, extractionID, models.StatusRunning, models.StatusFailed, reason); err != nil {
		logger.Error("failed to mark extraction failed", "error", err)
	}
}
