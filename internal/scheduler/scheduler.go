package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

var (
	// ErrInvalidSchedule rejects schedule requests whose fire time is not
	// strictly in the future.
	ErrInvalidSchedule = errors.New("schedule time must be in the future")

	// ErrInvalidParams rejects scheduling an extraction whose parameters
	// could not produce a runnable snapshot.
	ErrInvalidParams = errors.New("extraction parameters are incomplete")
)

// ExtractionStore is the slice of the persistence collaborator the
// scheduler mutates.
type ExtractionStore interface {
	GetByID(ctx context.Context, id, ownerID string) (*models.Extraction, error)
	SetSchedule(ctx context.Context, id, ownerID, jobID string, runAt time.Time) error
	ClearSchedule(ctx context.Context, id, ownerID string) error
}

type Scheduler struct {
	queue  Queue
	store  ExtractionStore
	logger *slog.Logger
	now    func() time.Time
}

func New(queue Queue, store ExtractionStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queue:  queue,
		store:  store,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Schedule enqueues a one-shot job for whenUTC carrying a full snapshot of
// the extraction's template and parameters, then persists the scheduling
// fields. Queue unavailability is fatal to the request.
func (s *Scheduler) Schedule(ctx context.Context, extractionID, ownerID string, whenUTC time.Time) (string, error) {
	if !whenUTC.After(s.now()) {
		return "", ErrInvalidSchedule
	}

	extraction, err := s.store.GetByID(ctx, extractionID, ownerID)
	if err != nil {
		return "", err
	}

	if extraction.Status != models.StatusDraft && extraction.Status != models.StatusScheduled {
		return "", fmt.Errorf("%w: extraction is %s", ErrInvalidSchedule, extraction.Status)
	}
	if err := extraction.Params.Validate(extraction.Template); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	// Rescheduling replaces the pending job; never reuse a stale job id.
	if extraction.ScheduleJobID != "" {
		if err := s.queue.Cancel(ctx, extraction.ScheduleJobID); err != nil {
			s.logger.Warn("failed to cancel previous job",
				"extraction", extractionID, "job_id", extraction.ScheduleJobID, "error", err)
		}
	}

	jobID, err := s.queue.EnqueueAt(ctx, whenUTC, &Job{
		ExtractionID: extraction.ID,
		OwnerID:      extraction.OwnerID,
		Template:     extraction.Template,
		Params:       extraction.Params,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	if err := s.store.SetSchedule(ctx, extractionID, ownerID, jobID, whenUTC); err != nil {
		// The job exists but the record doesn't know it; pull it back out.
		if cancelErr := s.queue.Cancel(ctx, jobID); cancelErr != nil {
			s.logger.Error("failed to cancel orphaned job", "job_id", jobID, "error", cancelErr)
		}
		return "", err
	}

	s.logger.Info("extraction scheduled",
		"extraction", extractionID, "job_id", jobID, "run_at", whenUTC)
	return jobID, nil
}

// Unschedule removes the pending job and returns the extraction to draft.
// Queue removal is best effort: the job may have already fired, so a failed
// removal is logged but the scheduling fields are cleared regardless.
// Calling it on an unscheduled extraction is a no-op.
func (s *Scheduler) Unschedule(ctx context.Context, extractionID, ownerID string) error {
	extraction, err := s.store.GetByID(ctx, extractionID, ownerID)
	if err != nil {
		return err
	}

	if extraction.ScheduleJobID != "" {
		if err := s.queue.Cancel(ctx, extraction.ScheduleJobID); err != nil {
			s.logger.Warn("failed to remove job from queue",
				"extraction", extractionID, "job_id", extraction.ScheduleJobID, "error", err)
		}
	}

	if err := s.store.ClearSchedule(ctx, extractionID, ownerID); err != nil {
		return err
	}

	s.logger.Info("extraction unscheduled", "extraction", extractionID)
	return nil
}
