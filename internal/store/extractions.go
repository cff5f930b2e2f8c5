package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

type ExtractionStore struct {
	db *DB
}

func NewExtractionStore(db *DB) *ExtractionStore {
	return &ExtractionStore{db: db}
}

// Create inserts a new extraction in draft.
func (s *ExtractionStore) Create(ctx context.Context, ownerID, name string, template models.Template) (*models.Extraction, error) {
	extraction := &models.Extraction{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Template:  template,
		Status:    models.StatusDraft,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	params, err := json.Marshal(extraction.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	query := `
		INSERT INTO extractions
		(id, owner_id, name, template, params, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.Exec(ctx, query,
		extraction.ID, extraction.OwnerID, extraction.Name, string(extraction.Template),
		params, string(extraction.Status), extraction.CreatedAt, extraction.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction: %w", err)
	}

	return extraction, nil
}

// GetByID loads one extraction scoped to its owner.
func (s *ExtractionStore) GetByID(ctx context.Context, id, ownerID string) (*models.Extraction, error) {
	query := `
		SELECT id, owner_id, name, template, params, status, failure_reason,
		       is_scheduled, schedule_job_id, next_run_at,
		       monitoring, result_id, credits_consumed,
		       created_at, updated_at
		FROM extractions
		WHERE id = $1 AND owner_id = $2
	`
	return s.scanOne(s.db.QueryRow(ctx, query, id, ownerID))
}

// ListByOwner returns the owner's extractions, newest first.
func (s *ExtractionStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.Extraction, error) {
	query := `
		SELECT id, owner_id, name, template, params, status, failure_reason,
		       is_scheduled, schedule_job_id, next_run_at,
		       monitoring, result_id, credits_consumed,
		       created_at, updated_at
		FROM extractions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT 200
	`
	rows, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	defer rows.Close()

	var extractions []*models.Extraction
	for rows.Next() {
		extraction, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		extractions = append(extractions, extraction)
	}
	return extractions, rows.Err()
}

// Update persists editable fields (name, params). Pending scheduled jobs
// are unaffected: they carry their own parameter snapshot.
func (s *ExtractionStore) Update(ctx context.Context, extraction *models.Extraction) error {
	params, err := json.Marshal(extraction.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	query := `
		UPDATE extractions
		SET name = $1, params = $2, updated_at = NOW()
		WHERE id = $3 AND owner_id = $4
	`
	tag, err := s.db.Exec(ctx, query, extraction.Name, params, extraction.ID, extraction.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to update extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSchedule records a pending scheduled job and moves the extraction to
// scheduled.
func (s *ExtractionStore) SetSchedule(ctx context.Context, id, ownerID, jobID string, runAt time.Time) error {
	query := `
		UPDATE extractions
		SET is_scheduled = TRUE, schedule_job_id = $1, next_run_at = $2,
		    status = $3, updated_at = NOW()
		WHERE id = $4 AND owner_id = $5
	`
	tag, err := s.db.Exec(ctx, query, jobID, runAt, string(models.StatusScheduled), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to set schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSchedule resets the scheduling fields and returns the extraction to
// draft. Idempotent: clearing an unscheduled extraction is a no-op update.
func (s *ExtractionStore) ClearSchedule(ctx context.Context, id, ownerID string) error {
	query := `
		UPDATE extractions
		SET is_scheduled = FALSE, schedule_job_id = NULL, next_run_at = NULL,
		    status = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND status IN ($1, $4)
	`
	tag, err := s.db.Exec(ctx, query, string(models.StatusDraft), id, ownerID, string(models.StatusScheduled))
	if err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing record from an extraction in a later state.
		if _, err := s.GetByID(ctx, id, ownerID); err != nil {
			return err
		}
	}
	return nil
}

// MarkRunning is the fire-time transition: scheduled -> running with the
// scheduling fields cleared in the same statement, since the job they
// described no longer exists.
func (s *ExtractionStore) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE extractions
		SET status = $1, is_scheduled = FALSE, schedule_job_id = NULL,
		    next_run_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	tag, err := s.db.Exec(ctx, query, string(models.StatusRunning), id, string(models.StatusScheduled))
	if err != nil {
		return fmt.Errorf("failed to mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("extraction %s is not scheduled", id)
	}
	return nil
}

// SetStatus advances the lifecycle. The WHERE clause enforces the monotonic
// transition table in SQL, so concurrent writers cannot move backwards.
func (s *ExtractionStore) SetStatus(ctx context.Context, id string, from, to models.Status, reason string) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	query := `
		UPDATE extractions
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	tag, err := s.db.Exec(ctx, query, string(to), reason, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("extraction %s not in status %s", id, from)
	}
	return nil
}

// AttachResult stores the run outcome: result payload, monitoring snapshot
// and the credits the run consumed. creditsConsumed is written exactly once.
func (s *ExtractionStore) AttachResult(ctx context.Context, id string, result *models.ScrapeResult, mon *models.MonitoringSnapshot, creditsConsumed int) error {
	resultID := uuid.New().String()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	monitoring, err := json.Marshal(mon)
	if err != nil {
		return fmt.Errorf("failed to marshal monitoring: %w", err)
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO extraction_results (id, extraction_id, payload, created_at)
			VALUES ($1, $2, $3, NOW())
		`, resultID, id, payload); err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE extractions
			SET result_id = $1, monitoring = $2, credits_consumed = $3, updated_at = NOW()
			WHERE id = $4 AND credits_consumed = 0
		`, resultID, monitoring, creditsConsumed, id)
		if err != nil {
			return fmt.Errorf("failed to attach result: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("extraction %s already has a result attached", id)
		}
		return nil
	})
}

// Delete removes an extraction. The caller is responsible for unscheduling
// any pending job first.
func (s *ExtractionStore) Delete(ctx context.Context, id, ownerID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM extractions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ExtractionStore) scanOne(row pgx.Row) (*models.Extraction, error) {
	var (
		extraction    models.Extraction
		template      string
		status        string
		params        []byte
		monitoring    []byte
		scheduleJobID *string
		failureReason *string
		resultID      *string
	)

	err := row.Scan(
		&extraction.ID, &extraction.OwnerID, &extraction.Name, &template, &params,
		&status, &failureReason,
		&extraction.IsScheduled, &scheduleJobID, &extraction.NextRunAt,
		&monitoring, &resultID, &extraction.CreditsConsumed,
		&extraction.CreatedAt, &extraction.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan extraction: %w", err)
	}

	extraction.Template = models.Template(template)
	extraction.Status = models.Status(status)
	if scheduleJobID != nil {
		extraction.ScheduleJobID = *scheduleJobID
	}
	if failureReason != nil {
		extraction.FailureReason = *failureReason
	}
	if resultID != nil {
		extraction.ResultID = *resultID
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &extraction.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	if len(monitoring) > 0 {
		extraction.Monitoring = &models.MonitoringSnapshot{}
		if err := json.Unmarshal(monitoring, extraction.Monitoring); err != nil {
			return nil, fmt.Errorf("failed to unmarshal monitoring: %w", err)
		}
	}

	return &extraction, nil
}
