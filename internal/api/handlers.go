package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scrapegrid/scrapegrid/internal/credits"
	"github.com/scrapegrid/scrapegrid/internal/identity"
	"github.com/scrapegrid/scrapegrid/internal/models"
	"github.com/scrapegrid/scrapegrid/internal/scheduler"
	"github.com/scrapegrid/scrapegrid/internal/store"
)

// ExtractionStore is the persistence surface the handlers need.
type ExtractionStore interface {
	Create(ctx context.Context, ownerID, name string, template models.Template) (*models.Extraction, error)
	GetByID(ctx context.Context, id, ownerID string) (*models.Extraction, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Extraction, error)
	Update(ctx context.Context, extraction *models.Extraction) error
	Delete(ctx context.Context, id, ownerID string) error
}

// JobScheduler arms and disarms one-shot runs.
type JobScheduler interface {
	Schedule(ctx context.Context, extractionID, ownerID string, whenUTC time.Time) (string, error)
	Unschedule(ctx context.Context, extractionID, ownerID string) error
}

// CreditService resolves, gates and meters the caller's credit state.
type CreditService interface {
	ResolveCreditState(ctx context.Context, userID string) (models.CreditAccount, error)
	Admit(ctx context.Context, userID string, cost int) error
	Consume(ctx context.Context, userID string, cost int) error
}

// Runner executes a synchronous run-now extraction.
type Runner interface {
	Run(ctx context.Context, template models.Template, params models.Params, ident identity.Identity) (*models.ScrapeResult, *models.MonitoringSnapshot, error)
}

type Handlers struct {
	extractions ExtractionStore
	scheduler   JobScheduler
	credits     CreditService
	runner      Runner
	pool        *identity.Pool
	pricing     credits.Pricing
	logger      *slog.Logger
}

func NewHandlers(extractions ExtractionStore, sched JobScheduler, creditSvc CreditService, runner Runner, pool *identity.Pool, pricing credits.Pricing, logger *slog.Logger) *Handlers {
	return &Handlers{
		extractions: extractions,
		scheduler:   sched,
		credits:     creditSvc,
		runner:      runner,
		pool:        pool,
		pricing:     pricing,
		logger:      logger.With("component", "api"),
	}
}

// CreateExtractionRequest creates a new draft extraction.
type CreateExtractionRequest struct {
	Name     string          `json:"name"`
	Template models.Template `json:"template"`
	Params   *models.Params  `json:"params,omitempty"`
}

// CreateExtraction handles new extraction creation.
func (h *Handlers) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)

	var req CreateExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !req.Template.Valid() {
		h.respondError(w, http.StatusBadRequest, "unknown template")
		return
	}

	if req.Params != nil {
		if err := req.Params.Validate(req.Template); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	extraction, err := h.extractions.Create(r.Context(), userID, req.Name, req.Template)
	if err != nil {
		h.logger.Error("failed to create extraction", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create extraction")
		return
	}

	if req.Params != nil {
		extraction.Params = *req.Params
		if err := h.extractions.Update(r.Context(), extraction); err != nil {
			h.logger.Error("failed to store params", "error", err, "extraction", extraction.ID)
			h.respondError(w, http.StatusInternalServerError, "failed to create extraction")
			return
		}
	}

	h.respondJSON(w, http.StatusCreated, extraction)
}

// GetExtraction returns a single extraction owned by the caller.
func (h *Handlers) GetExtraction(w http.ResponseWriter, r *http.Request) {
	extraction, err := h.extractions.GetByID(r.Context(), chi.URLParam(r, "extractionID"), callerID(r))
	if err != nil {
		h.respondStoreError(w, err, "failed to load extraction")
		return
	}
	h.respondJSON(w, http.StatusOK, extraction)
}

// ListExtractions returns all of the caller's extractions, newest first.
func (h *Handlers) ListExtractions(w http.ResponseWriter, r *http.Request) {
	extractions, err := h.extractions.ListByOwner(r.Context(), callerID(r))
	if err != nil {
		h.logger.Error("failed to list extractions", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list extractions")
		return
	}
	h.respondJSON(w, http.StatusOK, extractions)
}

// UpdateExtractionRequest updates the mutable parts of a draft.
type UpdateExtractionRequest struct {
	Name   string         `json:"name"`
	Params *models.Params `json:"params,omitempty"`
}

// UpdateExtraction updates name and params. Scheduled jobs keep the params
// snapshot they were armed with, so edits here never affect a pending run.
func (h *Handlers) UpdateExtraction(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)

	var req UpdateExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	extraction, err := h.extractions.GetByID(r.Context(), chi.URLParam(r, "extractionID"), userID)
	if err != nil {
		h.respondStoreError(w, err, "failed to load extraction")
		return
	}

	if req.Name != "" {
		extraction.Name = req.Name
	}
	if req.Params != nil {
		if err := req.Params.Validate(extraction.Template); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		extraction.Params = *req.Params
	}

	if err := h.extractions.Update(r.Context(), extraction); err != nil {
		h.respondStoreError(w, err, "failed to update extraction")
		return
	}
	h.respondJSON(w, http.StatusOK, extraction)
}

// DeleteExtraction disarms any pending job, then deletes the extraction.
func (h *Handlers) DeleteExtraction(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	extractionID := chi.URLParam(r, "extractionID")

	if err := h.scheduler.Unschedule(r.Context(), extractionID, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("failed to unschedule before delete", "error", err, "extraction", extractionID)
	}
	if err := h.extractions.Delete(r.Context(), extractionID, userID); err != nil {
		h.respondStoreError(w, err, "failed to delete extraction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScheduleRequest arms a one-shot run at a future instant.
type ScheduleRequest struct {
	RunAt time.Time `json:"run_at"`
}

// ScheduleResponse reports the armed job.
type ScheduleResponse struct {
	JobID string    `json:"job_id"`
	RunAt time.Time `json:"run_at"`
}

// ScheduleExtraction handles POST .../schedule.
func (h *Handlers) ScheduleExtraction(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunAt.IsZero() {
		h.respondError(w, http.StatusBadRequest, "run_at is required")
		return
	}

	jobID, err := h.scheduler.Schedule(r.Context(), chi.URLParam(r, "extractionID"), callerID(r), req.RunAt.UTC())
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrInvalidSchedule), errors.Is(err, scheduler.ErrInvalidParams):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "extraction not found")
		default:
			h.logger.Error("failed to schedule extraction", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to schedule extraction")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, ScheduleResponse{JobID: jobID, RunAt: req.RunAt.UTC()})
}

// UnscheduleExtraction handles DELETE .../schedule. Idempotent.
func (h *Handlers) UnscheduleExtraction(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.Unschedule(r.Context(), chi.URLParam(r, "extractionID"), callerID(r))
	if err != nil {
		h.respondStoreError(w, err, "failed to unschedule extraction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunResponse is the synchronous run-now payload.
type RunResponse struct {
	Status          string                     `json:"status"`
	FailureReason   string                     `json:"failure_reason,omitempty"`
	Result          *models.ScrapeResult       `json:"result,omitempty"`
	Monitoring      *models.MonitoringSnapshot `json:"monitoring,omitempty"`
	CreditsConsumed int                        `json:"credits_consumed"`
}

// RunNow handles GET /api/v1/run: an inline synchronous extraction driven by
// query parameters. Admission runs before any browser work; engine failures
// come back as status=failed with a reason, not as transport errors.
func (h *Handlers) RunNow(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	q := r.URL.Query()

	template := models.Template(q.Get("template"))
	if !template.Valid() {
		h.respondError(w, http.StatusBadRequest, "unknown template")
		return
	}

	params := models.Params{
		Query:   q.Get("query"),
		URL:     q.Get("url"),
		City:    q.Get("city"),
		Country: q.Get("country"),
	}
	if raw := q.Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "max_results must be a non-negative integer")
			return
		}
		params.MaxResults = n
	}
	params.EnrichContacts = q.Get("enrich_contacts") == "true"

	if err := params.Validate(template); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cost := h.pricing.RunCost(template, params)
	if err := h.credits.Admit(r.Context(), userID, cost); err != nil {
		if errors.Is(err, credits.ErrQuotaExceeded) {
			h.respondError(w, http.StatusPaymentRequired, "credit quota exceeded")
			return
		}
		h.logger.Error("admission check failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to check credits")
		return
	}

	result, mon, err := h.runner.Run(r.Context(), template, params, h.pool.Pick())
	if err != nil {
		h.logger.Warn("run-now failed", "error", err, "template", template)
		h.respondJSON(w, http.StatusOK, RunResponse{
			Status:        string(models.StatusFailed),
			FailureReason: err.Error(),
			Monitoring:    mon,
		})
		return
	}

	if err := h.credits.Consume(r.Context(), userID, cost); err != nil {
		h.logger.Error("failed to consume credits", "error", err, "user", userID)
	}

	h.respondJSON(w, http.StatusOK, RunResponse{
		Status:          string(models.StatusCompleted),
		Result:          result,
		Monitoring:      mon,
		CreditsConsumed: cost,
	})
}

// GetCredits returns the caller's resolved credit state.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	account, err := h.credits.ResolveCreditState(r.Context(), callerID(r))
	if err != nil {
		h.logger.Error("failed to resolve credit state", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to resolve credits")
		return
	}
	h.respondJSON(w, http.StatusOK, account)
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) respondStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "extraction not found")
		return
	}
	h.logger.Error(message, "error", err)
	h.respondError(w, http.StatusInternalServerError, message)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
