package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapegrid/scrapegrid/internal/models"
	"github.com/scrapegrid/scrapegrid/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExtractionStore struct {
	extraction *models.Extraction
	getErr     error

	setJobID   string
	setRunAt   time.Time
	setErr     error
	cleared    int
	clearErr   error
}

func (f *fakeExtractionStore) GetByID(_ context.Context, id, ownerID string) (*models.Extraction, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.extraction, nil
}

func (f *fakeExtractionStore) SetSchedule(_ context.Context, _, _, jobID string, runAt time.Time) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.setJobID = jobID
	f.setRunAt = runAt
	f.extraction.ScheduleJobID = jobID
	f.extraction.IsScheduled = true
	f.extraction.Status = models.StatusScheduled
	return nil
}

func (f *fakeExtractionStore) ClearSchedule(_ context.Context, _, _ string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared++
	f.extraction.ScheduleJobID = ""
	f.extraction.IsScheduled = false
	f.extraction.Status = models.StatusDraft
	return nil
}

func draftExtraction() *models.Extraction {
	return &models.Extraction{
		ID:       "ext-1",
		OwnerID:  "user-1",
		Name:     "coffee shops berlin",
		Template: models.TemplateMapsSearch,
		Params:   models.Params{Query: "coffee shops", City: "Berlin"},
		Status:   models.StatusDraft,
	}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("pops in run-at order once due", func(t *testing.T) {
		q := NewMemoryQueue()
		now := time.Now()

		_, err := q.EnqueueAt(ctx, now.Add(-time.Minute), &Job{ExtractionID: "late"})
		require.NoError(t, err)
		_, err = q.EnqueueAt(ctx, now.Add(-2*time.Minute), &Job{ExtractionID: "early"})
		require.NoError(t, err)
		_, err = q.EnqueueAt(ctx, now.Add(time.Hour), &Job{ExtractionID: "future"})
		require.NoError(t, err)

		first, err := q.PopDue(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "early", first.ExtractionID)

		second, err := q.PopDue(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "late", second.ExtractionID)

		third, err := q.PopDue(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, third)
		assert.Equal(t, 1, q.Size())
	})

	t.Run("cancel removes pending job", func(t *testing.T) {
		q := NewMemoryQueue()
		jobID, err := q.EnqueueAt(ctx, time.Now().Add(-time.Minute), &Job{ExtractionID: "x"})
		require.NoError(t, err)

		require.NoError(t, q.Cancel(ctx, jobID))

		job, err := q.PopDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("cancel tolerates unknown id", func(t *testing.T) {
		q := NewMemoryQueue()
		assert.NoError(t, q.Cancel(ctx, "never-existed"))
	})

	t.Run("closed queue rejects work", func(t *testing.T) {
		q := NewMemoryQueue()
		require.NoError(t, q.Close())

		_, err := q.EnqueueAt(ctx, time.Now(), &Job{})
		assert.ErrorIs(t, err, ErrQueueClosed)
	})
}

func TestScheduler_Schedule(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()

	t.Run("rejects past timestamps", func(t *testing.T) {
		s := New(NewMemoryQueue(), &fakeExtractionStore{extraction: draftExtraction()}, logger)

		_, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(-time.Second))

		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("rejects the current instant", func(t *testing.T) {
		s := New(NewMemoryQueue(), &fakeExtractionStore{extraction: draftExtraction()}, logger)
		fixed := time.Now()
		s.now = func() time.Time { return fixed }

		_, err := s.Schedule(ctx, "ext-1", "user-1", fixed)

		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("schedules a draft and snapshots params", func(t *testing.T) {
		q := NewMemoryQueue()
		st := &fakeExtractionStore{extraction: draftExtraction()}
		s := New(q, st, logger)
		runAt := time.Now().Add(time.Hour)

		jobID, err := s.Schedule(ctx, "ext-1", "user-1", runAt)

		require.NoError(t, err)
		assert.NotEmpty(t, jobID)
		assert.Equal(t, jobID, st.setJobID)
		assert.Equal(t, runAt, st.setRunAt)

		// Edits after scheduling must not affect the queued snapshot.
		st.extraction.Params.Query = "changed"

		job, err := q.PopDue(ctx, runAt.Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "coffee shops", job.Params.Query)
		assert.Equal(t, models.TemplateMapsSearch, job.Template)
	})

	t.Run("rescheduling yields a fresh job id and cancels the old one", func(t *testing.T) {
		q := NewMemoryQueue()
		st := &fakeExtractionStore{extraction: draftExtraction()}
		s := New(q, st, logger)

		first, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(time.Hour))
		require.NoError(t, err)

		second, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(2*time.Hour))
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
		assert.Equal(t, 1, q.Size())
	})

	t.Run("rejects incomplete params", func(t *testing.T) {
		ext := draftExtraction()
		ext.Params = models.Params{}
		s := New(NewMemoryQueue(), &fakeExtractionStore{extraction: ext}, logger)

		_, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(time.Hour))

		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("rejects running extraction", func(t *testing.T) {
		ext := draftExtraction()
		ext.Status = models.StatusRunning
		s := New(NewMemoryQueue(), &fakeExtractionStore{extraction: ext}, logger)

		_, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(time.Hour))

		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("missing extraction propagates not found", func(t *testing.T) {
		s := New(NewMemoryQueue(), &fakeExtractionStore{getErr: store.ErrNotFound}, logger)

		_, err := s.Schedule(ctx, "ext-404", "user-1", time.Now().Add(time.Hour))

		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("cancels orphaned job when persisting fails", func(t *testing.T) {
		q := NewMemoryQueue()
		st := &fakeExtractionStore{extraction: draftExtraction(), setErr: assert.AnError}
		s := New(q, st, logger)

		_, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(time.Hour))

		require.Error(t, err)
		assert.Equal(t, 0, q.Size())
	})
}

func TestScheduler_Unschedule(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()

	t.Run("removes job and clears schedule", func(t *testing.T) {
		q := NewMemoryQueue()
		st := &fakeExtractionStore{extraction: draftExtraction()}
		s := New(q, st, logger)

		_, err := s.Schedule(ctx, "ext-1", "user-1", time.Now().Add(time.Hour))
		require.NoError(t, err)

		require.NoError(t, s.Unschedule(ctx, "ext-1", "user-1"))

		assert.Equal(t, 0, q.Size())
		assert.Equal(t, 1, st.cleared)
		assert.Equal(t, models.StatusDraft, st.extraction.Status)
	})

	t.Run("idempotent on unscheduled extraction", func(t *testing.T) {
		st := &fakeExtractionStore{extraction: draftExtraction()}
		s := New(NewMemoryQueue(), st, logger)

		require.NoError(t, s.Unschedule(ctx, "ext-1", "user-1"))
		require.NoError(t, s.Unschedule(ctx, "ext-1", "user-1"))

		assert.Equal(t, 2, st.cleared)
	})
}
