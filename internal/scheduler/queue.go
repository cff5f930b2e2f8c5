// Package scheduler sequences extraction work: one-shot time-delayed jobs in
// a durable queue, the schedule/unschedule operations that manage them, and
// the worker that drains due jobs into the extraction engine.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

var ErrQueueClosed = errors.New("queue is closed")

// Job is the snapshot a scheduled run carries. Template and params are
// frozen at schedule time, so later edits to the extraction record never
// retroactively change a pending run.
type Job struct {
	ID           string          `json:"id"`
	ExtractionID string          `json:"extraction_id"`
	OwnerID      string          `json:"owner_id"`
	Template     models.Template `json:"template"`
	Params       models.Params   `json:"params"`
	RunAt        time.Time       `json:"run_at"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

// Queue is the durable delayed-job collaborator. Cancel is idempotent and
// tolerates unknown ids; PopDue returns (nil, nil) when nothing is due.
type Queue interface {
	EnqueueAt(ctx context.Context, runAt time.Time, job *Job) (string, error)
	Cancel(ctx context.Context, jobID string) error
	PopDue(ctx context.Context, now time.Time) (*Job, error)
}

// MemoryQueue is the in-process Queue used in tests and single-node
// deployments without redis.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   []*Job
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) EnqueueAt(_ context.Context, runAt time.Time, job *Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	queued := *job
	queued.ID = uuid.New().String()
	queued.RunAt = runAt
	queued.EnqueuedAt = time.Now()

	q.jobs = append(q.jobs, &queued)
	sort.SliceStable(q.jobs, func(i, j int) bool {
		return q.jobs[i].RunAt.Before(q.jobs[j].RunAt)
	})

	return queued.ID, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.jobs {
		if job.ID == jobID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return nil
		}
	}
	// Unknown id: the job may have already fired.
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if len(q.jobs) == 0 || q.jobs[0].RunAt.After(now) {
		return nil, nil
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

// Size reports pending jobs; used by tests and the health endpoint.
func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
