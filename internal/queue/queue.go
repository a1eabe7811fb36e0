package queue

import (
	"context"

	"github.com/google/uuid"
	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/metrics"
	"github.com/itstheanurag/codemare/internal/models"
)

type Job struct {
	ID      string
	Request models.ExecutionRequest
	Result  chan *models.ExecutionResponse
	Err     chan error
	Ctx     context.Context
}

// NewJob returns a job with buffered reply channels, so a worker never blocks
// on a caller that stopped waiting.
func NewJob(ctx context.Context, req models.ExecutionRequest) *Job {
	return &Job{
		ID:      uuid.NewString(),
		Request: req,
		Result:  make(chan *models.ExecutionResponse, 1),
		Err:     make(chan error, 1),
		Ctx:     ctx,
	}
}

type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

// Submit enqueues job without blocking. A full queue yields Busy.
func (m *Manager) Submit(job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	default:
		return apperr.Newf(apperr.Busy, "Execution queue is full, try again later")
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) Len() int {
	return len(m.jobQueue)
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
