package worker

import (
	"context"
	"time"

	"github.com/itstheanurag/codemare/internal/metrics"
	"github.com/itstheanurag/codemare/internal/models"
	"github.com/itstheanurag/codemare/internal/queue"
	"github.com/rs/zerolog"
)

// Executor runs one request to completion.
type Executor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResponse, error)
}

type Worker struct {
	id       int
	executor Executor
	manager  *queue.Manager
	logger   *zerolog.Logger
}

func NewWorker(id int, exec Executor, manager *queue.Manager, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		executor: exec,
		manager:  manager,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(job *queue.Job) {
	if err := job.Ctx.Err(); err != nil {
		w.logger.Debug().Str("job_id", job.ID).Msg("job abandoned before start")
		job.Err <- err
		return
	}

	w.logger.Info().
		Int("worker_id", w.id).
		Str("job_id", job.ID).
		Str("language", job.Request.Language).
		Str("mode", string(job.Request.Mode)).
		Msg("processing job")

	startTime := time.Now()
	result, err := w.executor.Execute(job.Ctx, job.Request)
	duration := time.Since(startTime)

	if err != nil {
		w.logger.Warn().Str("job_id", job.ID).Err(err).Dur("duration", duration).Msg("job failed")
		job.Err <- err
		return
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Int("passed", result.TotalPassed).
		Int("total", result.TotalTests).
		Dur("duration", duration).
		Msg("job finished")
	job.Result <- result
}
