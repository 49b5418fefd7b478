// worker.go implements the queue-draining worker pool. Each job moves through
// a bounded state machine: it is dequeued, attempted, and on transient
// failure rescheduled with exponential backoff until its attempt budget is
// spent, after which it is logged and dropped. The unique job ID makes the
// insert idempotent, so a job that crashed mid-write can be retried safely.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/queue"
	"github.com/telemetry-hub/telemetry-hub/internal/safego"
	"github.com/telemetry-hub/telemetry-hub/internal/telemetry"
)

// JobSource is the queue surface the worker needs
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Reschedule(ctx context.Context, job *queue.Job, delay time.Duration) error
}

// JobWriter is the persistence surface the worker needs
type JobWriter interface {
	InsertReadingFromJob(ctx context.Context, reading *models.SensorReading) (bool, error)
}

// Worker drains the ingestion queue with a pool of goroutines
type Worker struct {
	source   JobSource
	readings JobWriter
	logger   *slog.Logger
	workers  int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a Worker with the given pool size
func NewWorker(source JobSource, readings JobWriter, workers int, logger *slog.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		source:   source,
		readings: readings,
		logger:   logger,
		workers:  workers,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool
func (w *Worker) Start() {
	w.logger.Info("ingestion worker pool started", "workers", w.workers)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		safego.Go(func() {
			defer w.wg.Done()
			w.run()
		})
	}
}

// Stop signals the pool to drain and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("ingestion worker pool stopped")
}

func (w *Worker) run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		job, err := w.source.Dequeue(context.Background())
		if err != nil {
			w.logger.Error("failed to dequeue ingestion job", "error", err)
			select {
			case <-w.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.process(job)
	}
}

// process runs one attempt of a job. Attempt numbering is 1-based once a job
// enters processing; a job whose third attempt fails is abandoned.
func (w *Worker) process(job *queue.Job) {
	ctx := context.Background()
	job.Attempt++

	inserted, err := w.readings.InsertReadingFromJob(ctx, job.Reading())
	if err == nil {
		if !inserted {
			telemetry.IngestJobsTotal.WithLabelValues("duplicate").Inc()
			w.logger.Info("ingestion job already persisted, skipping",
				"job_id", job.ID, "attempt", job.Attempt)
			return
		}
		telemetry.IngestJobsTotal.WithLabelValues("persisted").Inc()
		return
	}

	if job.Attempt >= queue.MaxAttempts {
		telemetry.IngestJobsTotal.WithLabelValues("abandoned").Inc()
		w.logger.Error("ingestion job abandoned after final attempt",
			"job_id", job.ID, "user_id", job.UserID, "gateway_id", job.GatewayID,
			"attempts", job.Attempt, "error", err)
		return
	}

	delay := queue.RetryDelay(job.Attempt)
	if rerr := w.source.Reschedule(ctx, job, delay); rerr != nil {
		telemetry.IngestJobsTotal.WithLabelValues("abandoned").Inc()
		w.logger.Error("failed to reschedule ingestion job, dropping it",
			"job_id", job.ID, "attempt", job.Attempt, "error", rerr)
		return
	}

	telemetry.IngestJobsTotal.WithLabelValues("retried").Inc()
	w.logger.Warn("ingestion job failed, retry scheduled",
		"job_id", job.ID, "attempt", job.Attempt, "delay", delay, "error", err)
}
