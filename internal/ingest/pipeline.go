// Package ingest implements the sensor-data ingestion path: the Pipeline
// decides between enqueueing a reading for asynchronous processing and
// writing it directly, and the Worker drains the queue with bounded retries.
package ingest

import (
	"context"
	"log/slog"

	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/queue"
	"github.com/telemetry-hub/telemetry-hub/internal/telemetry"
)

// Enqueuer is the queue surface the pipeline needs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) (string, error)
}

// ReadingWriter is the persistence surface the pipeline needs
type ReadingWriter interface {
	InsertReading(ctx context.Context, reading *models.SensorReading) error
}

// SubmitResult reports how an accepted reading was handled. JobID is empty
// on the direct-write path; callers expose it as null.
type SubmitResult struct {
	Queued bool
	JobID  string
}

// Pipeline accepts validated readings and hands them to the queue, falling
// back to a synchronous insert when the queue is unavailable. A queue outage
// is absorbed here: the submitting gateway never sees a 5xx because Redis is
// down.
type Pipeline struct {
	queue    Enqueuer
	readings ReadingWriter
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. queue may be nil, in which case every
// submission takes the direct-write path.
func NewPipeline(q Enqueuer, readings ReadingWriter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		queue:    q,
		readings: readings,
		logger:   logger,
	}
}

// Submit persists one reading for the owning user, preferring the queue.
// An error return means the reading was neither queued nor written.
func (p *Pipeline) Submit(ctx context.Context, reading *models.SensorReading) (SubmitResult, error) {
	if p.queue != nil {
		job := jobFromReading(reading)
		jobID, err := p.queue.Enqueue(ctx, job)
		if err == nil {
			telemetry.ReadingsIngestedTotal.WithLabelValues("queued").Inc()
			return SubmitResult{Queued: true, JobID: jobID}, nil
		}

		p.logger.Warn("queue unavailable, falling back to direct write",
			"gateway_id", reading.GatewayID, "error", err)
	}

	if err := p.readings.InsertReading(ctx, reading); err != nil {
		telemetry.ReadingsRejectedTotal.Inc()
		return SubmitResult{}, err
	}

	telemetry.ReadingsIngestedTotal.WithLabelValues("direct").Inc()
	return SubmitResult{}, nil
}

func jobFromReading(reading *models.SensorReading) *queue.Job {
	return &queue.Job{
		UserID:         reading.UserID,
		GatewayID:      reading.GatewayID,
		NodeID:         reading.NodeID,
		Timestamp:      reading.Timestamp,
		Humidity:       reading.Humidity,
		Moisture:       reading.Moisture,
		Temperature:    reading.Temperature,
		BatteryVoltage: reading.BatteryVoltage,
		Measurements:   reading.Measurements,
	}
}
