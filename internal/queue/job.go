// Package queue implements the Redis-backed ingestion job queue. Jobs ready
// for processing live in a list; jobs awaiting a retry delay live in a sorted
// set scored by their due time and are promoted to the list when due. Job
// payloads travel as JSON.
package queue

import (
	"time"

	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
)

// MaxAttempts is the total number of times a job may enter processing
// before it is abandoned.
const MaxAttempts = 3

// Job is one queued sensor reading plus the retry bookkeeping. ID doubles as
// the idempotency key for the eventual database insert.
type Job struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	GatewayID      string              `json:"gateway_id"`
	NodeID         string              `json:"node_id"`
	Timestamp      time.Time           `json:"timestamp"`
	Humidity       *float64            `json:"humidity,omitempty"`
	Moisture       *float64            `json:"moisture,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	BatteryVoltage *float64            `json:"battery_voltage,omitempty"`
	Measurements   models.Measurements `json:"measurements,omitempty"`

	// Attempt counts completed processing attempts. A freshly enqueued
	// job has Attempt 0; the worker increments it before each try.
	Attempt int `json:"attempt"`
}

// Reading converts the job back into the row the worker persists
func (j *Job) Reading() *models.SensorReading {
	jobID := j.ID
	return &models.SensorReading{
		UserID:         j.UserID,
		GatewayID:      j.GatewayID,
		NodeID:         j.NodeID,
		Timestamp:      j.Timestamp,
		Humidity:       j.Humidity,
		Moisture:       j.Moisture,
		Temperature:    j.Temperature,
		BatteryVoltage: j.BatteryVoltage,
		Measurements:   j.Measurements,
		JobID:          &jobID,
	}
}

// RetryDelay returns the backoff before the given attempt number runs:
// 2^attempt seconds, so the first retry waits 2s and the second 4s.
func RetryDelay(attempt int) time.Duration {
	delay := time.Second
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
