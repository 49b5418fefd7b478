package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// readyKey is the list of jobs ready for immediate processing
	readyKey = "ingest:jobs"

	// scheduledKey is the sorted set of delayed jobs, scored by unix due time
	scheduledKey = "ingest:scheduled"

	// dequeueBlock is how long Dequeue blocks waiting for a ready job
	// before returning so the worker loop can check for shutdown
	dequeueBlock = time.Second
)

// Queue is a Redis-backed job queue
type Queue struct {
	client         *redis.Client
	enqueueTimeout time.Duration
}

// New creates a Queue on the given Redis server
func New(addr, password string, db int, enqueueTimeout time.Duration) *Queue {
	return &Queue{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		enqueueTimeout: enqueueTimeout,
	}
}

// Ping checks the Redis connection
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the Redis connection
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job onto the ready list and returns its ID, assigning one
// when the job does not have one yet. The push is bounded by the configured
// enqueue timeout so a hung Redis cannot stall the ingestion request path.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.enqueueTimeout)
	defer cancel()

	if err := q.client.RPush(ctx, readyKey, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	return job.ID, nil
}

// Dequeue promotes any due delayed jobs and then blocks briefly for a ready
// job. Returns (nil, nil) when nothing became ready inside the blocking
// window.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BLPop(ctx, dequeueBlock, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	// BLPop returns [key, value]
	job := &Job{}
	if err := json.Unmarshal([]byte(result[1]), job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	return job, nil
}

// Reschedule parks a job in the delayed set, due after the given delay
func (q *Queue) Reschedule(ctx context.Context, job *Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, scheduledKey, redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}

	return nil
}

// promoteDue moves delayed jobs whose due time has passed onto the ready
// list. ZRem gates the push so concurrent workers cannot promote the same
// member twice.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())

	members, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan scheduled jobs: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, scheduledKey, member).Result()
		if err != nil {
			return fmt.Errorf("claim scheduled job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, readyKey, member).Err(); err != nil {
			return fmt.Errorf("promote scheduled job: %w", err)
		}
	}

	return nil
}
