// reading_repository.go implements ReadingRepository, the tenant-scoped query
// layer for sensor readings. Every query here carries a user_id predicate;
// there is deliberately no method that reads or deletes across tenants except
// DeleteOlderThan, which the retention job runs against all tenants at once.
package repositories

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
)

const (
	defaultReadingLimit = 100
	maxReadingLimit     = 1000
)

// ReadingFilter narrows a reading listing. Zero values mean "no filter".
type ReadingFilter struct {
	GatewayID  string
	NodeID     string
	SinceHours int
	Limit      int
	Offset     int
}

// ReadingStats summarizes a tenant's dataset for the stats endpoint.
type ReadingStats struct {
	TotalReadings     int64      `db:"total_readings" json:"total_readings"`
	TotalGateways     int64      `db:"total_gateways" json:"total_gateways"`
	TotalNodes        int64      `db:"total_nodes" json:"total_nodes"`
	LatestReadingTime *time.Time `db:"latest_reading_time" json:"latest_reading_time"`
}

// ReadingRepository handles sensor reading database operations
type ReadingRepository struct {
	db *sqlx.DB
}

// NewReadingRepository creates a new ReadingRepository
func NewReadingRepository(db *sqlx.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// InsertReading persists one reading synchronously (the direct-write path
// used when the queue is unavailable, and by handlers in direct mode).
func (r *ReadingRepository) InsertReading(ctx context.Context, reading *models.SensorReading) error {
	reading.CreatedAt = time.Now()

	query := `
		INSERT INTO sensor_readings (user_id, gateway_id, node_id, timestamp, humidity, moisture, temperature, battery_voltage, measurements, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		reading.UserID,
		reading.GatewayID,
		reading.NodeID,
		reading.Timestamp,
		reading.Humidity,
		reading.Moisture,
		reading.Temperature,
		reading.BatteryVoltage,
		reading.Measurements,
		reading.JobID,
		reading.CreatedAt,
	).Scan(&reading.ID)
}

// InsertReadingFromJob persists a reading on behalf of a queued ingestion job.
// The unique job_id column makes the insert idempotent: a redelivered job hits
// the conflict clause and inserts nothing. Returns false when the row already
// existed.
func (r *ReadingRepository) InsertReadingFromJob(ctx context.Context, reading *models.SensorReading) (bool, error) {
	reading.CreatedAt = time.Now()

	query := `
		INSERT INTO sensor_readings (user_id, gateway_id, node_id, timestamp, humidity, moisture, temperature, battery_voltage, measurements, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		reading.UserID,
		reading.GatewayID,
		reading.NodeID,
		reading.Timestamp,
		reading.Humidity,
		reading.Moisture,
		reading.Temperature,
		reading.BatteryVoltage,
		reading.Measurements,
		reading.JobID,
		reading.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// ListReadings returns a tenant's readings newest first, with equal timestamps
// broken by insertion order. The limit is clamped to [1, 1000] and defaults
// to 100 when unset.
func (r *ReadingRepository) ListReadings(ctx context.Context, userID string, filter ReadingFilter) ([]*models.SensorReading, error) {
	query := `
		SELECT id, user_id, gateway_id, node_id, timestamp, humidity, moisture, temperature, battery_voltage, measurements, job_id, created_at
		FROM sensor_readings
		WHERE user_id = $1
	`
	args := []any{userID}

	if filter.GatewayID != "" {
		args = append(args, filter.GatewayID)
		query += ` AND gateway_id = $` + strconv.Itoa(len(args))
	}
	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		query += ` AND node_id = $` + strconv.Itoa(len(args))
	}
	if filter.SinceHours > 0 {
		args = append(args, time.Now().Add(-time.Duration(filter.SinceHours)*time.Hour))
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReadingLimit
	}
	if limit > maxReadingLimit {
		limit = maxReadingLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit)
	query += ` ORDER BY timestamp DESC, id ASC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	readings := []*models.SensorReading{}
	if err := r.db.SelectContext(ctx, &readings, query, args...); err != nil {
		return nil, err
	}

	return readings, nil
}

// ListGateways returns the tenant's distinct gateway IDs, sorted
func (r *ReadingRepository) ListGateways(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT gateway_id
		FROM sensor_readings
		WHERE user_id = $1
		ORDER BY gateway_id
	`

	gateways := []string{}
	if err := r.db.SelectContext(ctx, &gateways, query, userID); err != nil {
		return nil, err
	}

	return gateways, nil
}

// ListNodes returns the tenant's distinct node IDs, optionally narrowed to
// one gateway, sorted
func (r *ReadingRepository) ListNodes(ctx context.Context, userID, gatewayID string) ([]string, error) {
	query := `
		SELECT DISTINCT node_id
		FROM sensor_readings
		WHERE user_id = $1
	`
	args := []any{userID}

	if gatewayID != "" {
		args = append(args, gatewayID)
		query += ` AND gateway_id = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY node_id`

	nodes := []string{}
	if err := r.db.SelectContext(ctx, &nodes, query, args...); err != nil {
		return nil, err
	}

	return nodes, nil
}

// GetStats aggregates a tenant's dataset in one query
func (r *ReadingRepository) GetStats(ctx context.Context, userID string) (*ReadingStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_readings,
			COUNT(DISTINCT gateway_id) AS total_gateways,
			COUNT(DISTINCT node_id) AS total_nodes,
			MAX(timestamp) AS latest_reading_time
		FROM sensor_readings
		WHERE user_id = $1
	`

	stats := &ReadingStats{}
	if err := r.db.GetContext(ctx, stats, query, userID); err != nil {
		return nil, err
	}

	return stats, nil
}

// DeleteOlderThan removes readings (for all tenants) with a timestamp before
// the cutoff. Used by the retention job. Returns the number of rows deleted.
func (r *ReadingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sensor_readings
		WHERE timestamp < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
