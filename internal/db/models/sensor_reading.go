package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Measurements is the open-ended map of extra sensor values (NPK, pH, ...)
// stored as JSONB alongside the four fixed columns. It implements
// driver.Valuer and sql.Scanner so repositories can bind it directly.
type Measurements map[string]any

// Value implements driver.Valuer. A nil map is stored as SQL NULL rather than
// the JSON literal "null" so the column stays queryable with IS NULL.
func (m Measurements) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Measurements) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("measurements: cannot scan %T", src)
	}
	return json.Unmarshal(b, m)
}

// SensorReading is one time-series data point uploaded by a field gateway.
// Readings are immutable once persisted and owned exclusively by the tenant
// (UserID) that submitted them.
type SensorReading struct {
	ID             int64        `db:"id" json:"id"`
	UserID         string       `db:"user_id" json:"-"`
	GatewayID      string       `db:"gateway_id" json:"gateway_id"`
	NodeID         string       `db:"node_id" json:"node_id"`
	Timestamp      time.Time    `db:"timestamp" json:"timestamp"`
	Humidity       *float64     `db:"humidity" json:"humidity"`
	Moisture       *float64     `db:"moisture" json:"moisture"`
	Temperature    *float64     `db:"temperature" json:"temperature"`
	BatteryVoltage *float64     `db:"battery_voltage" json:"battery_voltage"`
	Measurements   Measurements `db:"measurements" json:"measurements,omitempty"`
	// JobID is set only for rows written by the retry worker; it is the
	// ingestion job's idempotency key.
	JobID     *string   `db:"job_id" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
