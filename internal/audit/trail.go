package audit

import (
	"context"
	"log/slog"
	"time"
)

// Trail is the recording front end handlers use. A nil Trail discards every
// record, so audit can be left unconfigured without nil checks at call sites.
// Ship failures are logged, never surfaced: an audit outage must not fail
// the request being audited.
type Trail struct {
	shipper Shipper
	logger  *slog.Logger
	now     func() time.Time
}

// NewTrail creates a Trail over the given shipper
func NewTrail(shipper Shipper, logger *slog.Logger) *Trail {
	return &Trail{shipper: shipper, logger: logger, now: time.Now}
}

// Record stamps and ships one entry
func (t *Trail) Record(ctx context.Context, entry Entry) {
	if t == nil || t.shipper == nil {
		return
	}
	entry.Timestamp = t.now()
	if err := t.shipper.Ship(ctx, &entry); err != nil {
		t.logger.Error("failed to record audit entry", "action", entry.Action, "error", err)
	}
}

// Close closes the underlying shipper
func (t *Trail) Close() {
	if t == nil || t.shipper == nil {
		return
	}
	if err := t.shipper.Close(); err != nil {
		t.logger.Error("failed to close audit trail", "error", err)
	}
}
