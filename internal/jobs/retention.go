// Package jobs contains periodic background maintenance tasks. Each job owns
// a ticker loop started with Start and torn down with Stop; jobs are always
// safe to construct and start regardless of configuration because a disabled
// job exits immediately.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/telemetry-hub/telemetry-hub/internal/config"
)

// ReadingPurger deletes readings older than the retention cutoff
type ReadingPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OTPPurger deletes expired password reset codes
type OTPPurger interface {
	DeleteExpiredOTPs(ctx context.Context) (int64, error)
}

// RetentionJob periodically deletes sensor readings past their retention
// window and sweeps expired password reset codes in the same pass.
type RetentionJob struct {
	readings ReadingPurger
	otps     OTPPurger
	cfg      *config.RetentionConfig
	logger   *slog.Logger
	interval time.Duration
	stopChan chan struct{}
}

// NewRetentionJob creates a RetentionJob
func NewRetentionJob(readings ReadingPurger, otps OTPPurger, cfg *config.RetentionConfig, logger *slog.Logger) *RetentionJob {
	hours := cfg.CheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &RetentionJob{
		readings: readings,
		otps:     otps,
		cfg:      cfg,
		logger:   logger,
		interval: time.Duration(hours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop. It runs one sweep immediately, then repeats
// on the configured interval until ctx is cancelled or Stop is called.
func (j *RetentionJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		j.logger.Info("retention job disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("retention job started",
		"retention_days", j.cfg.Days, "check_interval", j.interval)

	j.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stopChan:
			j.logger.Info("retention job stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the cleanup loop
func (j *RetentionJob) Stop() {
	close(j.stopChan)
}

func (j *RetentionJob) sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -j.cfg.Days)

	deleted, err := j.readings.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention sweep failed", "error", err)
	} else if deleted > 0 {
		j.logger.Info("retention sweep deleted old readings",
			"deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}

	purged, err := j.otps.DeleteExpiredOTPs(ctx)
	if err != nil {
		j.logger.Error("expired OTP sweep failed", "error", err)
	} else if purged > 0 {
		j.logger.Info("expired OTP sweep complete", "purged", purged)
	}
}
