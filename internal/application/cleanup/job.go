// Package cleanup purges pending registrations whose verification code
// expired longer ago than the retention window.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/agrisense-api/internal/domain"
	"github.com/agrisense-api/internal/metrics"
)

// DefaultRetention is how long an expired registration is kept before purge.
const DefaultRetention = 24 * time.Hour

// ErrInProgress is returned when Run is called while another run is active.
var ErrInProgress = fmt.Errorf("cleanup already running: %w", domain.ErrConflict)

type expiredStore interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job deletes every pending registration with otp expiry <= now - Retention.
// Runs are idempotent and never overlap.
type Job struct {
	store     expiredStore
	logger    *slog.Logger
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	running   atomic.Bool
}

type JobConfig struct {
	Retention time.Duration
	Timeout   time.Duration // 0 means no per-run deadline
	Now       func() time.Time
}

func NewJob(store expiredStore, logger *slog.Logger, cfg JobConfig) *Job {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:     store,
		logger:    logger,
		retention: cfg.Retention,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
	}
}

// Cutoff returns the purge boundary for a run starting at now.
func (j *Job) Cutoff(now time.Time) time.Time {
	return now.UTC().Truncate(time.Second).Add(-j.retention)
}

// Run performs one cleanup pass and returns the number of deleted registrations.
func (j *Job) Run(ctx context.Context) (int64, error) {
	if !j.running.CompareAndSwap(false, true) {
		metrics.CleanupRunsTotal.WithLabelValues(metrics.RunSkipped).Inc()
		return 0, ErrInProgress
	}
	defer j.running.Store(false)

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	cutoff := j.Cutoff(j.now())
	j.logger.Info("cleanup run started", "cutoff", cutoff)

	n, err := j.store.DeleteExpired(ctx, cutoff)
	metrics.CleanupRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CleanupRunsTotal.WithLabelValues(metrics.RunFailure).Inc()
		return 0, fmt.Errorf("delete expired registrations: %w: %w", domain.ErrDependency, err)
	}

	metrics.CleanupRunsTotal.WithLabelValues(metrics.RunSuccess).Inc()
	metrics.CleanupDeletedTotal.Add(float64(n))
	metrics.CleanupLastSuccess.SetToCurrentTime()
	j.logger.Info("cleanup run completed", "deleted", n, "duration", time.Since(start))
	return n, nil
}

// Running reports whether a run is in progress.
func (j *Job) Running() bool { return j.running.Load() }
