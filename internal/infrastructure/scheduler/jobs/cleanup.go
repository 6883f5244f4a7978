// Package jobs contains implementations of scheduled jobs for Schedule Sync.
package jobs

import (
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP JOB
// ══════════════════════════════════════════════════════════════════════════════

// CleanupJob removes data that has outlived its usefulness: completed push
// operations past the retention window and notification channels that have
// already expired on the remote side.
type CleanupJob struct {
	// Dependencies
	operationRepo syncdomain.OperationRepository
	sweeper       ChannelSweeper
	logger        *slog.Logger

	// Configuration
	config CleanupConfig

	// State
	lastCleanupStats atomic.Value // *CleanupStats
}

// ChannelSweeper removes notification channels past their expiration.
type ChannelSweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// CleanupConfig contains configuration for the cleanup job.
type CleanupConfig struct {
	// OperationRetention is how long completed operations are kept for audit.
	OperationRetention time.Duration

	// Timeout is the maximum duration for the cleanup run.
	Timeout time.Duration
}

// DefaultCleanupConfig returns sensible defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		OperationRetention: 7 * 24 * time.Hour,
		Timeout:            time.Minute,
	}
}

// CleanupStats contains statistics from a cleanup run.
type CleanupStats struct {
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	OperationsPurged int
	ChannelsRemoved  int
	Errors           []error
}

// NewCleanupJob creates a new cleanup job.
func NewCleanupJob(
	operationRepo syncdomain.OperationRepository,
	sweeper ChannelSweeper,
	logger *slog.Logger,
	config CleanupConfig,
) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.OperationRetention <= 0 {
		config.OperationRetention = 7 * 24 * time.Hour
	}

	return &CleanupJob{
		operationRepo: operationRepo,
		sweeper:       sweeper,
		logger:        logger,
		config:        config,
	}
}

// Name returns the job name.
func (j *CleanupJob) Name() string {
	return "cleanup"
}

// Description returns a human-readable description.
func (j *CleanupJob) Description() string {
	return "Purges old completed operations and expired notification channels"
}

// Run executes the cleanup.
func (j *CleanupJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &CleanupStats{StartedAt: startedAt}

	j.logger.Info("starting cleanup job")

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	cutoff := time.Now().Add(-j.config.OperationRetention)
	purged, err := j.operationRepo.PurgeCompleted(ctx, cutoff)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("purge operations: %w", err))
		j.logger.Error("failed to purge completed operations", "error", err)
	} else {
		stats.OperationsPurged = purged
	}

	removed, err := j.sweeper.DeleteExpired(ctx, time.Now())
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("sweep channels: %w", err))
		j.logger.Error("failed to sweep expired channels", "error", err)
	} else {
		stats.ChannelsRemoved = removed
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastCleanupStats.Store(stats)

	j.logger.Info("cleanup job completed",
		"duration", stats.Duration.String(),
		"operations_purged", stats.OperationsPurged,
		"channels_removed", stats.ChannelsRemoved,
	)

	if len(stats.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d error(s): %v", len(stats.Errors), stats.Errors[0])
	}
	return nil
}

// LastCleanupStats returns stats from the most recent run, or nil.
func (j *CleanupJob) LastCleanupStats() *CleanupStats {
	if v := j.lastCleanupStats.Load(); v != nil {
		return v.(*CleanupStats)
	}
	return nil
}
