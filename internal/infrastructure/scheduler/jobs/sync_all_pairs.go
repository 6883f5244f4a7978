// Package jobs contains implementations of scheduled jobs for Schedule Sync.
// The periodic jobs act as a safety net behind push notifications: even if a
// notification channel is lost, every calendar pair still converges within
// one fallback interval.
package jobs

import (
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ALL PAIRS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncAllPairsJob runs a sync cycle for every (owner, calendar) pair with a
// stored token. This is the fallback path: webhooks cover the common case,
// this job guarantees convergence even when notifications are missed.
type SyncAllPairsJob struct {
	// Dependencies
	tokenRepo syncdomain.TokenRepository
	runner    CycleRunner
	logger    *slog.Logger

	// Configuration
	config SyncAllPairsConfig

	// State (for metrics)
	lastRunStats atomic.Value // *SyncRunStats
}

// CycleRunner executes a single sync cycle for one calendar pair.
type CycleRunner interface {
	RunCycle(ctx context.Context, ownerID, calendarID string) error
}

// SyncAllPairsConfig contains configuration for the fallback sync job.
type SyncAllPairsConfig struct {
	// Concurrency is the number of pairs to sync in parallel.
	Concurrency int

	// PairTimeout is the maximum duration of a single pair's cycle.
	PairTimeout time.Duration

	// Timeout is the maximum duration for the entire run.
	Timeout time.Duration
}

// DefaultSyncAllPairsConfig returns sensible defaults.
func DefaultSyncAllPairsConfig() SyncAllPairsConfig {
	return SyncAllPairsConfig{
		Concurrency: 4,
		PairTimeout: 2 * time.Minute,
		Timeout:     15 * time.Minute,
	}
}

// SyncRunStats contains statistics from a full run.
type SyncRunStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	TotalPairs  int
	SyncedCount int
	FailedCount int
	Errors      []PairError
}

// PairError records a failed pair within a run.
type PairError struct {
	OwnerID    string
	CalendarID string
	Error      error
	OccurredAt time.Time
}

// NewSyncAllPairsJob creates a new fallback sync job.
func NewSyncAllPairsJob(
	tokenRepo syncdomain.TokenRepository,
	runner CycleRunner,
	logger *slog.Logger,
	config SyncAllPairsConfig,
) *SyncAllPairsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	return &SyncAllPairsJob{
		tokenRepo: tokenRepo,
		runner:    runner,
		logger:    logger,
		config:    config,
	}
}

// Name returns the job name.
func (j *SyncAllPairsJob) Name() string {
	return "sync_all_pairs"
}

// Description returns a human-readable description.
func (j *SyncAllPairsJob) Description() string {
	return "Runs a fallback sync cycle for every calendar pair with a stored token"
}

// Run executes the fallback sync.
func (j *SyncAllPairsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &SyncRunStats{
		StartedAt: startedAt,
		Errors:    make([]PairError, 0),
	}

	j.logger.Info("starting sync_all_pairs job")

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	pairs, err := j.tokenRepo.ListPairs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list calendar pairs: %w", err)
	}

	stats.TotalPairs = len(pairs)
	j.logger.Info("found pairs to sync", "count", stats.TotalPairs)

	if stats.TotalPairs == 0 {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(startedAt)
		j.lastRunStats.Store(stats)
		return nil
	}

	j.syncPairsConcurrently(ctx, pairs, stats)

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.logger.Info("sync_all_pairs job completed",
		"duration", stats.Duration.String(),
		"total", stats.TotalPairs,
		"synced", stats.SyncedCount,
		"failed", stats.FailedCount,
	)

	// Return error if too many failures
	failureRate := float64(stats.FailedCount) / float64(stats.TotalPairs)
	if failureRate > 0.5 {
		return fmt.Errorf("sync failed for more than 50%% of pairs (%d/%d)",
			stats.FailedCount, stats.TotalPairs)
	}

	return nil
}

// syncPairsConcurrently runs cycles using a worker pool.
func (j *SyncAllPairsJob) syncPairsConcurrently(ctx context.Context, pairs []syncdomain.Pair, stats *SyncRunStats) {
	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.Concurrency)
		mu        sync.Mutex
	)

	for _, p := range pairs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{} // Acquire

		go func(pair syncdomain.Pair) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release

			pairCtx := ctx
			if j.config.PairTimeout > 0 {
				var cancel context.CancelFunc
				pairCtx, cancel = context.WithTimeout(ctx, j.config.PairTimeout)
				defer cancel()
			}

			err := j.runner.RunCycle(pairCtx, pair.OwnerID, pair.CalendarID)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				stats.FailedCount++
				stats.Errors = append(stats.Errors, PairError{
					OwnerID:    pair.OwnerID,
					CalendarID: pair.CalendarID,
					Error:      err,
					OccurredAt: time.Now(),
				})
				j.logger.Error("failed to sync pair",
					"owner_id", pair.OwnerID,
					"calendar_id", pair.CalendarID,
					"error", err,
				)
			} else {
				stats.SyncedCount++
			}
		}(p)
	}

	wg.Wait()
}

// LastRunStats returns stats from the most recent run, or nil.
func (j *SyncAllPairsJob) LastRunStats() *SyncRunStats {
	if v := j.lastRunStats.Load(); v != nil {
		return v.(*SyncRunStats)
	}
	return nil
}
