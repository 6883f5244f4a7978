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
// CHANNEL RENEWAL JOB
// ══════════════════════════════════════════════════════════════════════════════

// ChannelRenewalJob re-registers notification channels before they expire.
// Remote providers cap channel lifetime, so without renewal the push path
// silently degrades to the fallback interval.
type ChannelRenewalJob struct {
	// Dependencies
	channelRepo syncdomain.ChannelRepository
	renewer     ChannelRenewer
	logger      *slog.Logger

	// Configuration
	config ChannelRenewalConfig

	// State
	lastRenewalStats atomic.Value // *RenewalStats
}

// ChannelRenewer re-registers a single notification channel with the remote.
// Implemented by the realtime service, which knows how to tear down the old
// channel and set up a replacement.
type ChannelRenewer interface {
	RenewChannel(ctx context.Context, channel *syncdomain.Channel) error
}

// ChannelRenewalConfig contains configuration for the renewal job.
type ChannelRenewalConfig struct {
	// RenewalWindow is how far ahead of expiration a channel is renewed.
	RenewalWindow time.Duration

	// Timeout is the maximum duration for the renewal run.
	Timeout time.Duration
}

// DefaultChannelRenewalConfig returns sensible defaults.
func DefaultChannelRenewalConfig() ChannelRenewalConfig {
	return ChannelRenewalConfig{
		RenewalWindow: 12 * time.Hour,
		Timeout:       5 * time.Minute,
	}
}

// RenewalStats contains statistics from a renewal run.
type RenewalStats struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	TotalFound   int
	RenewedCount int
	FailedCount  int
	Errors       []RenewalError
}

// RenewalError records a failed renewal within a run.
type RenewalError struct {
	ChannelID  string
	OwnerID    string
	Error      error
	OccurredAt time.Time
}

// NewChannelRenewalJob creates a new channel renewal job.
func NewChannelRenewalJob(
	channelRepo syncdomain.ChannelRepository,
	renewer ChannelRenewer,
	logger *slog.Logger,
	config ChannelRenewalConfig,
) *ChannelRenewalJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RenewalWindow <= 0 {
		config.RenewalWindow = 12 * time.Hour
	}

	return &ChannelRenewalJob{
		channelRepo: channelRepo,
		renewer:     renewer,
		logger:      logger,
		config:      config,
	}
}

// Name returns the job name.
func (j *ChannelRenewalJob) Name() string {
	return "renew_channels"
}

// Description returns a human-readable description.
func (j *ChannelRenewalJob) Description() string {
	return "Re-registers notification channels approaching expiration"
}

// Run executes the renewal pass.
func (j *ChannelRenewalJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &RenewalStats{
		StartedAt: startedAt,
		Errors:    make([]RenewalError, 0),
	}

	j.logger.Info("starting renew_channels job")

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	expiring, err := j.channelRepo.ListExpiring(ctx, time.Now().Add(j.config.RenewalWindow))
	if err != nil {
		return fmt.Errorf("failed to list expiring channels: %w", err)
	}

	stats.TotalFound = len(expiring)

	for _, ch := range expiring {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := j.renewer.RenewChannel(ctx, ch); err != nil {
			stats.FailedCount++
			stats.Errors = append(stats.Errors, RenewalError{
				ChannelID:  ch.ID,
				OwnerID:    ch.OwnerID,
				Error:      err,
				OccurredAt: time.Now(),
			})
			j.logger.Error("failed to renew channel",
				"channel_id", ch.ID,
				"owner_id", ch.OwnerID,
				"error", err,
			)
			continue
		}
		stats.RenewedCount++
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRenewalStats.Store(stats)

	j.logger.Info("renew_channels job completed",
		"duration", stats.Duration.String(),
		"found", stats.TotalFound,
		"renewed", stats.RenewedCount,
		"failed", stats.FailedCount,
	)

	if stats.FailedCount > 0 && stats.RenewedCount == 0 {
		return fmt.Errorf("all %d channel renewals failed", stats.FailedCount)
	}
	return nil
}

// LastRenewalStats returns stats from the most recent run, or nil.
func (j *ChannelRenewalJob) LastRenewalStats() *RenewalStats {
	if v := j.lastRenewalStats.Load(); v != nil {
		return v.(*RenewalStats)
	}
	return nil
}
