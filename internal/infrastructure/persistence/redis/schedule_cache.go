package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleCache caches resolved per-owner schedule data on top of Cache.
// The sync engine invalidates an owner's entries whenever a cycle applies
// changes, so readers tolerate only bounded staleness.
type ScheduleCache struct {
	cache *Cache
}

// NewScheduleCache creates a new ScheduleCache.
func NewScheduleCache(cache *Cache) *ScheduleCache {
	return &ScheduleCache{cache: cache}
}

// GetEvents returns the cached active events of an owner.
// Returns ErrCacheMiss when the view is not cached.
func (s *ScheduleCache) GetEvents(ctx context.Context, ownerID string) ([]*schedule.ScheduledEvent, error) {
	var events []*schedule.ScheduledEvent
	if err := s.cache.Get(ctx, ScheduleKey(ownerID), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// SetEvents caches the active events of an owner.
func (s *ScheduleCache) SetEvents(ctx context.Context, ownerID string, events []*schedule.ScheduledEvent) error {
	return s.cache.Set(ctx, ScheduleKey(ownerID), events, TTLScheduleCache)
}

// GetOccurrences returns a cached occurrence window.
// The window argument identifies the requested date range (e.g. "2026-09-01:2026-09-07").
func (s *ScheduleCache) GetOccurrences(ctx context.Context, ownerID, window string) ([]time.Time, error) {
	var occurrences []time.Time
	if err := s.cache.Get(ctx, OccurrencesKey(ownerID, window), &occurrences); err != nil {
		return nil, err
	}
	return occurrences, nil
}

// SetOccurrences caches a materialized occurrence window.
func (s *ScheduleCache) SetOccurrences(ctx context.Context, ownerID, window string, occurrences []time.Time) error {
	return s.cache.Set(ctx, OccurrencesKey(ownerID, window), occurrences, TTLOccurrencesCache)
}

// Invalidate drops all cached views of an owner. Called after every
// applied sync cycle and after local edits.
func (s *ScheduleCache) Invalidate(ctx context.Context, ownerID string) error {
	if err := s.cache.Delete(ctx, ScheduleKey(ownerID)); err != nil {
		return fmt.Errorf("failed to invalidate schedule cache: %w", err)
	}
	if err := s.cache.DeleteByPattern(ctx, OccurrencesKey(ownerID, "*")); err != nil {
		return fmt.Errorf("failed to invalidate occurrence cache: %w", err)
	}
	return nil
}

// IsMiss reports whether the error is a cache miss (as opposed to a
// Redis failure that should be logged).
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
