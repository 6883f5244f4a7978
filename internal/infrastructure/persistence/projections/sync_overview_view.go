// Package projections implements read models for CQRS pattern.
// Projections are denormalized views optimized for fast reads.
// They are updated asynchronously when domain events occur.
package projections

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC OVERVIEW VIEW - Denormalized Read Model
// ══════════════════════════════════════════════════════════════════════════════

// SyncOverviewView holds the per-pair sync state across all owners. It is the
// operator's view: which pairs are syncing, which keep failing and which have
// gone quiet. It combines cycle events, conflict events and channel lifecycle
// events into a single fast-access structure.
type SyncOverviewView struct {
	mu sync.RWMutex

	// pairs holds one entry per (owner, calendar) pair.
	pairs map[string]*PairOverview

	// metadata holds aggregate counters over all pairs.
	metadata OverviewMetadata
}

// PairOverview is the denormalized state of one (owner, calendar) pair.
type PairOverview struct {
	// OwnerID - владелец расписания.
	OwnerID string `json:"owner_id"`

	// CalendarID - внешний календарь.
	CalendarID string `json:"calendar_id"`

	// LastCycleAt is when the last cycle finished, successful or not.
	LastCycleAt time.Time `json:"last_cycle_at"`

	// LastSuccessAt is when the last committed cycle finished.
	LastSuccessAt time.Time `json:"last_success_at"`

	// LastDuration is the wall-clock time of the last cycle.
	LastDuration time.Duration `json:"last_duration"`

	// LastFullSync is true when the last cycle ran without a token.
	LastFullSync bool `json:"last_full_sync"`

	// LastError is the most recent failure reason, if any.
	LastError string `json:"last_error,omitempty"`

	// FailureStreak counts consecutive failed cycles.
	FailureStreak int `json:"failure_streak"`

	// CyclesObserved counts all cycles seen for the pair.
	CyclesObserved int `json:"cycles_observed"`

	// EntitiesSynced accumulates applied remote changes.
	EntitiesSynced int `json:"entities_synced"`

	// ConflictsAutoResolved accumulates conflicts resolved without the user.
	ConflictsAutoResolved int `json:"conflicts_auto_resolved"`

	// ConflictsPending tracks conflicts currently waiting on the user.
	ConflictsPending int `json:"conflicts_pending"`

	// ErrorCount accumulates isolated per-entity failures.
	ErrorCount int `json:"error_count"`

	// RealtimeEnabled is true while a notification channel is registered.
	RealtimeEnabled bool `json:"realtime_enabled"`

	// ChannelID is the active notification channel, if any.
	ChannelID string `json:"channel_id,omitempty"`
}

// OverviewMetadata contains aggregate counters over all pairs.
type OverviewMetadata struct {
	// TotalPairs is the number of tracked (owner, calendar) pairs.
	TotalPairs int `json:"total_pairs"`

	// TotalCycles is the number of cycles observed since startup.
	TotalCycles int `json:"total_cycles"`

	// TotalFailures is the number of failed cycles since startup.
	TotalFailures int `json:"total_failures"`

	// RealtimePairs is the number of pairs with an active channel.
	RealtimePairs int `json:"realtime_pairs"`

	// LastUpdated is when any pair last changed.
	LastUpdated time.Time `json:"last_updated"`
}

// NewSyncOverviewView creates an empty overview projection.
func NewSyncOverviewView() *SyncOverviewView {
	return &SyncOverviewView{
		pairs: make(map[string]*PairOverview),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Write Side (event-driven updates)
// ─────────────────────────────────────────────────────────────────────────────

// RecordCycle applies a completed cycle to the pair's overview.
func (v *SyncOverviewView) RecordCycle(ownerID, calendarID string, synced, auto, open, errs int, duration time.Duration, fullSync bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p := v.pair(ownerID, calendarID)
	now := time.Now().UTC()

	p.LastCycleAt = now
	p.LastSuccessAt = now
	p.LastDuration = duration
	p.LastFullSync = fullSync
	p.LastError = ""
	p.FailureStreak = 0
	p.CyclesObserved++
	p.EntitiesSynced += synced
	p.ConflictsAutoResolved += auto
	p.ConflictsPending = open
	p.ErrorCount += errs

	v.metadata.TotalCycles++
	v.metadata.LastUpdated = now
}

// RecordFailure applies a failed cycle to the pair's overview.
func (v *SyncOverviewView) RecordFailure(ownerID, calendarID, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p := v.pair(ownerID, calendarID)
	now := time.Now().UTC()

	p.LastCycleAt = now
	p.LastError = reason
	p.FailureStreak++
	p.CyclesObserved++

	v.metadata.TotalCycles++
	v.metadata.TotalFailures++
	v.metadata.LastUpdated = now
}

// RecordConflictResolved decrements the pending counter after a manual
// resolution. Auto resolutions never entered the pending counter and are
// already accumulated by RecordCycle.
func (v *SyncOverviewView) RecordConflictResolved(ownerID, calendarID string, auto bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p := v.pair(ownerID, calendarID)
	if !auto && p.ConflictsPending > 0 {
		p.ConflictsPending--
	}
	v.metadata.LastUpdated = time.Now().UTC()
}

// SetRealtime toggles the realtime flag for a pair.
func (v *SyncOverviewView) SetRealtime(ownerID, calendarID, channelID string, enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p := v.pair(ownerID, calendarID)
	wasEnabled := p.RealtimeEnabled

	p.RealtimeEnabled = enabled
	if enabled {
		p.ChannelID = channelID
	} else {
		p.ChannelID = ""
	}

	switch {
	case enabled && !wasEnabled:
		v.metadata.RealtimePairs++
	case !enabled && wasEnabled && v.metadata.RealtimePairs > 0:
		v.metadata.RealtimePairs--
	}
	v.metadata.LastUpdated = time.Now().UTC()
}

// pair returns the entry for a pair, creating it on first sight.
// Caller holds the write lock.
func (v *SyncOverviewView) pair(ownerID, calendarID string) *PairOverview {
	key := pairKey(ownerID, calendarID)
	p, ok := v.pairs[key]
	if !ok {
		p = &PairOverview{OwnerID: ownerID, CalendarID: calendarID}
		v.pairs[key] = p
		v.metadata.TotalPairs++
	}
	return p
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Side
// ─────────────────────────────────────────────────────────────────────────────

// GetPair returns a copy of one pair's overview.
func (v *SyncOverviewView) GetPair(ctx context.Context, ownerID, calendarID string) (*PairOverview, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	p, ok := v.pairs[pairKey(ownerID, calendarID)]
	if !ok {
		return nil, fmt.Errorf("sync overview: pair %s/%s not tracked", ownerID, calendarID)
	}
	cp := *p
	return &cp, nil
}

// GetByOwner returns copies of all pairs tracked for one owner.
func (v *SyncOverviewView) GetByOwner(ctx context.Context, ownerID string) []*PairOverview {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var result []*PairOverview
	for _, p := range v.pairs {
		if p.OwnerID == ownerID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CalendarID < result[j].CalendarID
	})
	return result
}

// GetFailing returns pairs with at least minStreak consecutive failures,
// worst first.
func (v *SyncOverviewView) GetFailing(ctx context.Context, minStreak int) []*PairOverview {
	if minStreak < 1 {
		minStreak = 1
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var result []*PairOverview
	for _, p := range v.pairs {
		if p.FailureStreak >= minStreak {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FailureStreak > result[j].FailureStreak
	})
	return result
}

// GetStale returns pairs whose last cycle finished before the cutoff,
// oldest first. Pairs that never cycled are excluded.
func (v *SyncOverviewView) GetStale(ctx context.Context, cutoff time.Time) []*PairOverview {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var result []*PairOverview
	for _, p := range v.pairs {
		if !p.LastCycleAt.IsZero() && p.LastCycleAt.Before(cutoff) {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastCycleAt.Before(result[j].LastCycleAt)
	})
	return result
}

// GetMetadata returns the aggregate counters.
func (v *SyncOverviewView) GetMetadata(ctx context.Context) OverviewMetadata {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.metadata
}

func pairKey(ownerID, calendarID string) string {
	return ownerID + "|" + calendarID
}
