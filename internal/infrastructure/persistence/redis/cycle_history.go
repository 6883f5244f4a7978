package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CYCLE HISTORY
// Ring of recent sync cycle metrics per (owner, calendar) pair, kept in a
// Redis list: LPUSH + LTRIM hold a fixed depth, the sync health report
// reads the whole ring.
// ══════════════════════════════════════════════════════════════════════════════

// CycleRecord describes one completed (or failed) sync cycle.
type CycleRecord struct {
	// CycleID is the unique identifier of the cycle.
	CycleID string `json:"cycle_id"`

	// StartedAt is when the cycle began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock length of the cycle.
	Duration time.Duration `json:"duration"`

	// ChangesApplied is the number of remote changes applied locally.
	ChangesApplied int `json:"changes_applied"`

	// ChangesPushed is the number of local operations pushed out.
	ChangesPushed int `json:"changes_pushed"`

	// APICalls is the number of remote calendar API requests made.
	APICalls int `json:"api_calls"`

	// ConflictsDetected is the number of conflicts found during the cycle.
	ConflictsDetected int `json:"conflicts_detected"`

	// Errors holds per-entity error messages; the cycle itself may still
	// have committed when individual entities failed.
	Errors []string `json:"errors,omitempty"`

	// Committed is false when the cycle aborted before advancing the token.
	Committed bool `json:"committed"`

	// FullSync is true when the cycle ran without a token.
	FullSync bool `json:"full_sync"`
}

// CycleHistory stores recent cycle metrics per (owner, calendar) pair.
type CycleHistory struct {
	cache *Cache
	depth int
}

// NewCycleHistory creates a CycleHistory keeping at most depth records per pair.
func NewCycleHistory(cache *Cache, depth int) *CycleHistory {
	if depth <= 0 {
		depth = 20
	}
	return &CycleHistory{cache: cache, depth: depth}
}

// Record appends a cycle record and trims the ring to its depth.
func (h *CycleHistory) Record(ctx context.Context, ownerID, calendarID string, rec CycleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	key := CycleHistoryKey(ownerID, calendarID)
	pipe := h.cache.Client().Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(h.depth-1))
	pipe.Expire(ctx, key, TTLCycleHistory)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. limit <= 0 reads the
// whole ring.
func (h *CycleHistory) Recent(ctx context.Context, ownerID, calendarID string, limit int) ([]CycleRecord, error) {
	if limit <= 0 || limit > h.depth {
		limit = h.depth
	}

	values, err := h.cache.Client().LRange(ctx, CycleHistoryKey(ownerID, calendarID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cycle history: %w", err)
	}

	records := make([]CycleRecord, 0, len(values))
	for _, v := range values {
		var rec CycleRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			// Skip records written by an older build.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Last returns the newest record, or false when the ring is empty.
func (h *CycleHistory) Last(ctx context.Context, ownerID, calendarID string) (CycleRecord, bool, error) {
	records, err := h.Recent(ctx, ownerID, calendarID, 1)
	if err != nil {
		return CycleRecord{}, false, err
	}
	if len(records) == 0 {
		return CycleRecord{}, false, nil
	}
	return records[0], true, nil
}
