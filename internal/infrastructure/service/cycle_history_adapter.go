package service

import (
	"context"

	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/application/query"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/persistence/redis"
)

// CycleHistoryAdapter adapts the Redis cycle-metrics ring to both sides of
// the application layer: the sync engine records cycles through it
// (command.CycleRecorder) and the health query reads them back
// (query.CycleHistoryReader).
type CycleHistoryAdapter struct {
	history *redis.CycleHistory
}

// NewCycleHistoryAdapter creates a new CycleHistoryAdapter.
func NewCycleHistoryAdapter(history *redis.CycleHistory) *CycleHistoryAdapter {
	return &CycleHistoryAdapter{history: history}
}

// RecordCycle persists one cycle footprint.
func (a *CycleHistoryAdapter) RecordCycle(ctx context.Context, ownerID, calendarID string, rec command.CycleRecord) error {
	return a.history.Record(ctx, ownerID, calendarID, redis.CycleRecord{
		CycleID:           rec.CycleID,
		StartedAt:         rec.StartedAt,
		Duration:          rec.Duration,
		ChangesApplied:    rec.ChangesApplied,
		ChangesPushed:     rec.ChangesPushed,
		APICalls:          rec.APICalls,
		ConflictsDetected: rec.Conflicts,
		Errors:            rec.Errors,
		Committed:         rec.Committed,
		FullSync:          rec.FullSync,
	})
}

// RecentCycles returns up to limit records, newest first.
func (a *CycleHistoryAdapter) RecentCycles(ctx context.Context, ownerID, calendarID string, limit int) ([]query.CycleSample, error) {
	records, err := a.history.Recent(ctx, ownerID, calendarID, limit)
	if err != nil {
		return nil, err
	}

	samples := make([]query.CycleSample, 0, len(records))
	for _, rec := range records {
		samples = append(samples, query.CycleSample{
			StartedAt:      rec.StartedAt,
			Duration:       rec.Duration,
			ChangesApplied: rec.ChangesApplied,
			ChangesPushed:  rec.ChangesPushed,
			APICalls:       rec.APICalls,
			Conflicts:      rec.ConflictsDetected,
			Errors:         rec.Errors,
			Committed:      rec.Committed,
			FullSync:       rec.FullSync,
		})
	}
	return samples, nil
}
