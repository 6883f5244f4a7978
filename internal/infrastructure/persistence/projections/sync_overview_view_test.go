package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncOverviewView_RecordCycle(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.RecordCycle("stud-1", "cal-1", 5, 2, 1, 0, 3*time.Second, true)
	view.RecordCycle("stud-1", "cal-1", 3, 0, 0, 1, time.Second, false)

	p, err := view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)

	assert.Equal(t, 2, p.CyclesObserved)
	assert.Equal(t, 8, p.EntitiesSynced)
	assert.Equal(t, 2, p.ConflictsAutoResolved)
	assert.Equal(t, 0, p.ConflictsPending, "pending reflects the latest cycle, not a sum")
	assert.Equal(t, 1, p.ErrorCount)
	assert.Equal(t, time.Second, p.LastDuration)
	assert.False(t, p.LastFullSync)
	assert.False(t, p.LastSuccessAt.IsZero())

	meta := view.GetMetadata(ctx)
	assert.Equal(t, 1, meta.TotalPairs)
	assert.Equal(t, 2, meta.TotalCycles)
	assert.Equal(t, 0, meta.TotalFailures)
}

func TestSyncOverviewView_FailureStreakAndRecovery(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.RecordFailure("stud-1", "cal-1", "remote unavailable")
	view.RecordFailure("stud-1", "cal-1", "remote unavailable")
	view.RecordFailure("stud-1", "cal-1", "token rejected")

	p, err := view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.FailureStreak)
	assert.Equal(t, "token rejected", p.LastError)
	assert.True(t, p.LastSuccessAt.IsZero())

	// Успешный цикл сбрасывает серию отказов и последнюю ошибку
	view.RecordCycle("stud-1", "cal-1", 1, 0, 0, 0, time.Second, false)

	p, err = view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.FailureStreak)
	assert.Empty(t, p.LastError)

	meta := view.GetMetadata(ctx)
	assert.Equal(t, 4, meta.TotalCycles)
	assert.Equal(t, 3, meta.TotalFailures)
}

func TestSyncOverviewView_GetFailing(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.RecordFailure("stud-1", "cal-1", "err")
	for i := 0; i < 3; i++ {
		view.RecordFailure("stud-2", "cal-1", "err")
	}
	view.RecordCycle("stud-3", "cal-1", 1, 0, 0, 0, time.Second, false)

	failing := view.GetFailing(ctx, 1)
	require.Len(t, failing, 2)
	assert.Equal(t, "stud-2", failing[0].OwnerID, "worst streak first")
	assert.Equal(t, "stud-1", failing[1].OwnerID)

	assert.Len(t, view.GetFailing(ctx, 3), 1)
	assert.Empty(t, view.GetFailing(ctx, 4))
}

func TestSyncOverviewView_GetStale(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.RecordCycle("stud-1", "cal-1", 1, 0, 0, 0, time.Second, false)
	// Пара с каналом, но без единого цикла - в stale не попадает
	view.SetRealtime("stud-2", "cal-1", "chan-1", true)

	assert.Empty(t, view.GetStale(ctx, time.Now().Add(-time.Hour)))

	stale := view.GetStale(ctx, time.Now().Add(time.Hour))
	require.Len(t, stale, 1)
	assert.Equal(t, "stud-1", stale[0].OwnerID)
}

func TestSyncOverviewView_ConflictResolution(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.RecordCycle("stud-1", "cal-1", 0, 0, 2, 0, time.Second, false)

	// Ручное разрешение уменьшает счётчик ожидающих
	view.RecordConflictResolved("stud-1", "cal-1", false)
	p, err := view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ConflictsPending)

	// Автоматическое разрешение не трогает счётчик ожидающих
	view.RecordConflictResolved("stud-1", "cal-1", true)
	p, err = view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ConflictsPending)

	// Счётчик не уходит в минус
	view.RecordConflictResolved("stud-1", "cal-1", false)
	view.RecordConflictResolved("stud-1", "cal-1", false)
	p, err = view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.ConflictsPending)
}

func TestSyncOverviewView_RealtimeToggle(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.SetRealtime("stud-1", "cal-1", "chan-1", true)
	view.SetRealtime("stud-1", "cal-1", "chan-1", true) // idempotent

	p, err := view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.True(t, p.RealtimeEnabled)
	assert.Equal(t, "chan-1", p.ChannelID)
	assert.Equal(t, 1, view.GetMetadata(ctx).RealtimePairs)

	view.SetRealtime("stud-1", "cal-1", "", false)

	p, err = view.GetPair(ctx, "stud-1", "cal-1")
	require.NoError(t, err)
	assert.False(t, p.RealtimeEnabled)
	assert.Empty(t, p.ChannelID)
	assert.Equal(t, 0, view.GetMetadata(ctx).RealtimePairs)
}

func TestSyncOverviewView_GetByOwner(t *testing.T) {
	ctx := context.Background()
	view := NewSyncOverviewView()

	view.RecordCycle("stud-1", "cal-b", 1, 0, 0, 0, time.Second, false)
	view.RecordCycle("stud-1", "cal-a", 1, 0, 0, 0, time.Second, false)
	view.RecordCycle("stud-2", "cal-a", 1, 0, 0, 0, time.Second, false)

	pairs := view.GetByOwner(ctx, "stud-1")
	require.Len(t, pairs, 2)
	assert.Equal(t, "cal-a", pairs[0].CalendarID, "sorted by calendar id")
	assert.Equal(t, "cal-b", pairs[1].CalendarID)

	// Копии, а не ссылки на внутреннее состояние
	pairs[0].EntitiesSynced = 999
	p, err := view.GetPair(ctx, "stud-1", "cal-a")
	require.NoError(t, err)
	assert.Equal(t, 1, p.EntitiesSynced)
}

func TestSyncOverviewView_UntrackedPair(t *testing.T) {
	view := NewSyncOverviewView()
	_, err := view.GetPair(context.Background(), "ghost", "cal-1")
	assert.Error(t, err)
}
