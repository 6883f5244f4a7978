package eventhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

// fakeOverview записывает вызовы вместо настоящей проекции.
type fakeOverview struct {
	cycles    []string
	failures  []string
	resolved  []bool
	realtimes []bool
}

func (f *fakeOverview) RecordCycle(ownerID, calendarID string, synced, auto, open, errs int, duration time.Duration, fullSync bool) {
	f.cycles = append(f.cycles, ownerID+"/"+calendarID)
}

func (f *fakeOverview) RecordFailure(ownerID, calendarID, reason string) {
	f.failures = append(f.failures, ownerID+"/"+calendarID+":"+reason)
}

func (f *fakeOverview) RecordConflictResolved(ownerID, calendarID string, auto bool) {
	f.resolved = append(f.resolved, auto)
}

func (f *fakeOverview) SetRealtime(ownerID, calendarID, channelID string, enabled bool) {
	f.realtimes = append(f.realtimes, enabled)
}

func TestOnSyncCycleCompletedHandler_RecordsCycle(t *testing.T) {
	overview := &fakeOverview{}
	handler := NewOnSyncCycleCompletedHandler(overview, nil, DefaultSyncCycleConfig())

	event := shared.NewSyncCycleCompletedEvent("stud-1", "cal-1", 5, 1, 0, 0, 2*time.Second, false)
	require.NoError(t, handler.Handle(event))

	require.Len(t, overview.cycles, 1)
	assert.Equal(t, "stud-1/cal-1", overview.cycles[0])
	assert.Equal(t, shared.EventSyncCycleCompleted, handler.EventType())
}

func TestOnSyncCycleCompletedHandler_IgnoresForeignEvent(t *testing.T) {
	overview := &fakeOverview{}
	handler := NewOnSyncCycleCompletedHandler(overview, nil, DefaultSyncCycleConfig())

	event := shared.NewSyncCycleFailedEvent("stud-1", "cal-1", "boom", true)
	require.NoError(t, handler.Handle(event))

	assert.Empty(t, overview.cycles)
}

func TestOnSyncCycleFailedHandler_TracksStreak(t *testing.T) {
	overview := &fakeOverview{}
	handler := NewOnSyncCycleFailedHandler(overview, nil, DefaultSyncCycleConfig())

	event := shared.NewSyncCycleFailedEvent("stud-1", "cal-1", "remote unavailable", true)
	for i := 0; i < 3; i++ {
		require.NoError(t, handler.Handle(event))
	}

	assert.Len(t, overview.failures, 3)
	assert.Equal(t, 3, handler.streaks["stud-1|cal-1"])

	// Успех пары сбрасывает счётчик; следующий отказ начинает серию заново
	handler.ResetStreak("stud-1", "cal-1")
	assert.Zero(t, handler.streaks["stud-1|cal-1"])

	require.NoError(t, handler.Handle(event))
	assert.Equal(t, 1, handler.streaks["stud-1|cal-1"])
}

func TestOnSyncCycleFailedHandler_StreaksArePerPair(t *testing.T) {
	handler := NewOnSyncCycleFailedHandler(&fakeOverview{}, nil, DefaultSyncCycleConfig())

	require.NoError(t, handler.Handle(shared.NewSyncCycleFailedEvent("stud-1", "cal-1", "err", true)))
	require.NoError(t, handler.Handle(shared.NewSyncCycleFailedEvent("stud-1", "cal-2", "err", true)))

	assert.Equal(t, 1, handler.streaks["stud-1|cal-1"])
	assert.Equal(t, 1, handler.streaks["stud-1|cal-2"])
}

func TestOnConflictResolvedHandler_PassesAutoFlag(t *testing.T) {
	overview := &fakeOverview{}
	handler := NewOnConflictResolvedHandler(overview, nil)

	auto := shared.NewConflictResolvedEvent("conf-1", "stud-1", "cal-1", "evt-1", "remote_wins", 0.95, true)
	manual := shared.NewConflictResolvedEvent("conf-2", "stud-1", "cal-1", "evt-2", "merge", 0.4, false)

	require.NoError(t, handler.Handle(auto))
	require.NoError(t, handler.Handle(manual))

	require.Len(t, overview.resolved, 2)
	assert.True(t, overview.resolved[0])
	assert.False(t, overview.resolved[1])
}

func TestOnRealtimeToggledHandler_EnableDisable(t *testing.T) {
	overview := &fakeOverview{}
	handler := NewOnRealtimeToggledHandler(overview, nil)

	enabled := shared.NewRealtimeSyncToggledEvent(shared.EventRealtimeSyncEnabled, "stud-1", "cal-1", "chan-1")
	disabled := shared.NewRealtimeSyncToggledEvent(shared.EventRealtimeSyncDisabled, "stud-1", "cal-1", "chan-1")

	require.NoError(t, handler.Handle(enabled))
	require.NoError(t, handler.Handle(disabled))

	require.Len(t, overview.realtimes, 2)
	assert.True(t, overview.realtimes[0])
	assert.False(t, overview.realtimes[1])
}
