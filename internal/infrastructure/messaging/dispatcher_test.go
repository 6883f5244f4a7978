package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

// triggerRecorder counts cycle triggers per pair.
type triggerRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func newTriggerRecorder() *triggerRecorder {
	return &triggerRecorder{calls: make(map[string]int)}
}

func (r *triggerRecorder) trigger(_ context.Context, ownerID, calendarID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[ownerID+"/"+calendarID]++
	return nil
}

func (r *triggerRecorder) count(ownerID, calendarID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[ownerID+"/"+calendarID]
}

func (r *triggerRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := 0
	for _, n := range r.calls {
		sum += n
	}
	return sum
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestDispatcher(t *testing.T, rec *triggerRecorder, window time.Duration) *SyncDispatcher {
	t.Helper()
	cfg := DefaultSyncDispatcherConfig(rec.trigger)
	cfg.DebounceWindow = window
	d, err := NewSyncDispatcher(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSyncDispatcher_RequiresTrigger(t *testing.T) {
	_, err := NewSyncDispatcher(SyncDispatcherConfig{})
	assert.Error(t, err)
}

func TestSyncDispatcher_CollapsesBurst(t *testing.T) {
	rec := newTriggerRecorder()
	d := newTestDispatcher(t, rec, 50*time.Millisecond)

	// Пять уведомлений подряд - как при перетаскивании событий в календаре
	for i := 0; i < 5; i++ {
		d.Notify("stud-1", "cal-1")
	}

	require.True(t, waitFor(t, func() bool {
		return rec.count("stud-1", "cal-1") == 1
	}, 2*time.Second), "burst should collapse into exactly one cycle")

	// Окно закрыто, новых срабатываний быть не должно
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, rec.count("stud-1", "cal-1"))
}

func TestSyncDispatcher_PairsDebounceIndependently(t *testing.T) {
	rec := newTriggerRecorder()
	d := newTestDispatcher(t, rec, 30*time.Millisecond)

	d.Notify("stud-1", "cal-1")
	d.Notify("stud-1", "cal-2")
	d.Notify("stud-2", "cal-1")

	require.True(t, waitFor(t, func() bool {
		return rec.total() == 3
	}, 2*time.Second))

	assert.Equal(t, 1, rec.count("stud-1", "cal-1"))
	assert.Equal(t, 1, rec.count("stud-1", "cal-2"))
	assert.Equal(t, 1, rec.count("stud-2", "cal-1"))
}

func TestSyncDispatcher_NewNotificationRestartsWindow(t *testing.T) {
	rec := newTriggerRecorder()
	d := newTestDispatcher(t, rec, 80*time.Millisecond)

	d.Notify("stud-1", "cal-1")
	time.Sleep(40 * time.Millisecond)
	// Таймер перезапущен - пара всё ещё "шумит"
	d.Notify("stud-1", "cal-1")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, rec.count("stud-1", "cal-1"))

	require.True(t, waitFor(t, func() bool {
		return rec.count("stud-1", "cal-1") == 1
	}, 2*time.Second))
}

func TestSyncDispatcher_PendingCount(t *testing.T) {
	rec := newTriggerRecorder()
	d := newTestDispatcher(t, rec, 200*time.Millisecond)

	d.Notify("stud-1", "cal-1")
	d.Notify("stud-1", "cal-2")
	assert.Equal(t, 2, d.PendingCount())

	require.True(t, waitFor(t, func() bool {
		return d.PendingCount() == 0
	}, 2*time.Second))
}

func TestSyncDispatcher_CloseCancelsPending(t *testing.T) {
	rec := newTriggerRecorder()
	cfg := DefaultSyncDispatcherConfig(rec.trigger)
	cfg.DebounceWindow = 100 * time.Millisecond
	d, err := NewSyncDispatcher(cfg)
	require.NoError(t, err)

	d.Notify("stud-1", "cal-1")
	require.NoError(t, d.Close())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, rec.count("stud-1", "cal-1"), "closed dispatcher must not fire")

	// Уведомления после Close молча игнорируются
	d.Notify("stud-1", "cal-1")
	assert.Equal(t, 0, d.PendingCount())
}

func TestSyncDispatcher_AttachConsumesRemoteChangeEvents(t *testing.T) {
	rec := newTriggerRecorder()
	d := newTestDispatcher(t, rec, 30*time.Millisecond)

	busCfg := DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = false
	bus := NewInMemoryEventBus(busCfg)
	defer bus.Close()

	require.NoError(t, d.Attach(bus))

	event := shared.NewRemoteChangeNotifiedEvent("stud-1", "cal-1", "chan-1")
	require.NoError(t, bus.Publish(event))
	require.NoError(t, bus.Publish(event))

	require.True(t, waitFor(t, func() bool {
		return rec.count("stud-1", "cal-1") == 1
	}, 2*time.Second))
}
