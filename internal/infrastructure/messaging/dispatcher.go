// Package messaging implements the event bus and the debounced sync dispatcher.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// SyncTrigger starts a sync cycle for an (owner, calendar) pair.
// The implementation is expected to coalesce concurrent triggers itself;
// the dispatcher only shapes the notification stream in front of it.
type SyncTrigger func(ctx context.Context, ownerID, calendarID string) error

// SyncDispatcher collapses bursts of remote change notifications into
// single sync triggers. The remote calendar sends one webhook per edit;
// a user dragging five events produces five notifications within a second.
// Each notification resets a short debounce timer for its pair, and only
// the timer firing triggers a cycle.
type SyncDispatcher struct {
	trigger  SyncTrigger
	window   time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *DispatcherMetrics
	mu       sync.Mutex
	pending  map[string]*time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// SyncDispatcherConfig contains configuration for the SyncDispatcher.
type SyncDispatcherConfig struct {
	// Trigger starts a sync cycle once the debounce window closes.
	Trigger SyncTrigger

	// DebounceWindow is how long a pair stays quiet before its cycle fires.
	DebounceWindow time.Duration

	// TriggerTimeout bounds a single triggered cycle.
	TriggerTimeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultSyncDispatcherConfig returns sensible defaults.
func DefaultSyncDispatcherConfig(trigger SyncTrigger) SyncDispatcherConfig {
	return SyncDispatcherConfig{
		Trigger:        trigger,
		DebounceWindow: 300 * time.Millisecond,
		TriggerTimeout: 2 * time.Minute,
	}
}

// NewSyncDispatcher creates a new SyncDispatcher.
func NewSyncDispatcher(config SyncDispatcherConfig) (*SyncDispatcher, error) {
	if config.Trigger == nil {
		return nil, errors.New("sync trigger is required")
	}
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = 300 * time.Millisecond
	}
	if config.TriggerTimeout <= 0 {
		config.TriggerTimeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SyncDispatcher{
		trigger: config.Trigger,
		window:  config.DebounceWindow,
		timeout: config.TriggerTimeout,
		logger:  config.Logger,
		metrics: NewDispatcherMetrics(),
		pending: map[string]*time.Timer{},
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Attach subscribes the dispatcher to remote change notifications on the bus.
func (d *SyncDispatcher) Attach(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventRemoteChangeNotified, func(event shared.Event) error {
		payload := event.Payload()
		ownerID, _ := payload["owner_id"].(string)
		calendarID, _ := payload["calendar_id"].(string)
		if ownerID == "" || calendarID == "" {
			return fmt.Errorf("remote change notification missing pair: %v", payload)
		}
		d.Notify(ownerID, calendarID)
		return nil
	})
}

// Notify records a remote change notification for a pair. The pair's
// debounce timer restarts; the cycle fires only after the window of quiet.
func (d *SyncDispatcher) Notify(ownerID, calendarID string) {
	key := ownerID + "/" + calendarID

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	d.metrics.RecordNotification()

	if timer, ok := d.pending[key]; ok {
		// Stop may lose the race with an already-fired timer; the fired
		// goroutine clears the entry itself, so resetting is still safe.
		timer.Stop()
		d.metrics.RecordCoalesced()
	}

	d.pending[key] = time.AfterFunc(d.window, func() {
		d.fire(key, ownerID, calendarID)
	})
}

func (d *SyncDispatcher) fire(key, ownerID, calendarID string) {
	d.mu.Lock()
	delete(d.pending, key)
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.trigger(ctx, ownerID, calendarID)
	d.metrics.RecordTrigger(time.Since(start), err == nil)

	if err != nil {
		d.logger.Error("debounced sync trigger failed",
			"owner_id", ownerID,
			"calendar_id", calendarID,
			"error", err,
		)
		return
	}

	d.logger.Debug("debounced sync trigger completed",
		"owner_id", ownerID,
		"calendar_id", calendarID,
		"duration", time.Since(start),
	)
}

// PendingCount returns the number of pairs currently waiting out their window.
func (d *SyncDispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Metrics returns dispatcher metrics.
func (d *SyncDispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// Close stops pending timers and waits for in-flight triggers.
func (d *SyncDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for key, timer := range d.pending {
		timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	d.logger.Info("sync dispatcher closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics tracks notification and trigger counts.
type DispatcherMetrics struct {
	mu sync.RWMutex

	// Notifications is the total number of webhook notifications seen.
	Notifications int64

	// Coalesced is how many notifications were absorbed by an already
	// pending timer instead of producing their own cycle.
	Coalesced int64

	// Triggers is the number of sync cycles actually fired.
	Triggers int64

	// TriggerFailures is the number of fired cycles that returned an error.
	TriggerFailures int64

	// TotalTriggerDuration accumulates trigger wall-clock time.
	TotalTriggerDuration time.Duration
}

// NewDispatcherMetrics creates a new metrics tracker.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{}
}

// RecordNotification records an incoming notification.
func (m *DispatcherMetrics) RecordNotification() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications++
}

// RecordCoalesced records a notification absorbed by a pending timer.
func (m *DispatcherMetrics) RecordCoalesced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Coalesced++
}

// RecordTrigger records a fired sync cycle.
func (m *DispatcherMetrics) RecordTrigger(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Triggers++
	m.TotalTriggerDuration += duration
	if !success {
		m.TriggerFailures++
	}
}

// Snapshot returns a copy of current metrics.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avg := time.Duration(0)
	if m.Triggers > 0 {
		avg = m.TotalTriggerDuration / time.Duration(m.Triggers)
	}

	return DispatcherMetricsSnapshot{
		Notifications:          m.Notifications,
		Coalesced:              m.Coalesced,
		Triggers:               m.Triggers,
		TriggerFailures:        m.TriggerFailures,
		AverageTriggerDuration: avg,
	}
}

// DispatcherMetricsSnapshot is a point-in-time snapshot of metrics.
type DispatcherMetricsSnapshot struct {
	Notifications          int64
	Coalesced              int64
	Triggers               int64
	TriggerFailures        int64
	AverageTriggerDuration time.Duration
}
