// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"log/slog"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// SYNC CYCLE HANDLERS
// Переводят события циклов синхронизации в обзорную проекцию оператора.
//
// Ключевые функции:
// 1. Обновление SyncOverviewView — кто синхронизируется, кто падает
// 2. Диагностика медленных циклов — предупреждение в логе
// 3. Эскалация серий отказов — пара, падающая подряд, требует внимания
// ═══════════════════════════════════════════════════════════════════════════

// OverviewRecorder — интерфейс обзорной проекции. Реализуется
// projections.SyncOverviewView; обработчики не зависят от инфраструктуры.
type OverviewRecorder interface {
	RecordCycle(ownerID, calendarID string, synced, auto, open, errs int, duration time.Duration, fullSync bool)
	RecordFailure(ownerID, calendarID, reason string)
	RecordConflictResolved(ownerID, calendarID string, auto bool)
	SetRealtime(ownerID, calendarID, channelID string, enabled bool)
}

// SyncCycleConfig содержит конфигурацию обработчиков цикла.
type SyncCycleConfig struct {
	// SlowCycleThreshold — длительность, после которой цикл считается
	// медленным и попадает в лог с предупреждением.
	SlowCycleThreshold time.Duration

	// FailureStreakAlert — число подряд идущих отказов, после которого
	// пара логируется на уровне Error.
	FailureStreakAlert int
}

// DefaultSyncCycleConfig возвращает конфигурацию по умолчанию.
func DefaultSyncCycleConfig() SyncCycleConfig {
	return SyncCycleConfig{
		SlowCycleThreshold: 30 * time.Second,
		FailureStreakAlert: 3,
	}
}

// OnSyncCycleCompletedHandler обрабатывает завершение цикла синхронизации.
type OnSyncCycleCompletedHandler struct {
	overview OverviewRecorder
	logger   *slog.Logger
	config   SyncCycleConfig
}

// NewOnSyncCycleCompletedHandler создаёт новый обработчик.
func NewOnSyncCycleCompletedHandler(overview OverviewRecorder, logger *slog.Logger, config SyncCycleConfig) *OnSyncCycleCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SlowCycleThreshold <= 0 {
		config = DefaultSyncCycleConfig()
	}

	return &OnSyncCycleCompletedHandler{
		overview: overview,
		logger:   logger.With("handler", "on_sync_cycle_completed"),
		config:   config,
	}
}

// Handle обрабатывает событие завершения цикла.
func (h *OnSyncCycleCompletedHandler) Handle(event shared.Event) error {
	cycleEvent, ok := event.(shared.SyncCycleCompletedEvent)
	if !ok {
		h.logger.Warn("received non-SyncCycleCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.overview != nil {
		h.overview.RecordCycle(
			cycleEvent.OwnerID,
			cycleEvent.CalendarID,
			cycleEvent.EntitiesSynced,
			cycleEvent.ConflictsAuto,
			cycleEvent.ConflictsOpen,
			cycleEvent.ErrorCount,
			cycleEvent.Duration,
			cycleEvent.FullSync,
		)
	}

	if cycleEvent.Duration > h.config.SlowCycleThreshold {
		h.logger.Warn("slow sync cycle",
			"owner_id", cycleEvent.OwnerID,
			"calendar_id", cycleEvent.CalendarID,
			"duration", cycleEvent.Duration,
			"entities_synced", cycleEvent.EntitiesSynced,
			"full_sync", cycleEvent.FullSync,
		)
		return nil
	}

	h.logger.Debug("sync cycle recorded",
		"owner_id", cycleEvent.OwnerID,
		"calendar_id", cycleEvent.CalendarID,
		"entities_synced", cycleEvent.EntitiesSynced,
		"conflicts_pending", cycleEvent.ConflictsOpen,
	)

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnSyncCycleCompletedHandler) EventType() shared.EventType {
	return shared.EventSyncCycleCompleted
}

// ═══════════════════════════════════════════════════════════════════════════
// ON SYNC CYCLE FAILED HANDLER
// ═══════════════════════════════════════════════════════════════════════════

// OnSyncCycleFailedHandler обрабатывает срыв цикла синхронизации.
type OnSyncCycleFailedHandler struct {
	overview OverviewRecorder
	logger   *slog.Logger
	config   SyncCycleConfig

	// streaks — локальный счётчик подряд идущих отказов по парам; обзорная
	// проекция ведёт свой, но обработчик не читает её состояние.
	streaks map[string]int
}

// NewOnSyncCycleFailedHandler создаёт новый обработчик.
func NewOnSyncCycleFailedHandler(overview OverviewRecorder, logger *slog.Logger, config SyncCycleConfig) *OnSyncCycleFailedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.FailureStreakAlert <= 0 {
		config = DefaultSyncCycleConfig()
	}

	return &OnSyncCycleFailedHandler{
		overview: overview,
		logger:   logger.With("handler", "on_sync_cycle_failed"),
		config:   config,
		streaks:  make(map[string]int),
	}
}

// Handle обрабатывает событие срыва цикла.
//
// Шина событий доставляет события последовательно, поэтому карта streaks
// не нуждается в блокировке.
func (h *OnSyncCycleFailedHandler) Handle(event shared.Event) error {
	failEvent, ok := event.(shared.SyncCycleFailedEvent)
	if !ok {
		h.logger.Warn("received non-SyncCycleFailedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.overview != nil {
		h.overview.RecordFailure(failEvent.OwnerID, failEvent.CalendarID, failEvent.Reason)
	}

	key := failEvent.OwnerID + "|" + failEvent.CalendarID
	h.streaks[key]++

	if h.streaks[key] >= h.config.FailureStreakAlert {
		h.logger.Error("sync pair keeps failing",
			"owner_id", failEvent.OwnerID,
			"calendar_id", failEvent.CalendarID,
			"streak", h.streaks[key],
			"reason", failEvent.Reason,
			"retryable", failEvent.Retryable,
		)
		return nil
	}

	h.logger.Warn("sync cycle failed",
		"owner_id", failEvent.OwnerID,
		"calendar_id", failEvent.CalendarID,
		"reason", failEvent.Reason,
		"retryable", failEvent.Retryable,
	)

	return nil
}

// ResetStreak сбрасывает счётчик отказов после успешного цикла.
func (h *OnSyncCycleFailedHandler) ResetStreak(ownerID, calendarID string) {
	delete(h.streaks, ownerID+"|"+calendarID)
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnSyncCycleFailedHandler) EventType() shared.EventType {
	return shared.EventSyncCycleFailed
}
