package eventhandler

import (
	"log/slog"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CONFLICT RESOLVED HANDLER
// Поддерживает счётчики конфликтов обзорной проекции в актуальном виде.
// ═══════════════════════════════════════════════════════════════════════════

// OnConflictResolvedHandler обрабатывает разрешение конфликта.
type OnConflictResolvedHandler struct {
	overview OverviewRecorder
	logger   *slog.Logger
}

// NewOnConflictResolvedHandler создаёт новый обработчик.
func NewOnConflictResolvedHandler(overview OverviewRecorder, logger *slog.Logger) *OnConflictResolvedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnConflictResolvedHandler{
		overview: overview,
		logger:   logger.With("handler", "on_conflict_resolved"),
	}
}

// Handle обрабатывает событие разрешения конфликта.
func (h *OnConflictResolvedHandler) Handle(event shared.Event) error {
	resolvedEvent, ok := event.(shared.ConflictResolvedEvent)
	if !ok {
		h.logger.Warn("received non-ConflictResolvedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.overview != nil {
		h.overview.RecordConflictResolved(
			resolvedEvent.OwnerID,
			resolvedEvent.CalendarID,
			resolvedEvent.Auto,
		)
	}

	h.logger.Info("conflict resolved",
		"conflict_id", resolvedEvent.ConflictID,
		"entity_id", resolvedEvent.EntityID,
		"resolution", resolvedEvent.ResolutionType,
		"confidence", resolvedEvent.Confidence,
		"auto", resolvedEvent.Auto,
	)

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnConflictResolvedHandler) EventType() shared.EventType {
	return shared.EventConflictManualResolved
}

// ═══════════════════════════════════════════════════════════════════════════
// ON REALTIME TOGGLED HANDLER
// ═══════════════════════════════════════════════════════════════════════════

// OnRealtimeToggledHandler отражает жизненный цикл каналов уведомлений
// в обзорной проекции.
type OnRealtimeToggledHandler struct {
	overview OverviewRecorder
	logger   *slog.Logger
}

// NewOnRealtimeToggledHandler создаёт новый обработчик.
func NewOnRealtimeToggledHandler(overview OverviewRecorder, logger *slog.Logger) *OnRealtimeToggledHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnRealtimeToggledHandler{
		overview: overview,
		logger:   logger.With("handler", "on_realtime_toggled"),
	}
}

// Handle обрабатывает включение или отключение realtime-синхронизации.
func (h *OnRealtimeToggledHandler) Handle(event shared.Event) error {
	toggledEvent, ok := event.(shared.RealtimeSyncToggledEvent)
	if !ok {
		h.logger.Warn("received non-RealtimeSyncToggledEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	enabled := toggledEvent.EventType() == shared.EventRealtimeSyncEnabled

	if h.overview != nil {
		h.overview.SetRealtime(
			toggledEvent.OwnerID,
			toggledEvent.CalendarID,
			toggledEvent.ChannelID,
			enabled,
		)
	}

	h.logger.Info("realtime sync toggled",
		"owner_id", toggledEvent.OwnerID,
		"calendar_id", toggledEvent.CalendarID,
		"channel_id", toggledEvent.ChannelID,
		"enabled", enabled,
	)

	return nil
}
