// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Schedule events
	EventScheduleCreated     EventType = "schedule.event_created"
	EventScheduleUpdated     EventType = "schedule.event_updated"
	EventScheduleDeactivated EventType = "schedule.event_deactivated"

	// Sync cycle events
	EventSyncCycleStarted   EventType = "sync.cycle_started"
	EventSyncCycleCompleted EventType = "sync.cycle_completed"
	EventSyncCycleFailed    EventType = "sync.cycle_failed"
	EventSyncTokenAdvanced  EventType = "sync.token_advanced"
	EventSyncTokenExpired   EventType = "sync.token_expired"

	// Conflict events
	EventConflictDetected       EventType = "conflict.detected"
	EventConflictAutoResolved   EventType = "conflict.auto_resolved"
	EventConflictManualResolved EventType = "conflict.manually_resolved"
	EventConflictEscalated      EventType = "conflict.escalated"

	// Remote notification events
	EventRemoteChangeNotified EventType = "remote.change_notified"

	// System events
	EventRealtimeSyncEnabled  EventType = "system.realtime_enabled"
	EventRealtimeSyncDisabled EventType = "system.realtime_disabled"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Sync Cycle Events
// ═══════════════════════════════════════════════════════════════════════════

// SyncCycleCompletedEvent is emitted when an incremental sync cycle finishes.
type SyncCycleCompletedEvent struct {
	BaseEvent
	OwnerID        string        `json:"owner_id"`
	CalendarID     string        `json:"calendar_id"`
	EntitiesSynced int           `json:"entities_synced"`
	ConflictsAuto  int           `json:"conflicts_auto_resolved"`
	ConflictsOpen  int           `json:"conflicts_pending"`
	ErrorCount     int           `json:"error_count"`
	Duration       time.Duration `json:"duration"`
	FullSync       bool          `json:"full_sync"`
}

// Payload implements Event interface.
func (e SyncCycleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":                e.OwnerID,
		"calendar_id":             e.CalendarID,
		"entities_synced":         e.EntitiesSynced,
		"conflicts_auto_resolved": e.ConflictsAuto,
		"conflicts_pending":       e.ConflictsOpen,
		"error_count":             e.ErrorCount,
		"duration":                e.Duration.String(),
		"full_sync":               e.FullSync,
	}
}

// NewSyncCycleCompletedEvent creates a new SyncCycleCompletedEvent.
func NewSyncCycleCompletedEvent(ownerID, calendarID string, synced, auto, open, errs int, duration time.Duration, full bool) SyncCycleCompletedEvent {
	return SyncCycleCompletedEvent{
		BaseEvent:      NewBaseEvent(EventSyncCycleCompleted, ownerID),
		OwnerID:        ownerID,
		CalendarID:     calendarID,
		EntitiesSynced: synced,
		ConflictsAuto:  auto,
		ConflictsOpen:  open,
		ErrorCount:     errs,
		Duration:       duration,
		FullSync:       full,
	}
}

// SyncCycleFailedEvent is emitted when a cycle aborts without committing its token.
type SyncCycleFailedEvent struct {
	BaseEvent
	OwnerID    string `json:"owner_id"`
	CalendarID string `json:"calendar_id"`
	Reason     string `json:"reason"`
	Retryable  bool   `json:"retryable"`
}

// Payload implements Event interface.
func (e SyncCycleFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":    e.OwnerID,
		"calendar_id": e.CalendarID,
		"reason":      e.Reason,
		"retryable":   e.Retryable,
	}
}

// NewSyncCycleFailedEvent creates a new SyncCycleFailedEvent.
func NewSyncCycleFailedEvent(ownerID, calendarID, reason string, retryable bool) SyncCycleFailedEvent {
	return SyncCycleFailedEvent{
		BaseEvent:  NewBaseEvent(EventSyncCycleFailed, ownerID),
		OwnerID:    ownerID,
		CalendarID: calendarID,
		Reason:     reason,
		Retryable:  retryable,
	}
}

// SyncTokenExpiredEvent is emitted when the remote rejects a stored token.
// The next cycle performs a full resync.
type SyncTokenExpiredEvent struct {
	BaseEvent
	OwnerID    string `json:"owner_id"`
	CalendarID string `json:"calendar_id"`
}

// Payload implements Event interface.
func (e SyncTokenExpiredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":    e.OwnerID,
		"calendar_id": e.CalendarID,
	}
}

// NewSyncTokenExpiredEvent creates a new SyncTokenExpiredEvent.
func NewSyncTokenExpiredEvent(ownerID, calendarID string) SyncTokenExpiredEvent {
	return SyncTokenExpiredEvent{
		BaseEvent:  NewBaseEvent(EventSyncTokenExpired, ownerID),
		OwnerID:    ownerID,
		CalendarID: calendarID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Conflict Events
// ═══════════════════════════════════════════════════════════════════════════

// ConflictDetectedEvent is emitted when local and remote copies genuinely diverge.
type ConflictDetectedEvent struct {
	BaseEvent
	ConflictID   string `json:"conflict_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	ConflictType string `json:"conflict_type"`
}

// Payload implements Event interface.
func (e ConflictDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"conflict_id":   e.ConflictID,
		"entity_type":   e.EntityType,
		"entity_id":     e.EntityID,
		"conflict_type": e.ConflictType,
	}
}

// NewConflictDetectedEvent creates a new ConflictDetectedEvent.
func NewConflictDetectedEvent(conflictID, entityType, entityID, conflictType string) ConflictDetectedEvent {
	return ConflictDetectedEvent{
		BaseEvent:    NewBaseEvent(EventConflictDetected, entityID),
		ConflictID:   conflictID,
		EntityType:   entityType,
		EntityID:     entityID,
		ConflictType: conflictType,
	}
}

// ConflictResolvedEvent is emitted when a conflict is resolved, automatically or by the user.
type ConflictResolvedEvent struct {
	BaseEvent
	ConflictID     string  `json:"conflict_id"`
	OwnerID        string  `json:"owner_id"`
	CalendarID     string  `json:"calendar_id"`
	EntityID       string  `json:"entity_id"`
	ResolutionType string  `json:"resolution_type"`
	Confidence     float64 `json:"confidence"`
	Auto           bool    `json:"auto"`
}

// Payload implements Event interface.
func (e ConflictResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"conflict_id":     e.ConflictID,
		"owner_id":        e.OwnerID,
		"calendar_id":     e.CalendarID,
		"entity_id":       e.EntityID,
		"resolution_type": e.ResolutionType,
		"confidence":      e.Confidence,
		"auto":            e.Auto,
	}
}

// NewConflictResolvedEvent creates a new ConflictResolvedEvent.
func NewConflictResolvedEvent(conflictID, ownerID, calendarID, entityID, resolutionType string, confidence float64, auto bool) ConflictResolvedEvent {
	eventType := EventConflictManualResolved
	if auto {
		eventType = EventConflictAutoResolved
	}
	return ConflictResolvedEvent{
		BaseEvent:      NewBaseEvent(eventType, entityID),
		ConflictID:     conflictID,
		OwnerID:        ownerID,
		CalendarID:     calendarID,
		EntityID:       entityID,
		ResolutionType: resolutionType,
		Confidence:     confidence,
		Auto:           auto,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Remote Notification Events
// ═══════════════════════════════════════════════════════════════════════════

// RemoteChangeNotifiedEvent is emitted when the remote calendar signals a change
// via webhook. The debounced dispatcher collapses bursts of these into a single
// sync cycle.
type RemoteChangeNotifiedEvent struct {
	BaseEvent
	OwnerID    string `json:"owner_id"`
	CalendarID string `json:"calendar_id"`
	ChannelID  string `json:"channel_id"`
}

// Payload implements Event interface.
func (e RemoteChangeNotifiedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":    e.OwnerID,
		"calendar_id": e.CalendarID,
		"channel_id":  e.ChannelID,
	}
}

// NewRemoteChangeNotifiedEvent creates a new RemoteChangeNotifiedEvent.
func NewRemoteChangeNotifiedEvent(ownerID, calendarID, channelID string) RemoteChangeNotifiedEvent {
	return RemoteChangeNotifiedEvent{
		BaseEvent:  NewBaseEvent(EventRemoteChangeNotified, ownerID),
		OwnerID:    ownerID,
		CalendarID: calendarID,
		ChannelID:  channelID,
	}
}

// RealtimeSyncToggledEvent is emitted when push-triggered sync is enabled or
// disabled for a pair.
type RealtimeSyncToggledEvent struct {
	BaseEvent
	OwnerID    string `json:"owner_id"`
	CalendarID string `json:"calendar_id"`
	ChannelID  string `json:"channel_id"`
}

// Payload implements Event interface.
func (e RealtimeSyncToggledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":    e.OwnerID,
		"calendar_id": e.CalendarID,
		"channel_id":  e.ChannelID,
	}
}

// NewRealtimeSyncToggledEvent creates a new RealtimeSyncToggledEvent.
// eventType must be EventRealtimeSyncEnabled or EventRealtimeSyncDisabled.
func NewRealtimeSyncToggledEvent(eventType EventType, ownerID, calendarID, channelID string) RealtimeSyncToggledEvent {
	return RealtimeSyncToggledEvent{
		BaseEvent:  NewBaseEvent(eventType, ownerID),
		OwnerID:    ownerID,
		CalendarID: calendarID,
		ChannelID:  channelID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
