package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE CONFLICT COMMAND
// Ручное разрешение конфликта пользователем. Порядок записи тот же, что и у
// автоматического применения: сначала локальное хранилище, затем удалённая
// сторона через очередь операций. Неудачный push локальную запись не
// откатывает.
// ══════════════════════════════════════════════════════════════════════════════

// ResolveConflictCommand contains the user's decision for a pending conflict.
type ResolveConflictCommand struct {
	// ConflictID identifies the pending conflict.
	ConflictID string

	// CalendarID is the external calendar the entity mirrors into.
	CalendarID string

	// Resolution is the user's chosen strategy: prefer_local, prefer_remote
	// or merge.
	Resolution syncdomain.ResolutionType

	// MergedData carries the merged snapshot; required iff Resolution is merge.
	MergedData *syncdomain.Snapshot
}

// Validate validates the command.
func (c ResolveConflictCommand) Validate() error {
	if c.ConflictID == "" {
		return errors.New("resolve_conflict: conflict id is required")
	}
	switch c.Resolution {
	case syncdomain.PreferLocal, syncdomain.PreferRemote:
		return nil
	case syncdomain.Merge:
		if c.MergedData == nil {
			return shared.ErrMergeDataRequired
		}
		return nil
	default:
		return fmt.Errorf("resolve_conflict: %q is not a manual resolution strategy", c.Resolution)
	}
}

// ResolveConflictResult contains the outcome of a manual resolution.
type ResolveConflictResult struct {
	// ConflictID is the resolved conflict.
	ConflictID string

	// EntityID is the reconciled entity.
	EntityID string

	// PushQueued is true when a remote write was enqueued.
	PushQueued bool
}

// ResolveConflictHandler handles the ResolveConflictCommand.
type ResolveConflictHandler struct {
	conflictRepo syncdomain.ConflictRepository
	eventRepo    schedule.Repository
	opRepo       syncdomain.OperationRepository
	cache        ScheduleInvalidator
	publisher    shared.EventPublisher
}

// NewResolveConflictHandler creates a new ResolveConflictHandler.
func NewResolveConflictHandler(
	conflictRepo syncdomain.ConflictRepository,
	eventRepo schedule.Repository,
	opRepo syncdomain.OperationRepository,
	cache ScheduleInvalidator,
	publisher shared.EventPublisher,
) *ResolveConflictHandler {
	return &ResolveConflictHandler{
		conflictRepo: conflictRepo,
		eventRepo:    eventRepo,
		opRepo:       opRepo,
		cache:        cache,
		publisher:    publisher,
	}
}

// Handle applies the user's decision to a pending conflict.
func (h *ResolveConflictHandler) Handle(ctx context.Context, cmd ResolveConflictCommand) (*ResolveConflictResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	conflict, err := h.conflictRepo.GetByID(ctx, cmd.ConflictID)
	if err != nil {
		return nil, err
	}
	if conflict.IsResolved() {
		return nil, shared.ErrConflictResolved
	}

	resolution := syncdomain.Resolution{
		Type:       cmd.Resolution,
		Confidence: 1.0, // решение пользователя
	}
	switch cmd.Resolution {
	case syncdomain.PreferLocal:
		resolution.ResolvedData = conflict.LocalSnapshot
	case syncdomain.PreferRemote:
		resolution.ResolvedData = conflict.RemoteSnapshot
	case syncdomain.Merge:
		resolution.ResolvedData = *cmd.MergedData
	}

	// Локальное хранилище обновляется первым.
	event, err := h.eventRepo.GetByID(ctx, conflict.EntityID)
	if err != nil {
		return nil, fmt.Errorf("resolve_conflict: load entity: %w", err)
	}
	if cmd.Resolution != syncdomain.PreferLocal {
		applySnapshot(event, resolution.ResolvedData)
		if err := h.eventRepo.Update(ctx, event); err != nil {
			return nil, shared.WrapError("sync", "Resolve", shared.ErrPersistence, "apply resolution", err)
		}
	}

	result := &ResolveConflictResult{
		ConflictID: conflict.ID,
		EntityID:   conflict.EntityID,
	}

	// Удалённая сторона догоняет через очередь; доставку гарантирует
	// следующий цикл синхронизации.
	if cmd.Resolution != syncdomain.PreferRemote {
		op, err := syncdomain.NewOperation(
			uuid.NewString(), conflict.OwnerID, cmd.CalendarID,
			conflict.EntityType, conflict.EntityID, syncdomain.OperationUpdate,
		)
		if err != nil {
			return nil, err
		}
		if err := h.opRepo.Enqueue(ctx, op); err != nil {
			return nil, shared.WrapError("sync", "Resolve", shared.ErrPersistence, "enqueue push", err)
		}
		result.PushQueued = true
	}

	if err := conflict.MarkResolved(resolution, false); err != nil {
		return nil, err
	}
	if err := h.conflictRepo.Update(ctx, conflict); err != nil {
		return nil, shared.WrapError("sync", "Resolve", shared.ErrPersistence, "save conflict", err)
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, conflict.OwnerID)
	}
	if h.publisher != nil {
		_ = h.publisher.Publish(shared.NewConflictResolvedEvent(
			conflict.ID, conflict.OwnerID, cmd.CalendarID, conflict.EntityID,
			string(cmd.Resolution), resolution.Confidence, false,
		))
	}

	return result, nil
}
