// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERFORM SYNC COMMAND
// Один инкрементальный цикл синхронизации пары (владелец, календарь):
// pull удалённых изменений -> сверка с локальными копиями -> push очереди
// исходящих операций -> атомарная фиксация токена. Токен продвигается только
// если весь цикл завершился без фатальной ошибки.
// ══════════════════════════════════════════════════════════════════════════════

// PerformSyncCommand contains the data needed to run one sync cycle.
type PerformSyncCommand struct {
	// OwnerID is the student whose schedule is synchronized.
	OwnerID string

	// CalendarID is the external calendar identifier.
	CalendarID string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c PerformSyncCommand) Validate() error {
	if c.OwnerID == "" {
		return errors.New("perform_sync: owner id is required")
	}
	if c.CalendarID == "" {
		return errors.New("perform_sync: calendar id is required")
	}
	return nil
}

// CycleMetrics accumulates everything one cycle did.
type CycleMetrics struct {
	// EntitiesSynced is the number of remote changes applied locally.
	EntitiesSynced int

	// ConflictsAutoResolved is the number of conflicts resolved without the user.
	ConflictsAutoResolved int

	// ConflictsPending is the number of conflicts queued for the user.
	ConflictsPending int

	// OperationsPushed is the number of outbound writes acknowledged remotely.
	OperationsPushed int

	// ErrorCount is the number of isolated per-entity failures.
	ErrorCount int

	// APICalls is the number of remote HTTP requests the cycle consumed.
	APICalls int

	// Duration is the wall-clock time of the cycle.
	Duration time.Duration

	// Errors carries the isolated failure messages for diagnostics.
	Errors []string
}

// SyncResult contains the outcome of one cycle.
type SyncResult struct {
	// Coalesced is true when another cycle for the same pair was already
	// in flight and this call became a no-op.
	Coalesced bool

	// FullSync is true when the cycle ran without a usable token.
	FullSync bool

	// Committed is true when the token advanced.
	Committed bool

	// Metrics are the accumulated cycle metrics.
	Metrics CycleMetrics
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// RemoteChangeKind discriminates remote change variants.
type RemoteChangeKind string

const (
	// RemoteUpsert - create or update of a remote event.
	RemoteUpsert RemoteChangeKind = "upsert"
	// RemoteDelete - deletion tombstone.
	RemoteDelete RemoteChangeKind = "delete"
	// RemoteUnknown - unrecognized payload; skipped and counted, never applied.
	RemoteUnknown RemoteChangeKind = "unknown"
)

// RemoteChange is one classified entry of the remote change feed.
type RemoteChange struct {
	// Kind is the change discriminator.
	Kind RemoteChangeKind

	// EventID is the event identifier within the external calendar.
	EventID string

	// Snapshot carries the tracked fields of the remote copy for upserts.
	Snapshot syncdomain.Snapshot
}

// RemotePull is the outcome of one change feed pull.
type RemotePull struct {
	// Changes are the classified feed entries in feed order.
	Changes []RemoteChange

	// NextToken is the cursor to persist after the cycle commits.
	NextToken string

	// APICalls is the number of HTTP requests the pull consumed.
	APICalls int
}

// RemoteAck confirms an outbound write.
type RemoteAck struct {
	// RemoteID is the identifier of the remote copy.
	RemoteID string

	// UpdatedAt is the remote modification time after the write.
	UpdatedAt time.Time
}

// CalendarClient defines the interface to the external calendar.
// The concrete adapter lives in infrastructure/service.
type CalendarClient interface {
	// PullChanges walks the change feed since the given token. An empty
	// token means full sync. A rejected token surfaces
	// shared.ErrRemoteTokenInvalid.
	PullChanges(ctx context.Context, calendarID, syncToken string) (*RemotePull, error)

	// PushEvent writes one local event to the remote calendar.
	PushEvent(ctx context.Context, calendarID string, opType syncdomain.OperationType, event *schedule.ScheduledEvent, sem *schedule.Semester) (*RemoteAck, error)
}

// CycleRecord is one cycle's footprint for the health history.
type CycleRecord struct {
	CycleID        string
	StartedAt      time.Time
	Duration       time.Duration
	ChangesApplied int
	ChangesPushed  int
	APICalls       int
	Conflicts      int
	Errors         []string
	Committed      bool
	FullSync       bool
}

// CycleRecorder persists per-cycle metrics for the health query.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, ownerID, calendarID string, rec CycleRecord) error
}

// ScheduleInvalidator drops cached schedule projections after changes land.
type ScheduleInvalidator interface {
	Invalidate(ctx context.Context, ownerID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION GUARD
// Ровно один цикл на пару (владелец, календарь): второй одновременный вызов
// не ставится в очередь, а немедленно возвращается как no-op.
// ══════════════════════════════════════════════════════════════════════════════

type sessionGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionGuard() *sessionGuard {
	return &sessionGuard{active: make(map[string]struct{})}
}

func (g *sessionGuard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

func (g *sessionGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PerformSyncHandler handles the PerformSyncCommand.
type PerformSyncHandler struct {
	tokenRepo    syncdomain.TokenRepository
	eventRepo    schedule.Repository
	semesterRepo schedule.SemesterRepository
	opRepo       syncdomain.OperationRepository
	conflictRepo syncdomain.ConflictRepository
	committer    syncdomain.CycleCommitter
	client       CalendarClient
	recorder     CycleRecorder
	cache        ScheduleInvalidator
	publisher    shared.EventPublisher

	sessions *sessionGuard

	// Configuration
	pushMaxAttempts int
}

// PerformSyncConfig contains configuration for the handler.
type PerformSyncConfig struct {
	// PushMaxAttempts is the per-operation retry budget across cycles.
	PushMaxAttempts int
}

// DefaultPerformSyncConfig returns default configuration.
func DefaultPerformSyncConfig() PerformSyncConfig {
	return PerformSyncConfig{
		PushMaxAttempts: 3,
	}
}

// NewPerformSyncHandler creates a new PerformSyncHandler.
func NewPerformSyncHandler(
	tokenRepo syncdomain.TokenRepository,
	eventRepo schedule.Repository,
	semesterRepo schedule.SemesterRepository,
	opRepo syncdomain.OperationRepository,
	conflictRepo syncdomain.ConflictRepository,
	committer syncdomain.CycleCommitter,
	client CalendarClient,
	recorder CycleRecorder,
	cache ScheduleInvalidator,
	publisher shared.EventPublisher,
	config PerformSyncConfig,
) *PerformSyncHandler {
	if config.PushMaxAttempts <= 0 {
		config = DefaultPerformSyncConfig()
	}

	return &PerformSyncHandler{
		tokenRepo:       tokenRepo,
		eventRepo:       eventRepo,
		semesterRepo:    semesterRepo,
		opRepo:          opRepo,
		conflictRepo:    conflictRepo,
		committer:       committer,
		client:          client,
		recorder:        recorder,
		cache:           cache,
		publisher:       publisher,
		sessions:        newSessionGuard(),
		pushMaxAttempts: config.PushMaxAttempts,
	}
}

// RunCycle adapts the handler to trigger-style callers (the debounced
// dispatcher and the fallback scheduler job).
func (h *PerformSyncHandler) RunCycle(ctx context.Context, ownerID, calendarID string) error {
	_, err := h.Handle(ctx, PerformSyncCommand{OwnerID: ownerID, CalendarID: calendarID})
	return err
}

// Handle executes one incremental sync cycle.
func (h *PerformSyncHandler) Handle(ctx context.Context, cmd PerformSyncCommand) (*SyncResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	key := cmd.OwnerID + "/" + cmd.CalendarID
	if !h.sessions.tryAcquire(key) {
		return &SyncResult{Coalesced: true}, nil
	}
	defer h.sessions.release(key)

	startedAt := time.Now()
	cycleID := uuid.NewString()
	result := &SyncResult{}

	token := h.loadToken(ctx, cmd)
	if token.IsExpired(time.Now().UTC()) {
		token.Invalidate()
	}
	result.FullSync = token.IsEmpty()

	pull, err := h.pull(ctx, cmd, token, result)
	if err != nil {
		h.finishFailed(ctx, cmd, cycleID, startedAt, result, err)
		return result, err
	}

	// Шаг 3: удалённые изменения, с изоляцией ошибок по сущностям.
	for _, change := range pull.Changes {
		select {
		case <-ctx.Done():
			h.finishFailed(ctx, cmd, cycleID, startedAt, result, ctx.Err())
			return result, ctx.Err()
		default:
		}

		if err := h.applyRemoteChange(ctx, cmd, token, change, result); err != nil {
			if errors.Is(err, shared.ErrPersistence) {
				h.finishFailed(ctx, cmd, cycleID, startedAt, result, err)
				return result, err
			}
			result.Metrics.ErrorCount++
			result.Metrics.Errors = append(result.Metrics.Errors,
				fmt.Sprintf("apply %s: %v", change.EventID, err))
		}
	}

	// Шаг 4: очередь исходящих операций.
	if result.FullSync {
		h.enqueueUnmirrored(ctx, cmd, result)
	}
	completed := h.pushPending(ctx, cmd, result)

	// Шаг 5: атомарная фиксация. Пустой next token от удалённой стороны
	// оставляет прежний курсор.
	if pull.NextToken != "" {
		token.Advance(pull.NextToken)
	} else {
		token.LastUsedAt = time.Now().UTC()
		token.UpdatedAt = token.LastUsedAt
	}
	if err := h.committer.CommitCycle(ctx, token, completed); err != nil {
		commitErr := shared.WrapError("sync", "Commit", shared.ErrPersistence, "commit cycle", err)
		h.finishFailed(ctx, cmd, cycleID, startedAt, result, commitErr)
		return result, commitErr
	}
	result.Committed = true
	result.Metrics.Duration = time.Since(startedAt)

	if result.Metrics.EntitiesSynced > 0 && h.cache != nil {
		_ = h.cache.Invalidate(ctx, cmd.OwnerID)
	}

	h.record(ctx, cmd, cycleID, startedAt, result)
	h.publish(shared.NewSyncCycleCompletedEvent(
		cmd.OwnerID, cmd.CalendarID,
		result.Metrics.EntitiesSynced,
		result.Metrics.ConflictsAutoResolved,
		result.Metrics.ConflictsPending,
		result.Metrics.ErrorCount,
		result.Metrics.Duration,
		result.FullSync,
	))

	return result, nil
}

// loadToken returns the stored token for the pair, or a fresh empty one.
func (h *PerformSyncHandler) loadToken(ctx context.Context, cmd PerformSyncCommand) *syncdomain.Token {
	token, err := h.tokenRepo.Get(ctx, cmd.OwnerID, cmd.CalendarID)
	if err == nil {
		return token
	}
	fresh, _ := syncdomain.NewToken(cmd.OwnerID, cmd.CalendarID, "")
	return fresh
}

// pull walks the remote change feed. A rejected token resets the cursor and
// retries once with a full pull inside the same cycle.
func (h *PerformSyncHandler) pull(ctx context.Context, cmd PerformSyncCommand, token *syncdomain.Token, result *SyncResult) (*RemotePull, error) {
	pull, err := h.client.PullChanges(ctx, cmd.CalendarID, token.Value)
	if pull != nil {
		result.Metrics.APICalls += pull.APICalls
	}
	if err == nil {
		return pull, nil
	}

	if errors.Is(err, shared.ErrRemoteTokenInvalid) {
		token.Invalidate()
		result.FullSync = true
		h.publish(shared.NewSyncTokenExpiredEvent(cmd.OwnerID, cmd.CalendarID))

		pull, err = h.client.PullChanges(ctx, cmd.CalendarID, "")
		if pull != nil {
			result.Metrics.APICalls += pull.APICalls
		}
		if err == nil {
			return pull, nil
		}
	}
	return nil, fmt.Errorf("perform_sync: pull changes: %w", err)
}

// applyRemoteChange reconciles one remote change with the local copy.
func (h *PerformSyncHandler) applyRemoteChange(ctx context.Context, cmd PerformSyncCommand, token *syncdomain.Token, change RemoteChange, result *SyncResult) error {
	switch change.Kind {
	case RemoteDelete:
		return h.applyRemoteDelete(ctx, cmd, change, result)
	case RemoteUpsert:
		return h.applyRemoteUpsert(ctx, cmd, token, change, result)
	default:
		return shared.NewDomainError("calendar", "Parse", shared.ErrValidation, "unrecognized remote change")
	}
}

// applyRemoteDelete deactivates the local mirror of a remote tombstone.
func (h *PerformSyncHandler) applyRemoteDelete(ctx context.Context, cmd PerformSyncCommand, change RemoteChange, result *SyncResult) error {
	local, err := h.eventRepo.GetByExternalID(ctx, cmd.OwnerID, change.EventID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return shared.WrapError("sync", "Apply", shared.ErrPersistence, "load local mirror", err)
	}
	if !local.IsActive {
		return nil
	}
	if err := h.eventRepo.Deactivate(ctx, local.ID); err != nil {
		return shared.WrapError("sync", "Apply", shared.ErrPersistence, "deactivate local mirror", err)
	}
	result.Metrics.EntitiesSynced++
	return nil
}

// applyRemoteUpsert applies a remote create/update, routing genuine
// divergence through the detector and resolver.
func (h *PerformSyncHandler) applyRemoteUpsert(ctx context.Context, cmd PerformSyncCommand, token *syncdomain.Token, change RemoteChange, result *SyncResult) error {
	local, err := h.eventRepo.GetByExternalID(ctx, cmd.OwnerID, change.EventID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return h.createMirror(ctx, cmd, change, result)
		}
		return shared.WrapError("sync", "Apply", shared.ErrPersistence, "load local mirror", err)
	}

	if !h.hasLocalEdit(ctx, local, token) {
		// Нет незакоммиченной локальной правки: удалённое значение
		// применяется напрямую.
		expected := local.UpdatedAt
		applySnapshot(local, change.Snapshot)
		if err := h.eventRepo.UpdateIfUnmodified(ctx, local, expected); err != nil {
			if errors.Is(err, shared.ErrOptimisticLock) {
				// Локальная правка проскочила между load и update;
				// следующий цикл увидит обе стороны и решит через детектор.
				return err
			}
			return shared.WrapError("sync", "Apply", shared.ErrPersistence, "update local mirror", err)
		}
		result.Metrics.EntitiesSynced++
		return nil
	}

	localSnap := localSnapshot(local, change.Snapshot)
	detection := syncdomain.Detect(localSnap, change.Snapshot)
	if !detection.HasConflict() {
		// Расхождений по отслеживаемым полям нет: одностороннее значение -
		// это обогащение, заимствуем непустые удалённые поля.
		if enrich(local, change.Snapshot) {
			if err := h.eventRepo.Update(ctx, local); err != nil {
				return shared.WrapError("sync", "Apply", shared.ErrPersistence, "enrich local mirror", err)
			}
			result.Metrics.EntitiesSynced++
		}
		return nil
	}

	return h.reconcile(ctx, cmd, local, detection, localSnap, change.Snapshot, result)
}

// reconcile records the conflict and applies the resolver's decision when
// confidence clears the auto-apply threshold.
func (h *PerformSyncHandler) reconcile(ctx context.Context, cmd PerformSyncCommand, local *schedule.ScheduledEvent, detection syncdomain.Detection, localSnap, remoteSnap syncdomain.Snapshot, result *SyncResult) error {
	conflict, err := syncdomain.NewConflict(
		uuid.NewString(), cmd.OwnerID,
		syncdomain.EntityScheduledEvent, local.ID,
		detection, localSnap, remoteSnap,
	)
	if err != nil {
		return err
	}

	resolution := syncdomain.Resolve(conflict)
	if !resolution.ShouldAutoApply() {
		if err := h.conflictRepo.Create(ctx, conflict); err != nil {
			return shared.WrapError("sync", "Detect", shared.ErrPersistence, "save conflict", err)
		}
		result.Metrics.ConflictsPending++
		h.publish(shared.NewConflictDetectedEvent(
			conflict.ID, string(conflict.EntityType), conflict.EntityID, string(conflict.Type),
		))
		return nil
	}

	// Порядок записи при применении: сначала локальное хранилище, затем
	// удалённая сторона (через очередь операций). Неудачный push не
	// откатывает локальную запись - ставится повторная попытка.
	if resolution.Type != syncdomain.PreferLocal {
		expected := local.UpdatedAt
		applySnapshot(local, resolution.ResolvedData)
		if err := h.eventRepo.UpdateIfUnmodified(ctx, local, expected); err != nil {
			return shared.WrapError("sync", "Resolve", shared.ErrPersistence, "apply resolution", err)
		}
	}
	if resolution.Type != syncdomain.PreferRemote {
		if err := h.enqueuePush(ctx, cmd, local.ID, syncdomain.OperationUpdate); err != nil {
			return err
		}
	}

	if err := conflict.MarkResolved(resolution, true); err != nil {
		return err
	}
	if err := h.conflictRepo.Create(ctx, conflict); err != nil {
		return shared.WrapError("sync", "Resolve", shared.ErrPersistence, "save resolved conflict", err)
	}

	result.Metrics.EntitiesSynced++
	result.Metrics.ConflictsAutoResolved++
	h.publish(shared.NewConflictResolvedEvent(
		conflict.ID, cmd.OwnerID, cmd.CalendarID, conflict.EntityID,
		string(resolution.Type), resolution.Confidence, true,
	))
	return nil
}

// createMirror creates a local event mirroring a remote upsert.
func (h *PerformSyncHandler) createMirror(ctx context.Context, cmd PerformSyncCommand, change RemoteChange, result *SyncResult) error {
	snap := change.Snapshot
	if snap.Start == nil {
		return shared.NewDomainError("calendar", "Parse", shared.ErrValidation, "remote event without start time")
	}
	start := *snap.Start
	end := start.Add(time.Hour)
	if snap.End != nil {
		end = *snap.End
	}

	title := derefString(snap.Title)
	if title == "" {
		title = "(без названия)"
	}

	semesterID := ""
	if sem, err := h.semesterRepo.GetActive(ctx, cmd.OwnerID); err == nil {
		semesterID = sem.ID
	}

	date := schedule.DateOnly(start)
	event, err := schedule.NewScheduledEvent(schedule.NewEventParams{
		ID:           uuid.NewString(),
		OwnerID:      cmd.OwnerID,
		Title:        title,
		Description:  derefString(snap.Description),
		Location:     derefString(snap.Location),
		StartTime:    timeOfDay(start),
		EndTime:      timeOfDay(end),
		SpecificDate: &date,
		IsRecurring:  false,
		SemesterID:   semesterID,
	})
	if err != nil {
		return shared.WrapError("calendar", "Parse", shared.ErrValidation, "remote event rejected", err)
	}
	event.ExternalID = change.EventID

	if err := h.eventRepo.Create(ctx, event); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return nil
		}
		return shared.WrapError("sync", "Apply", shared.ErrPersistence, "create local mirror", err)
	}
	result.Metrics.EntitiesSynced++
	return nil
}

// hasLocalEdit reports whether the local copy carries changes the remote has
// not seen: a modification after the last committed cycle, or a queued
// outbound operation.
func (h *PerformSyncHandler) hasLocalEdit(ctx context.Context, local *schedule.ScheduledEvent, token *syncdomain.Token) bool {
	if !token.IsEmpty() && local.UpdatedAt.After(token.LastUsedAt) {
		return true
	}
	ops, err := h.opRepo.GetPendingForEntity(ctx, syncdomain.EntityScheduledEvent, local.ID)
	return err == nil && len(ops) > 0
}

// enqueueUnmirrored queues create operations for active local events that
// have no remote copy yet. Runs only on full sync.
func (h *PerformSyncHandler) enqueueUnmirrored(ctx context.Context, cmd PerformSyncCommand, result *SyncResult) {
	events, err := h.eventRepo.GetByOwner(ctx, cmd.OwnerID)
	if err != nil {
		result.Metrics.ErrorCount++
		result.Metrics.Errors = append(result.Metrics.Errors, fmt.Sprintf("list local events: %v", err))
		return
	}
	for _, e := range events {
		if e.HasRemoteCopy() {
			continue
		}
		pending, err := h.opRepo.GetPendingForEntity(ctx, syncdomain.EntityScheduledEvent, e.ID)
		if err == nil && len(pending) > 0 {
			continue
		}
		if err := h.enqueuePush(ctx, cmd, e.ID, syncdomain.OperationCreate); err != nil {
			result.Metrics.ErrorCount++
			result.Metrics.Errors = append(result.Metrics.Errors, fmt.Sprintf("enqueue %s: %v", e.ID, err))
		}
	}
}

// enqueuePush queues one outbound operation.
func (h *PerformSyncHandler) enqueuePush(ctx context.Context, cmd PerformSyncCommand, entityID string, opType syncdomain.OperationType) error {
	op, err := syncdomain.NewOperation(
		uuid.NewString(), cmd.OwnerID, cmd.CalendarID,
		syncdomain.EntityScheduledEvent, entityID, opType,
	)
	if err != nil {
		return err
	}
	if err := h.opRepo.Enqueue(ctx, op); err != nil {
		return shared.WrapError("sync", "Push", shared.ErrPersistence, "enqueue operation", err)
	}
	return nil
}

// pushPending pushes queued operations, one attempt per cycle each.
// Completed operations are confirmed inside the commit transaction;
// failures are recorded immediately so the retry budget survives a
// non-committing cycle.
func (h *PerformSyncHandler) pushPending(ctx context.Context, cmd PerformSyncCommand, result *SyncResult) []*syncdomain.Operation {
	ops, err := h.opRepo.GetPending(ctx, cmd.OwnerID, cmd.CalendarID)
	if err != nil {
		result.Metrics.ErrorCount++
		result.Metrics.Errors = append(result.Metrics.Errors, fmt.Sprintf("load pending operations: %v", err))
		return nil
	}

	var sem *schedule.Semester
	if s, err := h.semesterRepo.GetActive(ctx, cmd.OwnerID); err == nil {
		sem = s
	}

	var completed []*syncdomain.Operation
	for _, op := range ops {
		select {
		case <-ctx.Done():
			return completed
		default:
		}

		if err := h.pushOne(ctx, cmd, op, sem, result); err != nil {
			op.RecordFailure(err, h.pushMaxAttempts)
			_ = h.opRepo.Update(ctx, op)
			result.Metrics.ErrorCount++
			result.Metrics.Errors = append(result.Metrics.Errors,
				fmt.Sprintf("push %s %s: %v", op.Type, op.EntityID, err))
			continue
		}
		op.MarkCompleted()
		completed = append(completed, op)
		result.Metrics.OperationsPushed++
	}
	return completed
}

// pushOne writes a single operation to the remote calendar.
func (h *PerformSyncHandler) pushOne(ctx context.Context, cmd PerformSyncCommand, op *syncdomain.Operation, sem *schedule.Semester, result *SyncResult) error {
	event, err := h.eventRepo.GetByID(ctx, op.EntityID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) && op.Type == syncdomain.OperationDelete {
			// Локальная запись уже исчезла: удаление зеркала всё равно нужно,
			// но без ExternalID адресовать его нечем. Желаемое состояние
			// достигнуто локально.
			return nil
		}
		return err
	}

	result.Metrics.APICalls++
	ack, err := h.client.PushEvent(ctx, cmd.CalendarID, op.Type, event, sem)
	if err != nil {
		return err
	}

	if op.Type == syncdomain.OperationCreate && ack != nil && ack.RemoteID != "" && !event.HasRemoteCopy() {
		event.ExternalID = ack.RemoteID
		if err := h.eventRepo.Update(ctx, event); err != nil {
			return shared.WrapError("sync", "Push", shared.ErrPersistence, "save remote id", err)
		}
	}
	return nil
}

// finishFailed records an aborted cycle. The stored token stays untouched.
func (h *PerformSyncHandler) finishFailed(ctx context.Context, cmd PerformSyncCommand, cycleID string, startedAt time.Time, result *SyncResult, cause error) {
	result.Metrics.Duration = time.Since(startedAt)
	result.Metrics.ErrorCount++
	result.Metrics.Errors = append(result.Metrics.Errors, cause.Error())
	h.record(ctx, cmd, cycleID, startedAt, result)

	retryable := errors.Is(cause, shared.ErrNetwork) || errors.Is(cause, shared.ErrServiceUnavailable)
	h.publish(shared.NewSyncCycleFailedEvent(cmd.OwnerID, cmd.CalendarID, cause.Error(), retryable))
}

// record stores the cycle footprint in the health history, best effort.
func (h *PerformSyncHandler) record(ctx context.Context, cmd PerformSyncCommand, cycleID string, startedAt time.Time, result *SyncResult) {
	if h.recorder == nil {
		return
	}
	_ = h.recorder.RecordCycle(ctx, cmd.OwnerID, cmd.CalendarID, CycleRecord{
		CycleID:        cycleID,
		StartedAt:      startedAt,
		Duration:       result.Metrics.Duration,
		ChangesApplied: result.Metrics.EntitiesSynced,
		ChangesPushed:  result.Metrics.OperationsPushed,
		APICalls:       result.Metrics.APICalls,
		Conflicts:      result.Metrics.ConflictsPending,
		Errors:         result.Metrics.Errors,
		Committed:      result.Committed,
		FullSync:       result.FullSync,
	})
}

// publish emits a domain event, best effort.
func (h *PerformSyncHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	// A publish failure never fails the cycle; the bus retries delivery.
	_ = h.publisher.Publish(event)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// applySnapshot writes the non-nil tracked fields of a snapshot onto the
// local event. Time fields carry concrete instants; for non-recurring events
// a changed date becomes a specific-date override.
func applySnapshot(e *schedule.ScheduledEvent, snap syncdomain.Snapshot) {
	if snap.Title != nil && *snap.Title != "" {
		e.Title = *snap.Title
	}
	if snap.Description != nil {
		e.Description = *snap.Description
	}
	if snap.Location != nil {
		e.Location = *snap.Location
	}
	if snap.Start != nil {
		e.StartTime = timeOfDay(*snap.Start)
		if !e.IsRecurring || e.SpecificDate != nil {
			d := schedule.DateOnly(*snap.Start)
			e.SpecificDate = &d
		}
	}
	if snap.End != nil {
		e.EndTime = timeOfDay(*snap.End)
	}
	if e.EndTime <= e.StartTime {
		e.EndTime = e.StartTime + 60
	}
	e.Touch()
}

// enrich borrows non-empty remote values for fields the local copy lacks.
// Returns true when anything changed.
func enrich(e *schedule.ScheduledEvent, snap syncdomain.Snapshot) bool {
	changed := false
	if e.Description == "" && snap.Description != nil && *snap.Description != "" {
		e.Description = *snap.Description
		changed = true
	}
	if e.Location == "" && snap.Location != nil && *snap.Location != "" {
		e.Location = *snap.Location
		changed = true
	}
	if changed {
		e.Touch()
	}
	return changed
}

// localSnapshot extracts the tracked fields of the local event, anchored to
// the occurrence date of the remote snapshot.
func localSnapshot(e *schedule.ScheduledEvent, remote syncdomain.Snapshot) syncdomain.Snapshot {
	snap := syncdomain.Snapshot{UpdatedAt: e.UpdatedAt}
	if e.Title != "" {
		snap.Title = syncdomain.StringPtr(e.Title)
	}
	if e.Description != "" {
		snap.Description = syncdomain.StringPtr(e.Description)
	}
	if e.Location != "" {
		snap.Location = syncdomain.StringPtr(e.Location)
	}

	anchor := time.Now().UTC()
	if e.SpecificDate != nil {
		anchor = *e.SpecificDate
	} else if remote.Start != nil {
		anchor = *remote.Start
	}
	anchor = schedule.DateOnly(anchor)
	snap.Start = syncdomain.TimePtr(e.StartTime.On(anchor))
	snap.End = syncdomain.TimePtr(e.EndTime.On(anchor))
	return snap
}

// timeOfDay converts an instant to minutes from midnight.
func timeOfDay(t time.Time) schedule.TimeOfDay {
	return schedule.TimeOfDay(t.Hour()*60 + t.Minute())
}

// derefString returns the pointed-to string, or empty.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
