package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeTokenRepo struct {
	tokens map[string]*syncdomain.Token
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*syncdomain.Token)}
}

func (r *fakeTokenRepo) Get(_ context.Context, ownerID, calendarID string) (*syncdomain.Token, error) {
	t, ok := r.tokens[ownerID+"/"+calendarID]
	if !ok {
		return nil, shared.ErrTokenNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTokenRepo) Save(_ context.Context, token *syncdomain.Token) error {
	copied := *token
	r.tokens[token.OwnerID+"/"+token.CalendarID] = &copied
	return nil
}

func (r *fakeTokenRepo) Delete(_ context.Context, ownerID, calendarID string) error {
	delete(r.tokens, ownerID+"/"+calendarID)
	return nil
}

func (r *fakeTokenRepo) ListPairs(_ context.Context) ([]syncdomain.Pair, error) {
	var pairs []syncdomain.Pair
	for _, t := range r.tokens {
		pairs = append(pairs, syncdomain.Pair{OwnerID: t.OwnerID, CalendarID: t.CalendarID})
	}
	return pairs, nil
}

type fakeEventRepo struct {
	events map[string]*schedule.ScheduledEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*schedule.ScheduledEvent)}
}

func (r *fakeEventRepo) Create(_ context.Context, e *schedule.ScheduledEvent) error {
	if _, ok := r.events[e.ID]; ok {
		return shared.ErrEventAlreadyExists
	}
	copied := *e
	r.events[e.ID] = &copied
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id string) (*schedule.ScheduledEvent, error) {
	e, ok := r.events[id]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *fakeEventRepo) GetByExternalID(_ context.Context, ownerID, externalID string) (*schedule.ScheduledEvent, error) {
	for _, e := range r.events {
		if e.OwnerID == ownerID && e.ExternalID == externalID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, shared.ErrEventNotFound
}

func (r *fakeEventRepo) GetByOwner(_ context.Context, ownerID string) ([]*schedule.ScheduledEvent, error) {
	var out []*schedule.ScheduledEvent
	for _, e := range r.events {
		if e.OwnerID == ownerID && e.IsActive {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) Update(_ context.Context, e *schedule.ScheduledEvent) error {
	if _, ok := r.events[e.ID]; !ok {
		return shared.ErrEventNotFound
	}
	copied := *e
	r.events[e.ID] = &copied
	return nil
}

func (r *fakeEventRepo) UpdateIfUnmodified(_ context.Context, e *schedule.ScheduledEvent, expected time.Time) error {
	stored, ok := r.events[e.ID]
	if !ok {
		return shared.ErrEventNotFound
	}
	if !stored.UpdatedAt.Equal(expected) {
		return shared.ErrOptimisticLock
	}
	copied := *e
	r.events[e.ID] = &copied
	return nil
}

func (r *fakeEventRepo) Deactivate(_ context.Context, id string) error {
	e, ok := r.events[id]
	if !ok {
		return shared.ErrEventNotFound
	}
	e.IsActive = false
	return nil
}

func (r *fakeEventRepo) ModifiedSince(_ context.Context, ownerID string, since time.Time) ([]*schedule.ScheduledEvent, error) {
	var out []*schedule.ScheduledEvent
	for _, e := range r.events {
		if e.OwnerID == ownerID && e.UpdatedAt.After(since) {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeSemesterRepo struct{}

func (fakeSemesterRepo) Create(context.Context, *schedule.Semester) error { return nil }
func (fakeSemesterRepo) GetByID(context.Context, string) (*schedule.Semester, error) {
	return nil, shared.ErrSemesterNotFound
}
func (fakeSemesterRepo) GetActive(context.Context, string) (*schedule.Semester, error) {
	return nil, shared.ErrSemesterNotFound
}
func (fakeSemesterRepo) Update(context.Context, *schedule.Semester) error { return nil }

type fakeOpRepo struct {
	ops map[string]*syncdomain.Operation
}

func newFakeOpRepo() *fakeOpRepo {
	return &fakeOpRepo{ops: make(map[string]*syncdomain.Operation)}
}

func (r *fakeOpRepo) Enqueue(_ context.Context, op *syncdomain.Operation) error {
	copied := *op
	r.ops[op.ID] = &copied
	return nil
}

func (r *fakeOpRepo) GetPending(_ context.Context, ownerID, calendarID string) ([]*syncdomain.Operation, error) {
	var out []*syncdomain.Operation
	for _, op := range r.ops {
		if op.OwnerID == ownerID && op.CalendarID == calendarID && op.Status == syncdomain.OperationPending {
			copied := *op
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeOpRepo) GetPendingForEntity(_ context.Context, entityType syncdomain.EntityType, entityID string) ([]*syncdomain.Operation, error) {
	var out []*syncdomain.Operation
	for _, op := range r.ops {
		if op.EntityType == entityType && op.EntityID == entityID && op.Status == syncdomain.OperationPending {
			copied := *op
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeOpRepo) Update(_ context.Context, op *syncdomain.Operation) error {
	if _, ok := r.ops[op.ID]; !ok {
		return shared.ErrOperationNotFound
	}
	copied := *op
	r.ops[op.ID] = &copied
	return nil
}

func (r *fakeOpRepo) PurgeCompleted(_ context.Context, olderThan time.Time) (int, error) {
	count := 0
	for id, op := range r.ops {
		if op.Status == syncdomain.OperationCompleted && op.UpdatedAt.Before(olderThan) {
			delete(r.ops, id)
			count++
		}
	}
	return count, nil
}

type fakeConflictRepo struct {
	conflicts map[string]*syncdomain.Conflict
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{conflicts: make(map[string]*syncdomain.Conflict)}
}

func (r *fakeConflictRepo) Create(_ context.Context, c *syncdomain.Conflict) error {
	copied := *c
	r.conflicts[c.ID] = &copied
	return nil
}

func (r *fakeConflictRepo) GetByID(_ context.Context, id string) (*syncdomain.Conflict, error) {
	c, ok := r.conflicts[id]
	if !ok {
		return nil, shared.ErrConflictNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *fakeConflictRepo) GetPending(_ context.Context, ownerID string) ([]*syncdomain.Conflict, error) {
	var out []*syncdomain.Conflict
	for _, c := range r.conflicts {
		if c.OwnerID == ownerID && !c.IsResolved() {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeConflictRepo) GetPendingForEntity(_ context.Context, entityType syncdomain.EntityType, entityID string) ([]*syncdomain.Conflict, error) {
	var out []*syncdomain.Conflict
	for _, c := range r.conflicts {
		if c.EntityType == entityType && c.EntityID == entityID && !c.IsResolved() {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeConflictRepo) Update(_ context.Context, c *syncdomain.Conflict) error {
	if _, ok := r.conflicts[c.ID]; !ok {
		return shared.ErrConflictNotFound
	}
	copied := *c
	r.conflicts[c.ID] = &copied
	return nil
}

func (r *fakeConflictRepo) CountPending(_ context.Context, ownerID string) (int, error) {
	count := 0
	for _, c := range r.conflicts {
		if c.OwnerID == ownerID && !c.IsResolved() {
			count++
		}
	}
	return count, nil
}

func (r *fakeConflictRepo) single() *syncdomain.Conflict {
	for _, c := range r.conflicts {
		return c
	}
	return nil
}

// fakeCommitter persists through the token repo, mimicking the transactional store.
type fakeCommitter struct {
	tokenRepo *fakeTokenRepo
	opRepo    *fakeOpRepo
	failWith  error
	calls     int
}

func (c *fakeCommitter) CommitCycle(ctx context.Context, token *syncdomain.Token, completed []*syncdomain.Operation) error {
	c.calls++
	if c.failWith != nil {
		return c.failWith
	}
	if err := c.tokenRepo.Save(ctx, token); err != nil {
		return err
	}
	for _, op := range completed {
		if err := c.opRepo.Update(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

type fakeCalendarClient struct {
	pulls     map[string]*RemotePull // keyed by sync token
	pullErr   error
	pushErr   error
	pushAcks  []RemoteAck
	pushCalls int

	// blocking support for concurrency tests
	pullStarted chan struct{}
	pullRelease chan struct{}
}

func (c *fakeCalendarClient) PullChanges(_ context.Context, _ string, syncToken string) (*RemotePull, error) {
	if c.pullStarted != nil {
		c.pullStarted <- struct{}{}
		<-c.pullRelease
	}
	if c.pullErr != nil {
		return nil, c.pullErr
	}
	if pull, ok := c.pulls[syncToken]; ok {
		return pull, nil
	}
	return &RemotePull{NextToken: "tok-next", APICalls: 1}, nil
}

func (c *fakeCalendarClient) PushEvent(_ context.Context, _ string, _ syncdomain.OperationType, _ *schedule.ScheduledEvent, _ *schedule.Semester) (*RemoteAck, error) {
	c.pushCalls++
	if c.pushErr != nil {
		return nil, c.pushErr
	}
	if len(c.pushAcks) > 0 {
		ack := c.pushAcks[0]
		c.pushAcks = c.pushAcks[1:]
		return &ack, nil
	}
	return &RemoteAck{RemoteID: "remote-1", UpdatedAt: time.Now().UTC()}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type syncFixture struct {
	tokenRepo    *fakeTokenRepo
	eventRepo    *fakeEventRepo
	opRepo       *fakeOpRepo
	conflictRepo *fakeConflictRepo
	committer    *fakeCommitter
	client       *fakeCalendarClient
	handler      *PerformSyncHandler
}

func newSyncFixture() *syncFixture {
	f := &syncFixture{
		tokenRepo:    newFakeTokenRepo(),
		eventRepo:    newFakeEventRepo(),
		opRepo:       newFakeOpRepo(),
		conflictRepo: newFakeConflictRepo(),
		client:       &fakeCalendarClient{pulls: make(map[string]*RemotePull)},
	}
	f.committer = &fakeCommitter{tokenRepo: f.tokenRepo, opRepo: f.opRepo}
	f.handler = NewPerformSyncHandler(
		f.tokenRepo, f.eventRepo, fakeSemesterRepo{},
		f.opRepo, f.conflictRepo, f.committer,
		f.client, nil, nil, nil,
		DefaultPerformSyncConfig(),
	)
	return f
}

func upsert(eventID, title string, start time.Time, updated time.Time) RemoteChange {
	end := start.Add(90 * time.Minute)
	return RemoteChange{
		Kind:    RemoteUpsert,
		EventID: eventID,
		Snapshot: syncdomain.Snapshot{
			Title:     syncdomain.StringPtr(title),
			Start:     syncdomain.TimePtr(start),
			End:       syncdomain.TimePtr(end),
			UpdatedAt: updated,
		},
	}
}

func localMirror(t *testing.T, f *syncFixture, externalID, title string) *schedule.ScheduledEvent {
	t.Helper()
	date := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	event, err := schedule.NewScheduledEvent(schedule.NewEventParams{
		ID:           "evt-" + externalID,
		OwnerID:      "student-1",
		Title:        title,
		StartTime:    schedule.TimeOfDay(10 * 60),
		EndTime:      schedule.TimeOfDay(11*60 + 30),
		SpecificDate: &date,
	})
	require.NoError(t, err)
	event.ExternalID = externalID
	require.NoError(t, f.eventRepo.Create(context.Background(), event))
	return event
}

func cmd() PerformSyncCommand {
	return PerformSyncCommand{OwnerID: "student-1", CalendarID: "cal-1"}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestPerformSync_FullCycleCommitsToken(t *testing.T) {
	f := newSyncFixture()
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	f.client.pulls[""] = &RemotePull{
		Changes: []RemoteChange{
			upsert("ext-1", "Лекция по алгоритмам", start, start),
			upsert("ext-2", "Семинар по Go", start.Add(2*time.Hour), start),
		},
		NextToken: "tok-1",
		APICalls:  1,
	}

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)

	assert.True(t, result.FullSync)
	assert.True(t, result.Committed)
	assert.Equal(t, 2, result.Metrics.EntitiesSynced)
	assert.Equal(t, 0, result.Metrics.ErrorCount)

	stored, err := f.tokenRepo.Get(context.Background(), "student-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored.Value)

	created, err := f.eventRepo.GetByExternalID(context.Background(), "student-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Лекция по алгоритмам", created.Title)
	assert.Equal(t, schedule.TimeOfDay(10*60), created.StartTime)
}

func TestPerformSync_TokenUnchangedWhenCommitFails(t *testing.T) {
	f := newSyncFixture()
	existing, err := syncdomain.NewToken("student-1", "cal-1", "tok-old")
	require.NoError(t, err)
	require.NoError(t, f.tokenRepo.Save(context.Background(), existing))

	f.client.pulls["tok-old"] = &RemotePull{NextToken: "tok-new", APICalls: 1}
	f.committer.failWith = errors.New("connection reset")

	result, err := f.handler.Handle(context.Background(), cmd())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrPersistence)
	assert.False(t, result.Committed)

	stored, err := f.tokenRepo.Get(context.Background(), "student-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-old", stored.Value, "a failed cycle must leave the previous token intact")
}

func TestPerformSync_PullFailureAbortsCycle(t *testing.T) {
	f := newSyncFixture()
	f.client.pullErr = shared.WrapError("calendar", "Request", shared.ErrNetwork, "request failed", errors.New("timeout"))

	result, err := f.handler.Handle(context.Background(), cmd())
	require.Error(t, err)
	assert.False(t, result.Committed)
	assert.Zero(t, f.committer.calls)
	assert.Empty(t, f.eventRepo.events)
}

func TestPerformSync_RejectedTokenTriggersFullResync(t *testing.T) {
	f := newSyncFixture()
	stale, err := syncdomain.NewToken("student-1", "cal-1", "tok-stale")
	require.NoError(t, err)
	require.NoError(t, f.tokenRepo.Save(context.Background(), stale))

	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	f.client.pulls[""] = &RemotePull{
		Changes:   []RemoteChange{upsert("ext-1", "Лекция", start, start)},
		NextToken: "tok-fresh",
		APICalls:  1,
	}

	// The stale token is rejected by the remote side, the empty token succeeds.
	rejecting := &rejectingClient{inner: f.client, reject: "tok-stale"}
	f.handler = NewPerformSyncHandler(
		f.tokenRepo, f.eventRepo, fakeSemesterRepo{},
		f.opRepo, f.conflictRepo, f.committer,
		rejecting, nil, nil, nil,
		DefaultPerformSyncConfig(),
	)

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.True(t, result.FullSync)
	assert.True(t, result.Committed)

	stored, err := f.tokenRepo.Get(context.Background(), "student-1", "cal-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", stored.Value)
}

type rejectingClient struct {
	inner  *fakeCalendarClient
	reject string
}

func (c *rejectingClient) PullChanges(ctx context.Context, calendarID, syncToken string) (*RemotePull, error) {
	if syncToken == c.reject {
		return &RemotePull{APICalls: 1}, shared.ErrRemoteTokenInvalid
	}
	return c.inner.PullChanges(ctx, calendarID, syncToken)
}

func (c *rejectingClient) PushEvent(ctx context.Context, calendarID string, opType syncdomain.OperationType, event *schedule.ScheduledEvent, sem *schedule.Semester) (*RemoteAck, error) {
	return c.inner.PushEvent(ctx, calendarID, opType, event, sem)
}

func TestPerformSync_NewerRemoteWinsAutoResolve(t *testing.T) {
	f := newSyncFixture()
	local := localMirror(t, f, "ext-1", "Lecture")

	// A pending outbound op marks the local copy as carrying an uncommitted edit.
	op, err := syncdomain.NewOperation("op-1", "student-1", "cal-1",
		syncdomain.EntityScheduledEvent, local.ID, syncdomain.OperationUpdate)
	require.NoError(t, err)
	require.NoError(t, f.opRepo.Enqueue(context.Background(), op))

	remoteStart := local.StartTime.On(*local.SpecificDate)
	remote := upsert("ext-1", "Lecture Hall A", remoteStart, local.UpdatedAt.Add(120*time.Second))
	f.client.pulls[""] = &RemotePull{
		Changes:   []RemoteChange{remote},
		NextToken: "tok-1",
		APICalls:  1,
	}

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metrics.ConflictsAutoResolved)
	assert.Equal(t, 0, result.Metrics.ConflictsPending)

	updated, err := f.eventRepo.GetByID(context.Background(), local.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lecture Hall A", updated.Title)

	conflict := f.conflictRepo.single()
	require.NotNil(t, conflict)
	assert.Equal(t, syncdomain.ResolutionAuto, conflict.State)
	require.NotNil(t, conflict.Resolution)
	assert.Equal(t, syncdomain.PreferRemote, conflict.Resolution.Type)
	assert.InDelta(t, 0.85, conflict.Resolution.Confidence, 0.001)
}

func TestPerformSync_SimultaneousTimeEditPrefersLocal(t *testing.T) {
	f := newSyncFixture()
	local := localMirror(t, f, "ext-1", "Лекция")

	op, err := syncdomain.NewOperation("op-1", "student-1", "cal-1",
		syncdomain.EntityScheduledEvent, local.ID, syncdomain.OperationUpdate)
	require.NoError(t, err)
	require.NoError(t, f.opRepo.Enqueue(context.Background(), op))

	// Remote moved the start by an hour, edited within the simultaneous window.
	remoteStart := local.StartTime.On(*local.SpecificDate).Add(time.Hour)
	remote := upsert("ext-1", "Лекция", remoteStart, local.UpdatedAt.Add(30*time.Second))
	f.client.pulls[""] = &RemotePull{
		Changes:   []RemoteChange{remote},
		NextToken: "tok-1",
		APICalls:  1,
	}

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metrics.ConflictsAutoResolved)

	// Local copy keeps its own time.
	kept, err := f.eventRepo.GetByID(context.Background(), local.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.TimeOfDay(10*60), kept.StartTime)

	conflict := f.conflictRepo.single()
	require.NotNil(t, conflict)
	require.NotNil(t, conflict.Resolution)
	assert.Equal(t, syncdomain.PreferLocal, conflict.Resolution.Type)
	assert.InDelta(t, 0.9, conflict.Resolution.Confidence, 0.001)
}

func TestPerformSync_LowConfidenceConflictStaysPending(t *testing.T) {
	f := newSyncFixture()
	local := localMirror(t, f, "ext-1", "Матанализ")

	op, err := syncdomain.NewOperation("op-1", "student-1", "cal-1",
		syncdomain.EntityScheduledEvent, local.ID, syncdomain.OperationUpdate)
	require.NoError(t, err)
	require.NoError(t, f.opRepo.Enqueue(context.Background(), op))

	// Both sides edited the title within the simultaneous window: the merge
	// path's 0.75 confidence is below the auto-apply threshold.
	remoteStart := local.StartTime.On(*local.SpecificDate)
	remote := upsert("ext-1", "Математический анализ", remoteStart, local.UpdatedAt.Add(10*time.Second))
	f.client.pulls[""] = &RemotePull{
		Changes:   []RemoteChange{remote},
		NextToken: "tok-1",
		APICalls:  1,
	}

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Metrics.ConflictsAutoResolved)
	assert.Equal(t, 1, result.Metrics.ConflictsPending)
	assert.True(t, result.Committed, "a pending conflict blocks only its entity, not the cycle")

	kept, err := f.eventRepo.GetByID(context.Background(), local.ID)
	require.NoError(t, err)
	assert.Equal(t, "Матанализ", kept.Title)

	conflict := f.conflictRepo.single()
	require.NotNil(t, conflict)
	assert.Equal(t, syncdomain.ResolutionPending, conflict.State)
	assert.Nil(t, conflict.Resolution)
}

func TestPerformSync_PushFailureIsIsolated(t *testing.T) {
	f := newSyncFixture()
	local := localMirror(t, f, "ext-1", "Лекция")

	op, err := syncdomain.NewOperation("op-1", "student-1", "cal-1",
		syncdomain.EntityScheduledEvent, local.ID, syncdomain.OperationUpdate)
	require.NoError(t, err)
	require.NoError(t, f.opRepo.Enqueue(context.Background(), op))

	f.client.pulls[""] = &RemotePull{NextToken: "tok-1", APICalls: 1}
	f.client.pushErr = errors.New("503 service unavailable")

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err, "push failures are collected, not fatal")
	assert.True(t, result.Committed)
	assert.Equal(t, 1, result.Metrics.ErrorCount)
	assert.Equal(t, 0, result.Metrics.OperationsPushed)

	stored := f.opRepo.ops["op-1"]
	require.NotNil(t, stored)
	assert.Equal(t, syncdomain.OperationPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestPerformSync_ExhaustedPushMarksOperationFailed(t *testing.T) {
	f := newSyncFixture()
	local := localMirror(t, f, "ext-1", "Лекция")

	op, err := syncdomain.NewOperation("op-1", "student-1", "cal-1",
		syncdomain.EntityScheduledEvent, local.ID, syncdomain.OperationUpdate)
	require.NoError(t, err)
	op.RetryCount = 2 // two failed cycles behind it
	require.NoError(t, f.opRepo.Enqueue(context.Background(), op))

	f.client.pulls[""] = &RemotePull{NextToken: "tok-1", APICalls: 1}
	f.client.pushErr = errors.New("503 service unavailable")

	_, err = f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)

	stored := f.opRepo.ops["op-1"]
	require.NotNil(t, stored)
	assert.Equal(t, syncdomain.OperationFailed, stored.Status)
	assert.Contains(t, stored.LastError, "503")
}

func TestPerformSync_UnknownChangeIsCountedNotApplied(t *testing.T) {
	f := newSyncFixture()
	f.client.pulls[""] = &RemotePull{
		Changes:   []RemoteChange{{Kind: RemoteUnknown, EventID: "ext-???"}},
		NextToken: "tok-1",
		APICalls:  1,
	}

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.True(t, result.Committed, "a malformed entity is skipped, the cycle continues")
	assert.Equal(t, 1, result.Metrics.ErrorCount)
	assert.Equal(t, 0, result.Metrics.EntitiesSynced)
	assert.Empty(t, f.eventRepo.events)
}

func TestPerformSync_ConcurrentCallCoalesces(t *testing.T) {
	f := newSyncFixture()
	f.client.pullStarted = make(chan struct{})
	f.client.pullRelease = make(chan struct{})

	done := make(chan *SyncResult, 1)
	go func() {
		result, err := f.handler.Handle(context.Background(), cmd())
		assert.NoError(t, err)
		done <- result
	}()

	<-f.client.pullStarted // first cycle is mid-pull

	second, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.True(t, second.Coalesced, "the second concurrent call must return as a no-op")

	close(f.client.pullRelease)
	first := <-done
	assert.False(t, first.Coalesced)
	assert.True(t, first.Committed)
}

func TestPerformSync_RemoteDeleteDeactivatesMirror(t *testing.T) {
	f := newSyncFixture()
	local := localMirror(t, f, "ext-1", "Лекция")

	f.client.pulls[""] = &RemotePull{
		Changes:   []RemoteChange{{Kind: RemoteDelete, EventID: "ext-1"}},
		NextToken: "tok-1",
		APICalls:  1,
	}

	result, err := f.handler.Handle(context.Background(), cmd())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metrics.EntitiesSynced)

	stored, err := f.eventRepo.GetByID(context.Background(), local.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "remote tombstone soft-deletes the local mirror")
}
