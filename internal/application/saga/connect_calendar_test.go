package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeTokenRepo struct {
	tokens  map[string]*syncdomain.Token
	deleted []string
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*syncdomain.Token)}
}

func (r *fakeTokenRepo) Get(ctx context.Context, ownerID, calendarID string) (*syncdomain.Token, error) {
	t, ok := r.tokens[ownerID+"/"+calendarID]
	if !ok {
		return nil, shared.ErrTokenNotFound
	}
	return t, nil
}

func (r *fakeTokenRepo) Save(ctx context.Context, token *syncdomain.Token) error {
	r.tokens[token.OwnerID+"/"+token.CalendarID] = token
	return nil
}

func (r *fakeTokenRepo) Delete(ctx context.Context, ownerID, calendarID string) error {
	r.deleted = append(r.deleted, ownerID+"/"+calendarID)
	delete(r.tokens, ownerID+"/"+calendarID)
	return nil
}

func (r *fakeTokenRepo) ListPairs(ctx context.Context) ([]syncdomain.Pair, error) {
	return nil, nil
}

type fakeSyncExecutor struct {
	result *command.SyncResult
	err    error
	calls  int
}

func (e *fakeSyncExecutor) Handle(ctx context.Context, cmd command.PerformSyncCommand) (*command.SyncResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type fakeRealtimeManager struct {
	setupResult *command.SetupRealtimeSyncResult
	setupErr    error
	disabled    []string
}

func (m *fakeRealtimeManager) Setup(ctx context.Context, cmd command.SetupRealtimeSyncCommand) (*command.SetupRealtimeSyncResult, error) {
	if m.setupErr != nil {
		return nil, m.setupErr
	}
	return m.setupResult, nil
}

func (m *fakeRealtimeManager) Disable(ctx context.Context, ownerID string) error {
	m.disabled = append(m.disabled, ownerID)
	return nil
}

func committedResult() *command.SyncResult {
	return &command.SyncResult{
		FullSync:  true,
		Committed: true,
		Metrics:   command.CycleMetrics{EntitiesSynced: 4},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestConnectCalendarSaga_HappyPathWithoutRealtime(t *testing.T) {
	repo := newFakeTokenRepo()
	sync := &fakeSyncExecutor{result: committedResult()}
	realtime := &fakeRealtimeManager{}

	s := NewConnectCalendarSaga(repo, sync, realtime, DefaultConnectCalendarConfig())

	result, err := s.Execute(context.Background(), ConnectCalendarInput{
		OwnerID:    "stud-1",
		CalendarID: "cal-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, sync.calls)
	assert.False(t, result.RealtimeEnabled)
	assert.Empty(t, result.ChannelID)
	require.NotNil(t, result.SyncResult)
	assert.True(t, result.SyncResult.FullSync)
	assert.False(t, result.ConnectedAt.IsZero())
}

func TestConnectCalendarSaga_HappyPathWithRealtime(t *testing.T) {
	repo := newFakeTokenRepo()
	sync := &fakeSyncExecutor{result: committedResult()}
	realtime := &fakeRealtimeManager{
		setupResult: &command.SetupRealtimeSyncResult{
			ChannelID: "chan-1",
			Secret:    "secret-1",
			ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
		},
	}

	s := NewConnectCalendarSaga(repo, sync, realtime, DefaultConnectCalendarConfig())

	result, err := s.Execute(context.Background(), ConnectCalendarInput{
		OwnerID:        "stud-1",
		CalendarID:     "cal-1",
		CallbackURL:    "https://api.example.com/webhook/calendar",
		EnableRealtime: true,
	})
	require.NoError(t, err)

	assert.True(t, result.RealtimeEnabled)
	assert.Equal(t, "chan-1", result.ChannelID)
	assert.Equal(t, "secret-1", result.ChannelSecret)
}

func TestConnectCalendarSaga_ValidatesInput(t *testing.T) {
	s := NewConnectCalendarSaga(newFakeTokenRepo(), &fakeSyncExecutor{}, &fakeRealtimeManager{}, DefaultConnectCalendarConfig())

	tests := []struct {
		name  string
		input ConnectCalendarInput
	}{
		{"missing owner", ConnectCalendarInput{CalendarID: "cal-1"}},
		{"missing calendar", ConnectCalendarInput{OwnerID: "stud-1"}},
		{"realtime without callback", ConnectCalendarInput{OwnerID: "stud-1", CalendarID: "cal-1", EnableRealtime: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Execute(context.Background(), tt.input)
			require.Error(t, err)

			var connectErr *ConnectError
			require.ErrorAs(t, err, &connectErr)
			assert.Equal(t, StepValidateInput, connectErr.Step)
			assert.False(t, connectErr.IsRetryable())
		})
	}
}

func TestConnectCalendarSaga_RejectsConnectedPair(t *testing.T) {
	repo := newFakeTokenRepo()
	repo.tokens["stud-1/cal-1"] = &syncdomain.Token{
		OwnerID:    "stud-1",
		CalendarID: "cal-1",
		Value:      "cursor-123",
	}
	sync := &fakeSyncExecutor{result: committedResult()}

	s := NewConnectCalendarSaga(repo, sync, &fakeRealtimeManager{}, DefaultConnectCalendarConfig())

	_, err := s.Execute(context.Background(), ConnectCalendarInput{OwnerID: "stud-1", CalendarID: "cal-1"})
	require.ErrorIs(t, err, ErrCalendarAlreadyConnected)
	assert.Zero(t, sync.calls, "sync must not run for an already connected pair")
}

func TestConnectCalendarSaga_InitialSyncFailure(t *testing.T) {
	sync := &fakeSyncExecutor{err: errors.New("remote unavailable")}
	s := NewConnectCalendarSaga(newFakeTokenRepo(), sync, &fakeRealtimeManager{}, DefaultConnectCalendarConfig())

	_, err := s.Execute(context.Background(), ConnectCalendarInput{OwnerID: "stud-1", CalendarID: "cal-1"})
	require.Error(t, err)

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, StepInitialSync, connectErr.Step)
	assert.True(t, connectErr.IsRetryable())
}

func TestConnectCalendarSaga_CoalescedSyncSurfacesInProgress(t *testing.T) {
	sync := &fakeSyncExecutor{result: &command.SyncResult{Coalesced: true}}
	s := NewConnectCalendarSaga(newFakeTokenRepo(), sync, &fakeRealtimeManager{}, DefaultConnectCalendarConfig())

	_, err := s.Execute(context.Background(), ConnectCalendarInput{OwnerID: "stud-1", CalendarID: "cal-1"})
	require.ErrorIs(t, err, ErrConnectionInProgress)
}

func TestConnectCalendarSaga_RealtimeFailureDegrades(t *testing.T) {
	repo := newFakeTokenRepo()
	sync := &fakeSyncExecutor{result: committedResult()}
	realtime := &fakeRealtimeManager{setupErr: errors.New("watch quota exceeded")}

	s := NewConnectCalendarSaga(repo, sync, realtime, DefaultConnectCalendarConfig())

	result, err := s.Execute(context.Background(), ConnectCalendarInput{
		OwnerID:        "stud-1",
		CalendarID:     "cal-1",
		CallbackURL:    "https://api.example.com/webhook/calendar",
		EnableRealtime: true,
	})
	require.NoError(t, err, "channel failure degrades to scheduled cycles")

	assert.False(t, result.RealtimeEnabled)
	assert.Empty(t, result.ChannelID)
	assert.Empty(t, repo.deleted, "the committed connection stays")
}

func TestConnectCalendarSaga_RealtimeRequiredRollsBack(t *testing.T) {
	repo := newFakeTokenRepo()
	sync := &fakeSyncExecutor{result: committedResult()}
	realtime := &fakeRealtimeManager{setupErr: errors.New("watch quota exceeded")}

	cfg := DefaultConnectCalendarConfig()
	cfg.RealtimeRequired = true
	s := NewConnectCalendarSaga(repo, sync, realtime, cfg)

	_, err := s.Execute(context.Background(), ConnectCalendarInput{
		OwnerID:        "stud-1",
		CalendarID:     "cal-1",
		CallbackURL:    "https://api.example.com/webhook/calendar",
		EnableRealtime: true,
	})
	require.Error(t, err)

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, StepSetupRealtime, connectErr.Step)
	assert.Contains(t, repo.deleted, "stud-1/cal-1", "rollback must delete the token")
}
