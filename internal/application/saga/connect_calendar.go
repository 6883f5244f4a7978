// Package saga contains complex business processes that orchestrate
// multiple domain operations in a coordinated manner.
// Sagas ensure consistency across operations and handle compensation on failures.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECT CALENDAR SAGA
// Complex business process: connecting an external calendar to a schedule.
// Flow: Validate → Check Existing → Initial Full Sync → Setup Realtime
// ══════════════════════════════════════════════════════════════════════════════

// ConnectCalendarInput contains all data required to connect a calendar.
type ConnectCalendarInput struct {
	// OwnerID - student connecting the calendar (required).
	OwnerID string

	// CalendarID - external calendar identifier (required).
	CalendarID string

	// CallbackURL - address for push notifications (required when
	// EnableRealtime is set).
	CallbackURL string

	// EnableRealtime - register a notification channel after the initial
	// sync. When false the pair is served by scheduled cycles only.
	EnableRealtime bool
}

// Validate checks if the input is valid for connecting.
func (i ConnectCalendarInput) Validate() error {
	if i.OwnerID == "" {
		return errors.New("connect_calendar: owner id is required")
	}
	if i.CalendarID == "" {
		return errors.New("connect_calendar: calendar id is required")
	}
	if i.EnableRealtime && i.CallbackURL == "" {
		return errors.New("connect_calendar: callback url is required for realtime sync")
	}
	return nil
}

// ConnectCalendarResult contains the result of a successful connection.
type ConnectCalendarResult struct {
	// SyncResult - outcome of the initial full sync.
	SyncResult *command.SyncResult

	// ChannelID - registered notification channel, empty when realtime is off.
	ChannelID string

	// ChannelSecret - returned exactly once; only its hash is stored.
	ChannelSecret string

	// ChannelExpiresAt - when the channel needs renewal.
	ChannelExpiresAt time.Time

	// RealtimeEnabled - true when a notification channel was registered.
	RealtimeEnabled bool

	// ConnectedAt - timestamp of successful connection.
	ConnectedAt time.Time
}

// ConnectStep represents a step in the connection process.
type ConnectStep string

const (
	StepValidateInput ConnectStep = "validate_input"
	StepCheckExisting ConnectStep = "check_existing"
	StepInitialSync   ConnectStep = "initial_sync"
	StepSetupRealtime ConnectStep = "setup_realtime"
	StepComplete      ConnectStep = "complete"
)

// connectState tracks the current state of the saga.
type connectState struct {
	CurrentStep ConnectStep
	Input       ConnectCalendarInput
	SyncResult  *command.SyncResult
	Channel     *command.SetupRealtimeSyncResult
	StartedAt   time.Time
	FailedStep  ConnectStep
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// SyncExecutor runs one synchronization cycle for a pair.
type SyncExecutor interface {
	Handle(ctx context.Context, cmd command.PerformSyncCommand) (*command.SyncResult, error)
}

// RealtimeManager manages the notification channel lifecycle for a pair.
type RealtimeManager interface {
	Setup(ctx context.Context, cmd command.SetupRealtimeSyncCommand) (*command.SetupRealtimeSyncResult, error)
	Disable(ctx context.Context, ownerID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECT CALENDAR SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ConnectCalendarSaga orchestrates the complete calendar connection process.
// It follows the Saga pattern: the initial sync proves remote access and
// populates the local mirror before a notification channel is registered.
type ConnectCalendarSaga struct {
	// Dependencies (injected via constructor)
	tokenRepo syncdomain.TokenRepository
	sync      SyncExecutor
	realtime  RealtimeManager

	// Configuration
	syncTimeout      time.Duration
	realtimeRequired bool
}

// ConnectCalendarConfig contains configuration for the saga.
type ConnectCalendarConfig struct {
	// SyncTimeout bounds the initial full sync.
	SyncTimeout time.Duration

	// RealtimeRequired - when true a failed channel registration rolls the
	// connection back instead of degrading to scheduled cycles.
	RealtimeRequired bool
}

// DefaultConnectCalendarConfig returns default configuration.
func DefaultConnectCalendarConfig() ConnectCalendarConfig {
	return ConnectCalendarConfig{
		SyncTimeout:      5 * time.Minute,
		RealtimeRequired: false,
	}
}

// NewConnectCalendarSaga creates a new saga with all dependencies.
func NewConnectCalendarSaga(
	tokenRepo syncdomain.TokenRepository,
	sync SyncExecutor,
	realtime RealtimeManager,
	config ConnectCalendarConfig,
) *ConnectCalendarSaga {
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = DefaultConnectCalendarConfig().SyncTimeout
	}

	return &ConnectCalendarSaga{
		tokenRepo:        tokenRepo,
		sync:             sync,
		realtime:         realtime,
		syncTimeout:      config.SyncTimeout,
		realtimeRequired: config.RealtimeRequired,
	}
}

// Execute runs the complete connection process.
// It returns the result on success or an error with context about the failure.
func (s *ConnectCalendarSaga) Execute(ctx context.Context, input ConnectCalendarInput) (*ConnectCalendarResult, error) {
	state := &connectState{
		CurrentStep: StepValidateInput,
		Input:       input,
		StartedAt:   time.Now().UTC(),
	}

	// Step 1: Validate input
	if err := s.stepValidateInput(state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// Step 2: Check the pair is not already connected
	state.CurrentStep = StepCheckExisting
	if err := s.stepCheckExisting(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// Step 3: Initial full sync - proves remote access and commits the
	// first token. Nothing persists when it fails, so there is nothing
	// to compensate.
	state.CurrentStep = StepInitialSync
	if err := s.stepInitialSync(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// Step 4: Setup realtime channel (optional)
	if input.EnableRealtime {
		state.CurrentStep = StepSetupRealtime
		if err := s.stepSetupRealtime(ctx, state); err != nil {
			if s.realtimeRequired {
				s.rollbackConnection(ctx, state)
				return nil, s.wrapError(state, err)
			}
			// Degrade to scheduled cycles; the channel can be
			// registered later via the realtime endpoint.
			state.Channel = nil
		}
	}

	// Complete
	state.CurrentStep = StepComplete
	now := time.Now().UTC()

	result := &ConnectCalendarResult{
		SyncResult:  state.SyncResult,
		ConnectedAt: now,
	}
	if state.Channel != nil {
		result.ChannelID = state.Channel.ChannelID
		result.ChannelSecret = state.Channel.Secret
		result.ChannelExpiresAt = state.Channel.ExpiresAt
		result.RealtimeEnabled = true
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepValidateInput validates all input parameters.
func (s *ConnectCalendarSaga) stepValidateInput(state *connectState) error {
	if err := state.Input.Validate(); err != nil {
		state.FailedStep = StepValidateInput
		state.Error = err
		return err
	}
	return nil
}

// stepCheckExisting verifies the pair is not already connected.
func (s *ConnectCalendarSaga) stepCheckExisting(ctx context.Context, state *connectState) error {
	token, err := s.tokenRepo.Get(ctx, state.Input.OwnerID, state.Input.CalendarID)
	if err != nil {
		if errors.Is(err, shared.ErrTokenNotFound) {
			return nil
		}
		state.FailedStep = StepCheckExisting
		state.Error = fmt.Errorf("check existing token: %w", err)
		return state.Error
	}
	if !token.IsEmpty() {
		state.FailedStep = StepCheckExisting
		state.Error = ErrCalendarAlreadyConnected
		return state.Error
	}
	return nil
}

// stepInitialSync runs the first full cycle for the pair.
func (s *ConnectCalendarSaga) stepInitialSync(ctx context.Context, state *connectState) error {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.sync.Handle(syncCtx, command.PerformSyncCommand{
		OwnerID:    state.Input.OwnerID,
		CalendarID: state.Input.CalendarID,
	})
	if err != nil {
		state.FailedStep = StepInitialSync
		state.Error = fmt.Errorf("initial sync: %w", err)
		return state.Error
	}
	if result.Coalesced {
		state.FailedStep = StepInitialSync
		state.Error = ErrConnectionInProgress
		return state.Error
	}
	if !result.Committed {
		state.FailedStep = StepInitialSync
		state.Error = ErrInitialSyncNotCommitted
		return state.Error
	}

	state.SyncResult = result
	return nil
}

// stepSetupRealtime registers the notification channel.
func (s *ConnectCalendarSaga) stepSetupRealtime(ctx context.Context, state *connectState) error {
	channel, err := s.realtime.Setup(ctx, command.SetupRealtimeSyncCommand{
		OwnerID:     state.Input.OwnerID,
		CalendarID:  state.Input.CalendarID,
		CallbackURL: state.Input.CallbackURL,
	})
	if err != nil {
		state.FailedStep = StepSetupRealtime
		state.Error = fmt.Errorf("setup realtime: %w", err)
		return state.Error
	}

	state.Channel = channel
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPENSATION
// ══════════════════════════════════════════════════════════════════════════════

// rollbackConnection undoes a partially connected pair: the channel (if any)
// is stopped and the token is deleted so a retry starts clean.
func (s *ConnectCalendarSaga) rollbackConnection(ctx context.Context, state *connectState) {
	if state.Channel != nil {
		_ = s.realtime.Disable(ctx, state.Input.OwnerID)
	}
	_ = s.tokenRepo.Delete(ctx, state.Input.OwnerID, state.Input.CalendarID)
}

// wrapError wraps an error with saga context.
func (s *ConnectCalendarSaga) wrapError(state *connectState, err error) error {
	return &ConnectError{
		Step:    state.FailedStep,
		Input:   state.Input,
		Cause:   err,
		Message: fmt.Sprintf("connect calendar failed at step '%s': %v", state.FailedStep, err),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ConnectError represents an error during the connection process.
type ConnectError struct {
	Step    ConnectStep
	Input   ConnectCalendarInput
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the error can be retried.
func (e *ConnectError) IsRetryable() bool {
	// Validation and existence errors are not retryable
	if e.Step == StepValidateInput || e.Step == StepCheckExisting {
		return false
	}
	return true
}

// Saga-specific errors.
var (
	// ErrCalendarAlreadyConnected - the pair already has a sync token.
	ErrCalendarAlreadyConnected = errors.New("connect_calendar: calendar already connected")

	// ErrConnectionInProgress - another cycle holds the pair's session.
	ErrConnectionInProgress = errors.New("connect_calendar: connection already in progress")

	// ErrInitialSyncNotCommitted - the first cycle finished without
	// advancing the token.
	ErrInitialSyncNotCommitted = errors.New("connect_calendar: initial sync did not commit")
)
