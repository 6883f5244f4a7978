package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

type resolveFixture struct {
	eventRepo    *fakeEventRepo
	opRepo       *fakeOpRepo
	conflictRepo *fakeConflictRepo
	handler      *ResolveConflictHandler
	event        *schedule.ScheduledEvent
	conflict     *syncdomain.Conflict
}

// newResolveFixture seeds a pending title conflict on a mirrored event.
func newResolveFixture(t *testing.T) *resolveFixture {
	t.Helper()
	f := &resolveFixture{
		eventRepo:    newFakeEventRepo(),
		opRepo:       newFakeOpRepo(),
		conflictRepo: newFakeConflictRepo(),
	}
	f.handler = NewResolveConflictHandler(f.conflictRepo, f.eventRepo, f.opRepo, nil, nil)

	date := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	event, err := schedule.NewScheduledEvent(schedule.NewEventParams{
		ID:           "evt-1",
		OwnerID:      "student-1",
		Title:        "Физика",
		StartTime:    schedule.TimeOfDay(9 * 60),
		EndTime:      schedule.TimeOfDay(10 * 60),
		SpecificDate: &date,
	})
	require.NoError(t, err)
	event.ExternalID = "ext-1"
	require.NoError(t, f.eventRepo.Create(context.Background(), event))
	f.event = event

	local := syncdomain.Snapshot{
		Title:     syncdomain.StringPtr("Физика"),
		Start:     syncdomain.TimePtr(event.StartTime.On(date)),
		End:       syncdomain.TimePtr(event.EndTime.On(date)),
		UpdatedAt: event.UpdatedAt,
	}
	remote := syncdomain.Snapshot{
		Title:     syncdomain.StringPtr("Физика, лабораторная"),
		Start:     local.Start,
		End:       local.End,
		UpdatedAt: event.UpdatedAt.Add(5 * time.Second),
	}
	detection := syncdomain.Detect(local, remote)
	require.True(t, detection.HasConflict())

	conflict, err := syncdomain.NewConflict(
		"conf-1", "student-1",
		syncdomain.EntityScheduledEvent, event.ID,
		detection, local, remote,
	)
	require.NoError(t, err)
	require.NoError(t, f.conflictRepo.Create(context.Background(), conflict))
	f.conflict = conflict
	return f
}

func resolveCmd(resolution syncdomain.ResolutionType) ResolveConflictCommand {
	return ResolveConflictCommand{
		ConflictID: "conf-1",
		CalendarID: "cal-1",
		Resolution: resolution,
	}
}

func TestResolveConflict_PreferRemoteUpdatesLocalOnly(t *testing.T) {
	f := newResolveFixture(t)

	result, err := f.handler.Handle(context.Background(), resolveCmd(syncdomain.PreferRemote))
	require.NoError(t, err)
	assert.False(t, result.PushQueued, "the remote side already holds the winning copy")

	updated, err := f.eventRepo.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Физика, лабораторная", updated.Title)

	stored, err := f.conflictRepo.GetByID(context.Background(), "conf-1")
	require.NoError(t, err)
	assert.Equal(t, syncdomain.ResolutionManual, stored.State)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, 1.0, stored.Resolution.Confidence)
	assert.Empty(t, f.opRepo.ops)
}

func TestResolveConflict_PreferLocalQueuesPush(t *testing.T) {
	f := newResolveFixture(t)

	result, err := f.handler.Handle(context.Background(), resolveCmd(syncdomain.PreferLocal))
	require.NoError(t, err)
	assert.True(t, result.PushQueued)

	// The local copy stays exactly as the user left it.
	kept, err := f.eventRepo.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Физика", kept.Title)

	ops, err := f.opRepo.GetPending(context.Background(), "student-1", "cal-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, syncdomain.OperationUpdate, ops[0].Type)
	assert.Equal(t, "evt-1", ops[0].EntityID)
}

func TestResolveConflict_MergeAppliesProvidedSnapshot(t *testing.T) {
	f := newResolveFixture(t)

	cmd := resolveCmd(syncdomain.Merge)
	cmd.MergedData = &syncdomain.Snapshot{
		Title:    syncdomain.StringPtr("Физика (лекция + лабораторная)"),
		Location: syncdomain.StringPtr("ауд. 204"),
	}

	result, err := f.handler.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, result.PushQueued, "merged copy must reach both sides")

	merged, err := f.eventRepo.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Физика (лекция + лабораторная)", merged.Title)
	assert.Equal(t, "ауд. 204", merged.Location)
}

func TestResolveConflict_MergeWithoutDataRejected(t *testing.T) {
	f := newResolveFixture(t)

	_, err := f.handler.Handle(context.Background(), resolveCmd(syncdomain.Merge))
	assert.ErrorIs(t, err, shared.ErrMergeDataRequired)
}

func TestResolveConflict_AlreadyResolvedRejected(t *testing.T) {
	f := newResolveFixture(t)

	_, err := f.handler.Handle(context.Background(), resolveCmd(syncdomain.PreferLocal))
	require.NoError(t, err)

	_, err = f.handler.Handle(context.Background(), resolveCmd(syncdomain.PreferRemote))
	assert.ErrorIs(t, err, shared.ErrConflictResolved)
}

func TestResolveConflict_ManualStrategyRejected(t *testing.T) {
	f := newResolveFixture(t)

	_, err := f.handler.Handle(context.Background(), resolveCmd(syncdomain.Manual))
	assert.Error(t, err)
}
