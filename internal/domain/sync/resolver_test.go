package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeConflict(t *testing.T, localUpdated, remoteUpdated time.Time) *Conflict {
	t.Helper()
	local := Snapshot{
		Start:     TimePtr(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)),
		UpdatedAt: localUpdated,
	}
	remote := Snapshot{
		Start:     TimePtr(time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)),
		UpdatedAt: remoteUpdated,
	}
	c, err := NewConflict("conf-1", "student-1", EntityScheduledEvent, "evt-1", Detect(local, remote), local, remote)
	require.NoError(t, err)
	return c
}

func TestResolve_SimultaneousEditPrefersLocal(t *testing.T) {
	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	c := timeConflict(t, base, base.Add(30*time.Second))

	res := Resolve(c)

	assert.Equal(t, PreferLocal, res.Type)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.True(t, res.ShouldAutoApply())
	assert.Equal(t, c.LocalSnapshot.Start, res.ResolvedData.Start)
}

func TestResolve_NewerSideWins(t *testing.T) {
	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

	t.Run("remote newer", func(t *testing.T) {
		c := timeConflict(t, base, base.Add(5*time.Minute))
		res := Resolve(c)

		assert.Equal(t, PreferRemote, res.Type)
		assert.InDelta(t, 0.85, res.Confidence, 1e-9)
		assert.True(t, res.ShouldAutoApply())
	})

	t.Run("local newer", func(t *testing.T) {
		c := timeConflict(t, base.Add(5*time.Minute), base)
		res := Resolve(c)

		assert.Equal(t, PreferLocal, res.Type)
		assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	})
}

func TestResolve_ContentRecencyWins(t *testing.T) {
	// Сценарий из продукта: локальный "Lecture" против удалённого
	// "Lecture Hall A", удалённая правка на 120 секунд свежее.
	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	local := Snapshot{Title: StringPtr("Lecture"), UpdatedAt: base}
	remote := Snapshot{Title: StringPtr("Lecture Hall A"), UpdatedAt: base.Add(120 * time.Second)}

	c, err := NewConflict("conf-2", "student-1", EntityScheduledEvent, "evt-1", Detect(local, remote), local, remote)
	require.NoError(t, err)
	require.Equal(t, ConflictContentModified, c.Type)

	res := Resolve(c)

	assert.Equal(t, PreferRemote, res.Type)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.True(t, res.ShouldAutoApply())
	assert.Equal(t, "Lecture Hall A", *res.ResolvedData.Title)
}

func TestResolve_ContentMergeOnSimultaneousEdit(t *testing.T) {
	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	local := Snapshot{
		Title:       StringPtr("Algorithms Lecture"),
		Description: StringPtr("Short note"),
		Location:    StringPtr("Room 204"),
		UpdatedAt:   base,
	}
	remote := Snapshot{
		Title:       StringPtr("Algorithms"),
		Description: StringPtr("Greedy algorithms and dynamic programming"),
		Location:    StringPtr("Hall A"),
		UpdatedAt:   base.Add(10 * time.Second),
	}

	c, err := NewConflict("conf-3", "student-1", EntityScheduledEvent, "evt-1", Detect(local, remote), local, remote)
	require.NoError(t, err)

	res := Resolve(c)

	assert.Equal(t, Merge, res.Type)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.False(t, res.ShouldAutoApply(), "merge ниже порога автоприменения")

	// Более длинные тексты побеждают, location берётся с удалённой стороны.
	assert.Equal(t, "Algorithms Lecture", *res.ResolvedData.Title)
	assert.Equal(t, "Greedy algorithms and dynamic programming", *res.ResolvedData.Description)
	assert.Equal(t, "Hall A", *res.ResolvedData.Location)
}

func TestResolve_LocationConflictPrefersRemote(t *testing.T) {
	local := Snapshot{
		Title:     StringPtr("Lecture"),
		Location:  StringPtr("Room 204"),
		UpdatedAt: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC),
	}
	remote := Snapshot{
		Title:     StringPtr("Lecture"),
		Location:  StringPtr("Hall A"),
		UpdatedAt: time.Date(2026, 2, 2, 12, 1, 0, 0, time.UTC),
	}

	c, err := NewConflict("conf-4", "student-1", EntityScheduledEvent, "evt-1", Detect(local, remote), local, remote)
	require.NoError(t, err)
	require.Equal(t, ConflictLocation, c.Type)

	res := Resolve(c)

	assert.Equal(t, PreferRemote, res.Type)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.Equal(t, "Hall A", *res.ResolvedData.Location)
	// 0.8 не строго больше порога - уходит в очередь на ручное решение.
	assert.False(t, res.ShouldAutoApply())
}

func TestResolve_UnknownTypeFallsBackToManual(t *testing.T) {
	c := &Conflict{
		ID:            "conf-5",
		OwnerID:       "student-1",
		EntityID:      "evt-1",
		Type:          ConflictType("structural"),
		LocalSnapshot: Snapshot{Title: StringPtr("Lecture")},
		State:         ResolutionPending,
	}

	res := Resolve(c)

	assert.Equal(t, Manual, res.Type)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.False(t, res.ShouldAutoApply())
}

func TestConflict_MarkResolved(t *testing.T) {
	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	c := timeConflict(t, base, base.Add(30*time.Second))
	res := Resolve(c)

	require.NoError(t, c.MarkResolved(res, true))
	assert.Equal(t, ResolutionAuto, c.State)
	assert.True(t, c.IsResolved())
	assert.False(t, c.ResolvedAt.IsZero())

	// Повторное разрешение запрещено.
	assert.ErrorIs(t, c.MarkResolved(res, false), ErrConflictAlreadyResolved)
}

func TestOperation_RetryBudget(t *testing.T) {
	op, err := NewOperation("op-1", "student-1", "cal-1", EntityScheduledEvent, "evt-1", OperationUpdate)
	require.NoError(t, err)
	assert.Equal(t, OperationPending, op.Status)

	op.RecordFailure(assert.AnError, 3)
	op.RecordFailure(assert.AnError, 3)
	assert.Equal(t, OperationPending, op.Status)
	assert.False(t, op.IsExhausted(3))

	op.RecordFailure(assert.AnError, 3)
	assert.Equal(t, OperationFailed, op.Status)
	assert.True(t, op.IsExhausted(3))
	assert.NotEmpty(t, op.LastError)
}

func TestToken_Lifecycle(t *testing.T) {
	token, err := NewToken("student-1", "cal-1", "")
	require.NoError(t, err)
	assert.True(t, token.IsEmpty())

	token.Advance("cursor-42")
	assert.False(t, token.IsEmpty())
	assert.Equal(t, "cursor-42", token.Value)

	token.Invalidate()
	assert.True(t, token.IsEmpty())
}
