package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetect_NoConflictWhenIdentical(t *testing.T) {
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	local := Snapshot{
		Title:    StringPtr("Linear Algebra"),
		Location: StringPtr("Room 204"),
		Start:    TimePtr(start),
	}
	remote := Snapshot{
		Title:    StringPtr("Linear Algebra"),
		Location: StringPtr("Room 204"),
		Start:    TimePtr(start),
	}

	d := Detect(local, remote)
	assert.False(t, d.HasConflict())
	assert.Empty(t, d.Types)
}

func TestDetect_OneSidedValueIsEnrichment(t *testing.T) {
	// Значение только у одной стороны - обогащение, а не конфликт.
	local := Snapshot{Title: StringPtr("Lecture")}
	remote := Snapshot{
		Title:       StringPtr("Lecture"),
		Description: StringPtr("Bring the problem set"),
		Location:    StringPtr("Hall A"),
	}

	d := Detect(local, remote)
	assert.False(t, d.HasConflict())
}

func TestDetect_EmptyStringCountsAsMissing(t *testing.T) {
	local := Snapshot{Location: StringPtr("")}
	remote := Snapshot{Location: StringPtr("Hall A")}

	d := Detect(local, remote)
	assert.False(t, d.HasConflict())
}

func TestDetect_TimeConflict(t *testing.T) {
	local := Snapshot{
		Start: TimePtr(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)),
		End:   TimePtr(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)),
	}
	remote := Snapshot{
		Start: TimePtr(time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)),
		End:   TimePtr(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)),
	}

	d := Detect(local, remote)
	assert.True(t, d.HasConflict())
	assert.Equal(t, []Field{FieldStart}, d.Fields)
	assert.Equal(t, ConflictTimeModified, d.PrimaryType())
}

func TestDetect_ContentConflict(t *testing.T) {
	local := Snapshot{Title: StringPtr("Lecture")}
	remote := Snapshot{Title: StringPtr("Lecture Hall A")}

	d := Detect(local, remote)
	assert.True(t, d.HasConflict())
	assert.Equal(t, ConflictContentModified, d.PrimaryType())
}

func TestDetect_LocationOnlyConflict(t *testing.T) {
	local := Snapshot{
		Title:    StringPtr("Lecture"),
		Location: StringPtr("Room 204"),
	}
	remote := Snapshot{
		Title:    StringPtr("Lecture"),
		Location: StringPtr("Hall A"),
	}

	d := Detect(local, remote)
	assert.Equal(t, []Field{FieldLocation}, d.Fields)
	assert.Equal(t, ConflictLocation, d.PrimaryType())
}

func TestDetect_TimeTakesPriorityOverOtherCategories(t *testing.T) {
	local := Snapshot{
		Title:    StringPtr("Lecture"),
		Location: StringPtr("Room 204"),
		Start:    TimePtr(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)),
	}
	remote := Snapshot{
		Title:    StringPtr("Seminar"),
		Location: StringPtr("Hall A"),
		Start:    TimePtr(time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)),
	}

	d := Detect(local, remote)
	assert.Len(t, d.Types, 3)
	assert.Equal(t, ConflictTimeModified, d.PrimaryType())
}

func TestDetect_TimezoneAwareComparison(t *testing.T) {
	// Один и тот же момент в разных зонах - не конфликт.
	utc := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	almaty := utc.In(time.FixedZone("Asia/Almaty", 5*60*60))

	local := Snapshot{Start: TimePtr(utc)}
	remote := Snapshot{Start: TimePtr(almaty)}

	d := Detect(local, remote)
	assert.False(t, d.HasConflict())
}
