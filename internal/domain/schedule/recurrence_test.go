package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Семестр начинается в понедельник 2026-01-05.
// Неделя 1: 05.01-11.01, неделя 2: 12.01-18.01 и так далее.
func testSemester(t *testing.T) *Semester {
	t.Helper()
	sem, err := NewSemester("sem-1", "student-1", "2026 Spring",
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return sem
}

func mondayEvent(t *testing.T, rotation RotationType, weeks ...int) *ScheduledEvent {
	t.Helper()
	monday := DayOfWeek(1)
	event, err := NewScheduledEvent(NewEventParams{
		ID:           "evt-1",
		OwnerID:      "student-1",
		Title:        "Linear Algebra",
		DayOfWeek:    &monday,
		StartTime:    TimeOfDay(9 * 60),
		EndTime:      TimeOfDay(10*60 + 30),
		IsRecurring:  true,
		RotationType: rotation,
		RotationWeeks: func() []int {
			if len(weeks) > 0 {
				return weeks
			}
			return nil
		}(),
		SemesterID: "sem-1",
	})
	require.NoError(t, err)
	return event
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOccursOn_WeeklyRotation(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationWeekly)

	// Каждый понедельник семестра.
	assert.True(t, OccursOn(event, sem, date(2026, 1, 5)))
	assert.True(t, OccursOn(event, sem, date(2026, 1, 12)))
	assert.True(t, OccursOn(event, sem, date(2026, 3, 2)))

	// Другие дни недели не проходят.
	assert.False(t, OccursOn(event, sem, date(2026, 1, 6)))  // вторник
	assert.False(t, OccursOn(event, sem, date(2026, 1, 11))) // воскресенье
}

func TestOccursOn_InactiveEvent(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationWeekly)
	event.Deactivate()

	assert.False(t, OccursOn(event, sem, date(2026, 1, 5)))
}

func TestOccursOn_BiweeklyAndOddWeeks(t *testing.T) {
	sem := testSemester(t)

	for _, rotation := range []RotationType{RotationBiweekly, RotationOddWeeks} {
		event := mondayEvent(t, rotation)

		assert.True(t, OccursOn(event, sem, date(2026, 1, 5)), "week 1 is odd")
		assert.False(t, OccursOn(event, sem, date(2026, 1, 12)), "week 2 is even")
		assert.True(t, OccursOn(event, sem, date(2026, 1, 19)), "week 3 is odd")
	}
}

func TestOccursOn_EvenWeeks(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationEvenWeeks)

	assert.False(t, OccursOn(event, sem, date(2026, 1, 5)))
	assert.True(t, OccursOn(event, sem, date(2026, 1, 12)))
	assert.False(t, OccursOn(event, sem, date(2026, 1, 19)))
}

func TestOccursOn_CustomRotation(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationCustom, 1, 3, 5)

	tests := []struct {
		day  time.Time
		week int
		want bool
	}{
		{date(2026, 1, 5), 1, true},
		{date(2026, 1, 12), 2, false},
		{date(2026, 1, 19), 3, true},
		{date(2026, 1, 26), 4, false},
		{date(2026, 2, 2), 5, true},
		{date(2026, 2, 9), 6, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OccursOn(event, sem, tt.day), "week %d", tt.week)
	}
}

func TestOccursOn_SemesterWeekStartOffset(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationCustom, 3)
	event.SemesterWeekStart = 3

	// Отсчёт начинается с недели 3, поэтому первая неделя семестра совпадает.
	assert.True(t, OccursOn(event, sem, date(2026, 1, 5)))
	assert.False(t, OccursOn(event, sem, date(2026, 1, 12)))
}

func TestOccursOn_SpecificDateOverridesEverything(t *testing.T) {
	sem := testSemester(t)

	// Неповторяющееся событие с конкретной датой.
	override := date(2026, 1, 12)
	monday := DayOfWeek(1)
	event, err := NewScheduledEvent(NewEventParams{
		ID:           "evt-2",
		OwnerID:      "student-1",
		Title:        "Midterm",
		DayOfWeek:    &monday,
		StartTime:    TimeOfDay(14 * 60),
		EndTime:      TimeOfDay(16 * 60),
		SpecificDate: &override,
		IsRecurring:  false,
		RotationType: RotationOddWeeks,
	})
	require.NoError(t, err)

	// Проходит только в указанную дату, ротация игнорируется
	// (неделя 2 чётная, odd_weeks её бы отфильтровала).
	assert.True(t, OccursOn(event, sem, date(2026, 1, 12)))
	assert.False(t, OccursOn(event, sem, date(2026, 1, 5)))
	assert.False(t, OccursOn(event, sem, date(2026, 1, 19)))
}

func TestOccursOn_NonRecurringWithoutSpecificDate(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationWeekly)
	event.IsRecurring = false

	assert.False(t, OccursOn(event, sem, date(2026, 1, 5)))
}

func TestOccursOn_UnknownRotationIsPermissive(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationWeekly)
	event.RotationType = RotationType("quarterly")

	assert.True(t, OccursOn(event, sem, date(2026, 1, 5)))
	assert.True(t, OccursOn(event, sem, date(2026, 1, 12)))
}

func TestOccursOn_NilEvent(t *testing.T) {
	assert.False(t, OccursOn(nil, testSemester(t), date(2026, 1, 5)))
}

func TestResolveWeek_FallbackWithoutSemester(t *testing.T) {
	res := ResolveWeek(nil, 1, date(2026, 1, 5))

	assert.True(t, res.Assumed)
	assert.Equal(t, WeekNumber(FallbackWeeksBeforeDate+1), res.Week)
}

func TestResolveWeek_BeforeSemesterStart(t *testing.T) {
	sem := testSemester(t)

	// За неделю до старта номер недели уходит в ноль.
	res := ResolveWeek(sem, 1, date(2025, 12, 29))
	assert.False(t, res.Assumed)
	assert.Equal(t, WeekNumber(0), res.Week)
}

func TestOccursOn_FallbackHeuristic(t *testing.T) {
	// Без семестра current_week = 10 + 1 = 11, нечётная.
	event := mondayEvent(t, RotationOddWeeks)

	assert.True(t, OccursOn(event, nil, date(2026, 1, 5)))

	even := mondayEvent(t, RotationEvenWeeks)
	assert.False(t, OccursOn(even, nil, date(2026, 1, 5)))
}

func TestOccurrences_Materialization(t *testing.T) {
	sem := testSemester(t)
	event := mondayEvent(t, RotationBiweekly)

	occs := Occurrences(event, sem, date(2026, 1, 5), date(2026, 2, 8))

	// Понедельники нечётных недель: 05.01 (1), 19.01 (3), 02.02 (5).
	require.Len(t, occs, 3)
	assert.Equal(t, date(2026, 1, 5), occs[0].Date)
	assert.Equal(t, date(2026, 1, 19), occs[1].Date)
	assert.Equal(t, date(2026, 2, 2), occs[2].Date)

	assert.Equal(t, 9, occs[0].Start.Hour())
	assert.Equal(t, 30, occs[0].End.Minute())
	assert.False(t, occs[0].Assumed)
}

func TestOccurrences_AssumedFlagWithoutSemester(t *testing.T) {
	event := mondayEvent(t, RotationWeekly)

	occs := Occurrences(event, nil, date(2026, 1, 5), date(2026, 1, 11))

	require.Len(t, occs, 1)
	assert.True(t, occs[0].Assumed)
}

func TestNewScheduledEvent_Validation(t *testing.T) {
	monday := DayOfWeek(1)
	base := NewEventParams{
		ID:        "evt-3",
		OwnerID:   "student-1",
		Title:     "Physics",
		DayOfWeek: &monday,
		StartTime: TimeOfDay(9 * 60),
		EndTime:   TimeOfDay(10 * 60),
	}

	t.Run("custom rotation requires weeks", func(t *testing.T) {
		params := base
		params.RotationType = RotationCustom
		_, err := NewScheduledEvent(params)
		assert.ErrorIs(t, err, ErrRotationWeeksRequired)
	})

	t.Run("rotation weeks must be positive", func(t *testing.T) {
		params := base
		params.RotationType = RotationCustom
		params.RotationWeeks = []int{1, 0}
		_, err := NewScheduledEvent(params)
		assert.ErrorIs(t, err, ErrRotationWeeksInvalid)
	})

	t.Run("end must be after start", func(t *testing.T) {
		params := base
		params.EndTime = params.StartTime
		_, err := NewScheduledEvent(params)
		assert.ErrorIs(t, err, ErrInvalidTimeRange)
	})

	t.Run("day of week out of range", func(t *testing.T) {
		bad := DayOfWeek(7)
		params := base
		params.DayOfWeek = &bad
		_, err := NewScheduledEvent(params)
		assert.ErrorIs(t, err, ErrInvalidDayOfWeek)
	})

	t.Run("week start defaults to 1", func(t *testing.T) {
		event, err := NewScheduledEvent(base)
		require.NoError(t, err)
		assert.Equal(t, 1, event.SemesterWeekStart)
	})
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(9*60+30), tod)
	assert.Equal(t, "09:30", tod.String())

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}
