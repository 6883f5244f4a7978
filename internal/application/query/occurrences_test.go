package query

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

type fakeEventRepo struct {
	events []*schedule.ScheduledEvent
}

func (r *fakeEventRepo) Create(_ context.Context, e *schedule.ScheduledEvent) error {
	r.events = append(r.events, e)
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id string) (*schedule.ScheduledEvent, error) {
	for _, e := range r.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, shared.ErrEventNotFound
}

func (r *fakeEventRepo) GetByExternalID(_ context.Context, _, _ string) (*schedule.ScheduledEvent, error) {
	return nil, shared.ErrEventNotFound
}

func (r *fakeEventRepo) GetByOwner(_ context.Context, ownerID string) ([]*schedule.ScheduledEvent, error) {
	var out []*schedule.ScheduledEvent
	for _, e := range r.events {
		if e.OwnerID == ownerID && e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) Update(_ context.Context, _ *schedule.ScheduledEvent) error { return nil }

func (r *fakeEventRepo) UpdateIfUnmodified(_ context.Context, _ *schedule.ScheduledEvent, _ time.Time) error {
	return nil
}

func (r *fakeEventRepo) Deactivate(_ context.Context, _ string) error { return nil }

func (r *fakeEventRepo) ModifiedSince(_ context.Context, _ string, _ time.Time) ([]*schedule.ScheduledEvent, error) {
	return nil, nil
}

type fakeSemesterRepo struct {
	active *schedule.Semester
}

func (r *fakeSemesterRepo) Create(_ context.Context, _ *schedule.Semester) error { return nil }

func (r *fakeSemesterRepo) GetByID(_ context.Context, _ string) (*schedule.Semester, error) {
	return nil, shared.ErrSemesterNotFound
}

func (r *fakeSemesterRepo) GetActive(_ context.Context, _ string) (*schedule.Semester, error) {
	if r.active == nil {
		return nil, shared.ErrSemesterNotFound
	}
	return r.active, nil
}

func (r *fakeSemesterRepo) Update(_ context.Context, _ *schedule.Semester) error { return nil }

func weeklyMondayLecture(t *testing.T) *schedule.ScheduledEvent {
	t.Helper()
	monday := schedule.DayOfWeek(1)
	event, err := schedule.NewScheduledEvent(schedule.NewEventParams{
		ID:           "evt-weekly",
		OwnerID:      "student-1",
		Title:        "Алгоритмы",
		Location:     "ауд. 301",
		DayOfWeek:    &monday,
		StartTime:    schedule.TimeOfDay(10 * 60),
		EndTime:      schedule.TimeOfDay(11*60 + 30),
		IsRecurring:  true,
		RotationType: schedule.RotationWeekly,
	})
	require.NoError(t, err)
	return event
}

func oneOffConsultation(t *testing.T) *schedule.ScheduledEvent {
	t.Helper()
	date := time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC)
	event, err := schedule.NewScheduledEvent(schedule.NewEventParams{
		ID:           "evt-oneoff",
		OwnerID:      "student-1",
		Title:        "Консультация",
		StartTime:    schedule.TimeOfDay(14 * 60),
		EndTime:      schedule.TimeOfDay(15 * 60),
		SpecificDate: &date,
	})
	require.NoError(t, err)
	return event
}

func septemberSemester(t *testing.T) *schedule.Semester {
	t.Helper()
	sem, err := schedule.NewSemester(
		"sem-1", "student-1", "Осень 2026",
		time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return sem
}

func occurrencesFixture(t *testing.T, events ...*schedule.ScheduledEvent) *GetOccurrencesHandler {
	t.Helper()
	return NewGetOccurrencesHandler(
		&fakeEventRepo{events: events},
		&fakeSemesterRepo{active: septemberSemester(t)},
	)
}

func TestGetOccurrences_MaterializesWeeklyAndOneOff(t *testing.T) {
	handler := occurrencesFixture(t, weeklyMondayLecture(t), oneOffConsultation(t))

	result, err := handler.Handle(context.Background(), GetOccurrencesQuery{
		OwnerID: "student-1",
		From:    time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),  // понедельник
		To:      time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC), // воскресенье
	})
	require.NoError(t, err)

	// Две недели: понедельники 7 и 14 сентября плюс разовая консультация 9-го.
	require.Len(t, result.Occurrences, 3)
	assert.Equal(t, "evt-weekly", result.Occurrences[0].EventID)
	assert.Equal(t, time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC), result.Occurrences[0].Start)
	assert.Equal(t, "evt-oneoff", result.Occurrences[1].EventID)
	assert.Equal(t, time.Date(2026, 9, 9, 14, 0, 0, 0, time.UTC), result.Occurrences[1].Start)
	assert.Equal(t, "evt-weekly", result.Occurrences[2].EventID)
	assert.Equal(t, time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC), result.Occurrences[2].Start)

	assert.False(t, result.WeekNumbersAssumed)
	assert.Equal(t, "ауд. 301", result.Occurrences[0].Location)
}

func TestGetOccurrences_NoActiveSemesterMarksAssumed(t *testing.T) {
	handler := NewGetOccurrencesHandler(
		&fakeEventRepo{events: []*schedule.ScheduledEvent{weeklyMondayLecture(t)}},
		&fakeSemesterRepo{},
	)

	result, err := handler.Handle(context.Background(), GetOccurrencesQuery{
		OwnerID: "student-1",
		From:    time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, result.Occurrences, 1)
	assert.True(t, result.WeekNumbersAssumed)
	assert.True(t, result.Occurrences[0].Assumed)
}

func TestGetOccurrences_ValidatesRange(t *testing.T) {
	handler := occurrencesFixture(t)

	_, err := handler.Handle(context.Background(), GetOccurrencesQuery{
		OwnerID: "student-1",
		From:    time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)

	_, err = handler.Handle(context.Background(), GetOccurrencesQuery{
		OwnerID: "student-1",
		From:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestOccursOn_UnknownEventIsFalseNotError(t *testing.T) {
	handler := occurrencesFixture(t)

	occurs, err := handler.OccursOn(context.Background(), "evt-ghost", time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, occurs)
}

func TestOccursOn_KnownEvent(t *testing.T) {
	handler := occurrencesFixture(t, weeklyMondayLecture(t))

	occurs, err := handler.OccursOn(context.Background(), "evt-weekly", time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, occurs)

	occurs, err = handler.OccursOn(context.Background(), "evt-weekly", time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, occurs)
}

func TestExportICS_ProducesCalendarFeed(t *testing.T) {
	handler := NewExportICSHandler(occurrencesFixture(t, weeklyMondayLecture(t), oneOffConsultation(t)))

	result, err := handler.Handle(context.Background(), ExportICSQuery{
		OwnerID:      "student-1",
		From:         time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		To:           time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
		CalendarName: "Моё расписание",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.EventCount)
	assert.True(t, strings.HasPrefix(result.ICS, "BEGIN:VCALENDAR"))
	assert.Contains(t, result.ICS, "SUMMARY:Алгоритмы")
	assert.Contains(t, result.ICS, "SUMMARY:Консультация")
	assert.Contains(t, result.ICS, "UID:evt-weekly-20260907@schedule-sync")
	assert.Equal(t, 2, strings.Count(result.ICS, "BEGIN:VEVENT"))
}

func TestExportICS_EmptyScheduleStillValidFeed(t *testing.T) {
	handler := NewExportICSHandler(occurrencesFixture(t))

	result, err := handler.Handle(context.Background(), ExportICSQuery{
		OwnerID: "student-1",
		From:    time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.EventCount)
	assert.Contains(t, result.ICS, "END:VCALENDAR")
}
