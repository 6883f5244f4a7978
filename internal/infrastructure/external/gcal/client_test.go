package gcal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsPageDTO_Parsing(t *testing.T) {
	jsonData := `{
    "kind": "calendar#events",
    "etag": "\"p33g9v5k4mrjoo0o\"",
    "nextSyncToken": "CPjL0uOr_Y0DEPjL0uOr_Y0DGAUg0c3O pg",
    "items": [
        {
            "id": "evt-algorithms-1",
            "status": "confirmed",
            "summary": "Algorithms Lecture",
            "location": "Hall A",
            "start": {"dateTime": "2026-02-02T09:00:00+05:00"},
            "end": {"dateTime": "2026-02-02T10:30:00+05:00"},
            "updated": "2026-01-28T11:45:03.120Z"
        },
        {
            "id": "evt-cancelled-lab",
            "status": "cancelled"
        }
    ]
}`

	var page EventsPageDTO
	err := json.Unmarshal([]byte(jsonData), &page)
	require.NoError(t, err)

	assert.Equal(t, "calendar#events", page.Kind)
	assert.NotEmpty(t, page.NextSyncToken)
	require.Len(t, page.Items, 2)

	lecture := page.Items[0]
	assert.Equal(t, "Algorithms Lecture", lecture.Summary)
	assert.Equal(t, "Hall A", lecture.Location)
	require.NotNil(t, lecture.Start.Resolve())
	assert.Equal(t, 9, lecture.Start.Resolve().Hour())
	assert.False(t, lecture.IsCancelled())

	assert.True(t, page.Items[1].IsCancelled())
}

func TestEventTimeDTO_ResolveAllDay(t *testing.T) {
	dto := &EventTimeDTO{Date: "2026-02-02"}
	resolved := dto.Resolve()
	require.NotNil(t, resolved)
	assert.Equal(t, 2026, resolved.Year())
	assert.Equal(t, time.February, resolved.Month())
	assert.Equal(t, 0, resolved.Hour())

	var empty *EventTimeDTO
	assert.Nil(t, empty.Resolve())
}

func TestMapper_Classify(t *testing.T) {
	mapper := NewMapper()

	tests := []struct {
		name string
		dto  EventDTO
		want ChangeKind
	}{
		{"confirmed is upsert", EventDTO{ID: "e1", Status: "confirmed"}, ChangeUpsert},
		{"tentative is upsert", EventDTO{ID: "e2", Status: "tentative"}, ChangeUpsert},
		{"missing status is upsert", EventDTO{ID: "e3"}, ChangeUpsert},
		{"cancelled is delete", EventDTO{ID: "e4", Status: "cancelled"}, ChangeDelete},
		{"unrecognized status is unknown", EventDTO{ID: "e5", Status: "draft"}, ChangeUnknown},
		{"missing id is unknown", EventDTO{Status: "confirmed"}, ChangeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := mapper.Classify(tt.dto)
			assert.Equal(t, tt.want, change.Kind)
			if tt.want == ChangeUpsert {
				require.NotNil(t, change.Event)
				assert.Equal(t, tt.dto.ID, change.Event.ID)
			}
		})
	}
}

func TestMapper_SnapshotFromDTO(t *testing.T) {
	mapper := NewMapper()
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 1, 28, 11, 45, 0, 0, time.UTC)

	dto := &EventDTO{
		ID:      "evt-1",
		Summary: "Algorithms Lecture",
		Start:   &EventTimeDTO{DateTime: &start},
		Updated: updated,
	}

	snap, err := mapper.SnapshotFromDTO(dto)
	require.NoError(t, err)

	require.NotNil(t, snap.Title)
	assert.Equal(t, "Algorithms Lecture", *snap.Title)
	// Отсутствующие поля остаются nil - одностороннее значение не конфликт.
	assert.Nil(t, snap.Description)
	assert.Nil(t, snap.Location)
	require.NotNil(t, snap.Start)
	assert.True(t, snap.Start.Equal(start))
	assert.Nil(t, snap.End)
	assert.Equal(t, updated, snap.UpdatedAt)

	_, err = mapper.SnapshotFromDTO(nil)
	assert.ErrorIs(t, err, ErrNilDTO)
}

func TestMapper_EventParamsFromDTO(t *testing.T) {
	mapper := NewMapper()
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC)

	dto := &EventDTO{
		ID:       "evt-1",
		Summary:  "Algorithms Lecture",
		Location: "Hall A",
		Start:    &EventTimeDTO{DateTime: &start},
		End:      &EventTimeDTO{DateTime: &end},
	}

	params, err := mapper.EventParamsFromDTO(dto, "local-1", "student-1", "sem-1")
	require.NoError(t, err)

	assert.Equal(t, "Algorithms Lecture", params.Title)
	assert.Equal(t, "Hall A", params.Location)
	assert.Equal(t, "09:00", params.StartTime.String())
	assert.Equal(t, "10:30", params.EndTime.String())
	require.NotNil(t, params.SpecificDate)
	assert.False(t, params.IsRecurring)

	t.Run("missing start is rejected", func(t *testing.T) {
		_, err := mapper.EventParamsFromDTO(&EventDTO{ID: "evt-2"}, "local-2", "student-1", "sem-1")
		assert.Error(t, err)
	})

	t.Run("missing end defaults to one hour", func(t *testing.T) {
		params, err := mapper.EventParamsFromDTO(&EventDTO{
			ID:      "evt-3",
			Summary: "Office hours",
			Start:   &EventTimeDTO{DateTime: &start},
		}, "local-3", "student-1", "sem-1")
		require.NoError(t, err)
		assert.Equal(t, "10:00", params.EndTime.String())
	})
}

func TestMapper_ExpandRecurrence(t *testing.T) {
	mapper := NewMapper()
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) // Monday

	dto := &EventDTO{
		ID:         "evt-recurring",
		Summary:    "Weekly seminar",
		Start:      &EventTimeDTO{DateTime: &start},
		Recurrence: []string{"RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO;COUNT=5"},
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	occurrences, err := mapper.ExpandRecurrence(dto, from, to)
	require.NoError(t, err)
	require.Len(t, occurrences, 5)

	// Каждая вторая неделя, понедельник.
	assert.Equal(t, start, occurrences[0])
	assert.Equal(t, start.AddDate(0, 0, 14), occurrences[1])
	assert.Equal(t, time.Monday, occurrences[4].Weekday())

	t.Run("no recurrence lines", func(t *testing.T) {
		occ, err := mapper.ExpandRecurrence(&EventDTO{ID: "plain"}, from, to)
		require.NoError(t, err)
		assert.Nil(t, occ)
	})
}

func TestAPIErrorDTO_Reasons(t *testing.T) {
	jsonData := `{
    "error": {
        "code": 403,
        "message": "Rate Limit Exceeded",
        "errors": [{"reason": "rateLimitExceeded", "message": "Rate Limit Exceeded"}]
    }
}`

	var envelope apiErrorEnvelope
	require.NoError(t, json.Unmarshal([]byte(jsonData), &envelope))
	require.NotNil(t, envelope.Error)

	assert.Equal(t, 403, envelope.Error.Code)
	assert.True(t, envelope.Error.HasReason("rateLimitExceeded"))
	assert.False(t, envelope.Error.HasReason("quotaExceeded"))
	assert.Contains(t, envelope.Error.Error(), "rateLimitExceeded")
}

func TestChannelDTO_ExpiresAt(t *testing.T) {
	ch := &ChannelDTO{ID: "ch-1", ResourceID: "res-1", Expiration: "1767225600000"}
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), ch.ExpiresAt())

	assert.True(t, (&ChannelDTO{}).ExpiresAt().IsZero())
}
