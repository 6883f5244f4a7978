// Package gcal implements the remote calendar API client.
package gcal

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper handles transformation between Calendar API DTOs and domain types.
// This follows the Anti-Corruption Layer pattern from DDD, protecting our
// domain from external API changes.
type Mapper struct {
	// recurrenceHorizon bounds RRULE expansion; an unbounded RRULE would
	// otherwise materialize forever.
	recurrenceHorizon time.Duration
}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{
		recurrenceHorizon: 180 * 24 * time.Hour,
	}
}

// ErrNilDTO is returned when a nil DTO is passed to a mapping function.
var ErrNilDTO = errors.New("nil DTO")

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Classify turns a raw feed entry into a tagged RemoteChangeDTO.
// Cancelled entries become deletes, well-formed entries become upserts,
// everything else becomes an explicit unknown variant the engine reports
// instead of guessing.
func (m *Mapper) Classify(dto EventDTO) RemoteChangeDTO {
	if dto.ID == "" {
		return RemoteChangeDTO{Kind: ChangeUnknown}
	}

	if dto.IsCancelled() {
		return RemoteChangeDTO{Kind: ChangeDelete, EventID: dto.ID}
	}

	switch dto.Status {
	case "", "confirmed", "tentative":
		event := dto
		return RemoteChangeDTO{Kind: ChangeUpsert, EventID: dto.ID, Event: &event}
	default:
		return RemoteChangeDTO{Kind: ChangeUnknown, EventID: dto.ID}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotFromDTO extracts the tracked fields of a remote event for conflict
// detection. Absent fields stay nil so one-sided values read as enrichment,
// not conflict.
func (m *Mapper) SnapshotFromDTO(dto *EventDTO) (syncdomain.Snapshot, error) {
	if dto == nil {
		return syncdomain.Snapshot{}, ErrNilDTO
	}

	snap := syncdomain.Snapshot{UpdatedAt: dto.Updated}
	if dto.Summary != "" {
		snap.Title = syncdomain.StringPtr(dto.Summary)
	}
	if dto.Description != "" {
		snap.Description = syncdomain.StringPtr(dto.Description)
	}
	if dto.Location != "" {
		snap.Location = syncdomain.StringPtr(dto.Location)
	}
	if start := dto.Start.Resolve(); start != nil {
		snap.Start = start
	}
	if end := dto.End.Resolve(); end != nil {
		snap.End = end
	}
	return snap, nil
}

// SnapshotFromEvent extracts the tracked fields of a local event, anchored to
// the given occurrence date (a schedule row stores time-of-day, not instants).
func (m *Mapper) SnapshotFromEvent(e *schedule.ScheduledEvent, date time.Time) syncdomain.Snapshot {
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
	snap.Start = syncdomain.TimePtr(e.StartTime.On(date))
	snap.End = syncdomain.TimePtr(e.EndTime.On(date))
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// EventParamsFromDTO builds creation parameters for a local event mirroring
// a remote upsert. Remote events arrive with concrete instants, so they map
// to specific-date events; recurring remote events go through
// ExpandRecurrence first.
func (m *Mapper) EventParamsFromDTO(dto *EventDTO, id, ownerID, semesterID string) (schedule.NewEventParams, error) {
	if dto == nil {
		return schedule.NewEventParams{}, ErrNilDTO
	}

	start := dto.Start.Resolve()
	end := dto.End.Resolve()
	if start == nil {
		return schedule.NewEventParams{}, fmt.Errorf("event %s: missing start time", dto.ID)
	}
	if end == nil {
		// All-day tombstoneless events may omit end; default to one hour.
		defaulted := start.Add(time.Hour)
		end = &defaulted
	}

	title := dto.Summary
	if title == "" {
		title = "(без названия)"
	}

	date := schedule.DateOnly(*start)
	return schedule.NewEventParams{
		ID:           id,
		OwnerID:      ownerID,
		Title:        title,
		Description:  dto.Description,
		Location:     dto.Location,
		StartTime:    schedule.TimeOfDay(start.Hour()*60 + start.Minute()),
		EndTime:      schedule.TimeOfDay(end.Hour()*60 + end.Minute()),
		SpecificDate: &date,
		IsRecurring:  false,
		SemesterID:   semesterID,
	}, nil
}

// DTOFromEvent builds the outbound representation of a local event for a push.
// Specific-date events push as single instances; recurring events push with
// an RRULE derived from the rotation.
func (m *Mapper) DTOFromEvent(e *schedule.ScheduledEvent, sem *schedule.Semester) (*EventDTO, error) {
	if e == nil {
		return nil, ErrNilDTO
	}

	dto := &EventDTO{
		ID:          e.ExternalID,
		Status:      "confirmed",
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		Updated:     e.UpdatedAt,
	}

	anchor, err := m.anchorDate(e, sem)
	if err != nil {
		return nil, err
	}

	start := e.StartTime.On(anchor)
	end := e.EndTime.On(anchor)
	dto.Start = &EventTimeDTO{DateTime: &start}
	dto.End = &EventTimeDTO{DateTime: &end}

	if e.IsRecurring && e.SpecificDate == nil {
		until := time.Time{}
		if sem != nil {
			until = sem.EndDate
		}
		dto.Recurrence = []string{buildRRule(e.RotationType, anchor.Weekday(), until)}
	}

	return dto, nil
}

// anchorDate picks the first concrete date of the event: the specific date
// when set, otherwise the first matching weekday of the semester.
func (m *Mapper) anchorDate(e *schedule.ScheduledEvent, sem *schedule.Semester) (time.Time, error) {
	if e.SpecificDate != nil {
		return *e.SpecificDate, nil
	}
	if e.DayOfWeek == nil {
		return time.Time{}, fmt.Errorf("event %s: recurring event without day of week", e.ID)
	}

	base := time.Now().UTC()
	if sem != nil {
		base = sem.StartDate
	}
	base = schedule.DateOnly(base)
	for base.Weekday() != e.DayOfWeek.Weekday() {
		base = base.AddDate(0, 0, 1)
	}
	return base, nil
}

// buildRRule renders a weekly RRULE for a rotation. Custom week lists cannot
// be expressed as a single RRULE; they push as weekly and the local resolver
// stays the source of truth for which weeks actually occur.
func buildRRule(rotation schedule.RotationType, day time.Weekday, until time.Time) string {
	interval := 1
	switch rotation {
	case schedule.RotationBiweekly, schedule.RotationOddWeeks, schedule.RotationEvenWeeks:
		interval = 2
	}

	byDay := [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}[day]
	rule := fmt.Sprintf("RRULE:FREQ=WEEKLY;INTERVAL=%d;BYDAY=%s", interval, byDay)
	if !until.IsZero() {
		rule += ";UNTIL=" + until.UTC().Format("20060102T150405Z")
	}
	return rule
}

// ══════════════════════════════════════════════════════════════════════════════
// RECURRENCE EXPANSION
// ══════════════════════════════════════════════════════════════════════════════

// ExpandRecurrence expands a remote recurring event into concrete occurrence
// instants over [from, to], bounded by the mapper's horizon.
func (m *Mapper) ExpandRecurrence(dto *EventDTO, from, to time.Time) ([]time.Time, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	if len(dto.Recurrence) == 0 {
		return nil, nil
	}

	start := dto.Start.Resolve()
	if start == nil {
		return nil, fmt.Errorf("event %s: recurrence without start time", dto.ID)
	}

	set, err := rrule.StrSliceToRRuleSet(dto.Recurrence)
	if err != nil {
		return nil, fmt.Errorf("event %s: parse recurrence: %w", dto.ID, err)
	}
	set.DTStart(*start)

	horizon := from.Add(m.recurrenceHorizon)
	if to.After(horizon) {
		to = horizon
	}

	return set.Between(from, to, true), nil
}
