// Package service adapts infrastructure clients to the interfaces the
// application layer defines. The application never imports infrastructure
// directly; these adapters close the gap.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/external/gcal"
)

// CalendarAdapter adapts the gcal.Client to the command.CalendarClient interface.
type CalendarAdapter struct {
	client *gcal.Client
	mapper *gcal.Mapper
}

// NewCalendarAdapter creates a new CalendarAdapter.
func NewCalendarAdapter(client *gcal.Client) *CalendarAdapter {
	return &CalendarAdapter{
		client: client,
		mapper: client.Mapper(),
	}
}

// PullChanges walks the remote change feed and maps each classified entry
// into the engine's representation.
func (a *CalendarAdapter) PullChanges(ctx context.Context, calendarID, syncToken string) (*command.RemotePull, error) {
	result, err := a.client.PullChanges(ctx, calendarID, syncToken)
	if err != nil {
		if result != nil {
			return &command.RemotePull{APICalls: result.APICalls}, err
		}
		return nil, err
	}

	pull := &command.RemotePull{
		NextToken: result.NextSyncToken,
		APICalls:  result.APICalls,
	}
	for _, dto := range result.Changes {
		pull.Changes = append(pull.Changes, a.mapChange(dto))
	}
	return pull, nil
}

// mapChange converts one classified feed entry. Recurring remote events are
// anchored to their next concrete occurrence so the engine always sees an
// instant, never a rule.
func (a *CalendarAdapter) mapChange(dto gcal.RemoteChangeDTO) command.RemoteChange {
	change := command.RemoteChange{EventID: dto.EventID}

	switch dto.Kind {
	case gcal.ChangeDelete:
		change.Kind = command.RemoteDelete
		return change
	case gcal.ChangeUpsert:
		change.Kind = command.RemoteUpsert
	default:
		change.Kind = command.RemoteUnknown
		return change
	}

	snap, err := a.mapper.SnapshotFromDTO(dto.Event)
	if err != nil {
		change.Kind = command.RemoteUnknown
		return change
	}

	if len(dto.Event.Recurrence) > 0 {
		a.anchorRecurring(dto.Event, &snap)
	}

	change.Snapshot = snap
	return change
}

// anchorRecurring rewrites the snapshot's start/end to the next occurrence of
// a recurring remote event. When expansion fails the original DTSTART stays.
func (a *CalendarAdapter) anchorRecurring(dto *gcal.EventDTO, snap *syncdomain.Snapshot) {
	if snap.Start == nil {
		return
	}
	now := time.Now().UTC()
	occurrences, err := a.mapper.ExpandRecurrence(dto, now, now.AddDate(0, 6, 0))
	if err != nil || len(occurrences) == 0 {
		return
	}

	next := occurrences[0]
	var duration time.Duration
	if snap.End != nil {
		duration = snap.End.Sub(*snap.Start)
	}
	snap.Start = syncdomain.TimePtr(next)
	if duration > 0 {
		snap.End = syncdomain.TimePtr(next.Add(duration))
	}
}

// PushEvent writes one local event to the remote calendar.
func (a *CalendarAdapter) PushEvent(ctx context.Context, calendarID string, opType syncdomain.OperationType, event *schedule.ScheduledEvent, sem *schedule.Semester) (*command.RemoteAck, error) {
	switch opType {
	case syncdomain.OperationCreate:
		dto, err := a.mapper.DTOFromEvent(event, sem)
		if err != nil {
			return nil, err
		}
		dto.ID = ""
		created, err := a.client.InsertEvent(ctx, calendarID, dto)
		if err != nil {
			return nil, err
		}
		return &command.RemoteAck{RemoteID: created.ID, UpdatedAt: created.Updated}, nil

	case syncdomain.OperationUpdate:
		dto, err := a.mapper.DTOFromEvent(event, sem)
		if err != nil {
			return nil, err
		}
		if dto.ID == "" {
			// No remote mirror yet; the update degrades into a create.
			created, err := a.client.InsertEvent(ctx, calendarID, dto)
			if err != nil {
				return nil, err
			}
			return &command.RemoteAck{RemoteID: created.ID, UpdatedAt: created.Updated}, nil
		}
		updated, err := a.client.UpdateEvent(ctx, calendarID, dto)
		if err != nil {
			return nil, err
		}
		return &command.RemoteAck{RemoteID: updated.ID, UpdatedAt: updated.Updated}, nil

	case syncdomain.OperationDelete:
		if !event.HasRemoteCopy() {
			return &command.RemoteAck{}, nil
		}
		if err := a.client.DeleteEvent(ctx, calendarID, event.ExternalID); err != nil {
			return nil, err
		}
		return &command.RemoteAck{RemoteID: event.ExternalID, UpdatedAt: time.Now().UTC()}, nil

	default:
		return nil, fmt.Errorf("calendar adapter: unknown operation type %q", opType)
	}
}
