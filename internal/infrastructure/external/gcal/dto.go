// Package gcal implements the remote calendar API client.
// This package handles all communication with the Google Calendar API:
// incremental change pulls, outbound event pushes, and webhook channels.
package gcal

import (
	"strconv"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// EventTimeDTO represents a point in time the way the Calendar API encodes it:
// either a dateTime with offset, or an all-day date.
type EventTimeDTO struct {
	// DateTime is the RFC3339 timestamp for timed events.
	DateTime *time.Time `json:"dateTime,omitempty"`

	// Date is the YYYY-MM-DD date for all-day events.
	Date string `json:"date,omitempty"`

	// TimeZone is the IANA timezone name.
	TimeZone string `json:"timeZone,omitempty"`
}

// Resolve returns the concrete time this DTO encodes, or nil when neither
// representation is set.
func (t *EventTimeDTO) Resolve() *time.Time {
	if t == nil {
		return nil
	}
	if t.DateTime != nil {
		return t.DateTime
	}
	if t.Date != "" {
		loc := time.UTC
		if t.TimeZone != "" {
			if parsed, err := time.LoadLocation(t.TimeZone); err == nil {
				loc = parsed
			}
		}
		if d, err := time.ParseInLocation("2006-01-02", t.Date, loc); err == nil {
			return &d
		}
	}
	return nil
}

// EventDTO represents a calendar event as returned by the API.
// This is the external representation that needs to be mapped to our domain model.
type EventDTO struct {
	// ID is the event identifier within the calendar.
	ID string `json:"id"`

	// Status is confirmed, tentative, or cancelled. Cancelled entries in a
	// change feed are deletion tombstones.
	Status string `json:"status,omitempty"`

	// Etag is the resource version tag.
	Etag string `json:"etag,omitempty"`

	// Summary is the event title.
	Summary string `json:"summary,omitempty"`

	// Description is the event description.
	Description string `json:"description,omitempty"`

	// Location is the event location.
	Location string `json:"location,omitempty"`

	// Start is the event start time.
	Start *EventTimeDTO `json:"start,omitempty"`

	// End is the event end time.
	End *EventTimeDTO `json:"end,omitempty"`

	// Recurrence carries RFC 5545 RRULE/RDATE/EXDATE lines for recurring events.
	Recurrence []string `json:"recurrence,omitempty"`

	// Updated is the last modification time of this copy.
	Updated time.Time `json:"updated,omitempty"`
}

// IsCancelled returns true for deletion tombstones.
func (e *EventDTO) IsCancelled() bool {
	return e.Status == "cancelled"
}

// EventsPageDTO is one page of an events list or change feed response.
type EventsPageDTO struct {
	Kind          string     `json:"kind,omitempty"`
	Etag          string     `json:"etag,omitempty"`
	Items         []EventDTO `json:"items"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
	NextSyncToken string     `json:"nextSyncToken,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE CHANGE - tagged variant
// Every feed entry is classified into an explicit kind before the engine
// sees it. Entries the classifier does not recognize become ChangeUnknown
// instead of being silently skipped or misapplied.
// ══════════════════════════════════════════════════════════════════════════════

// ChangeKind discriminates remote change variants.
type ChangeKind string

const (
	// ChangeUpsert - create or update of a remote event.
	ChangeUpsert ChangeKind = "upsert"
	// ChangeDelete - deletion tombstone.
	ChangeDelete ChangeKind = "delete"
	// ChangeUnknown - unrecognized payload, surfaced but never applied.
	ChangeUnknown ChangeKind = "unknown"
)

// RemoteChangeDTO is one classified entry of a change feed.
type RemoteChangeDTO struct {
	// Kind is the change discriminator.
	Kind ChangeKind

	// EventID is the remote event identifier.
	EventID string

	// Event carries the payload for upserts; nil for deletes and unknowns.
	Event *EventDTO
}

// PullResultDTO is the outcome of a full feed pull across all pages.
type PullResultDTO struct {
	// Changes are the classified feed entries in feed order.
	Changes []RemoteChangeDTO

	// NextSyncToken is the cursor to persist after the cycle completes.
	NextSyncToken string

	// APICalls is the number of HTTP requests the pull consumed.
	APICalls int
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK CHANNEL DTOs
// ══════════════════════════════════════════════════════════════════════════════

// WatchRequestDTO registers a webhook notification channel.
type WatchRequestDTO struct {
	// ID is our channel identifier (UUID).
	ID string `json:"id"`

	// Type is always "web_hook".
	Type string `json:"type"`

	// Address is the callback URL notifications are POSTed to.
	Address string `json:"address"`

	// Token is an opaque value echoed back on each notification.
	Token string `json:"token,omitempty"`

	// Params carries channel options (ttl in seconds).
	Params map[string]string `json:"params,omitempty"`
}

// ChannelDTO is the API's description of a registered channel.
type ChannelDTO struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`

	// Expiration is a millisecond epoch, encoded as a string.
	Expiration string `json:"expiration,omitempty"`
}

// ExpiresAt decodes the channel expiration; zero time when absent.
func (c *ChannelDTO) ExpiresAt() time.Time {
	if c.Expiration == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(c.Expiration, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents an error response from the API.
// The Calendar API wraps errors as {"error": {"code": ..., "message": ...}}.
type APIErrorDTO struct {
	// Code is the HTTP status code echoed in the body.
	Code int `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Errors carries per-item reasons (e.g. "rateLimitExceeded").
	Errors []APIErrorItemDTO `json:"errors,omitempty"`
}

// APIErrorItemDTO is one entry of an error detail list.
type APIErrorItemDTO struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if len(e.Errors) > 0 && e.Errors[0].Reason != "" {
		return e.Errors[0].Reason + ": " + e.Message
	}
	return e.Message
}

// HasReason reports whether any error item carries the given reason.
func (e *APIErrorDTO) HasReason(reason string) bool {
	for _, item := range e.Errors {
		if item.Reason == reason {
			return true
		}
	}
	return false
}

// apiErrorEnvelope is the wire wrapper around APIErrorDTO.
type apiErrorEnvelope struct {
	Error *APIErrorDTO `json:"error"`
}
