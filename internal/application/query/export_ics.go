package query

import (
	"context"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ══════════════════════════════════════════════════════════════════════════════
// ICS EXPORT QUERY
// Выгружает материализованное расписание владельца в ленту iCalendar
// (RFC 5545): каждое вхождение становится отдельным VEVENT с детерминированным
// UID, чтобы повторный импорт обновлял, а не дублировал события.
// ══════════════════════════════════════════════════════════════════════════════

// ExportICSQuery содержит параметры выгрузки.
type ExportICSQuery struct {
	// OwnerID - владелец расписания.
	OwnerID string

	// From - начало отрезка (включительно).
	From time.Time

	// To - конец отрезка (включительно).
	To time.Time

	// CalendarName - имя ленты (опционально).
	CalendarName string
}

// ExportICSResult содержит готовую ленту.
type ExportICSResult struct {
	// ICS - сериализованный календарь.
	ICS string `json:"ics"`

	// EventCount - число VEVENT в ленте.
	EventCount int `json:"event_count"`
}

// ExportICSHandler обрабатывает выгрузку расписания в iCalendar.
type ExportICSHandler struct {
	occurrences *GetOccurrencesHandler
	productID   string
}

// NewExportICSHandler создаёт новый обработчик.
func NewExportICSHandler(occurrences *GetOccurrencesHandler) *ExportICSHandler {
	return &ExportICSHandler{
		occurrences: occurrences,
		productID:   "-//aqademiq//schedule-sync//RU",
	}
}

// Handle выполняет выгрузку.
func (h *ExportICSHandler) Handle(ctx context.Context, query ExportICSQuery) (*ExportICSResult, error) {
	occQuery := GetOccurrencesQuery{OwnerID: query.OwnerID, From: query.From, To: query.To}
	materialized, err := h.occurrences.Handle(ctx, occQuery)
	if err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(h.productID)
	if query.CalendarName != "" {
		cal.SetXWRCalName(query.CalendarName)
	}

	now := time.Now().UTC()
	for _, occ := range materialized.Occurrences {
		// UID стабилен для пары (событие, дата) между выгрузками.
		uid := fmt.Sprintf("%s-%s@schedule-sync", occ.EventID, occ.Date.Format("20060102"))

		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(now)
		ev.SetStartAt(occ.Start)
		ev.SetEndAt(occ.End)
		ev.SetSummary(occ.Title)
		if occ.Location != "" {
			ev.SetLocation(occ.Location)
		}
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}
	}

	return &ExportICSResult{
		ICS:        cal.Serialize(),
		EventCount: len(materialized.Occurrences),
	}, nil
}
