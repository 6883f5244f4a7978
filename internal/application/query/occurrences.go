package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET OCCURRENCES QUERY
// Материализует расписание владельца в конкретные вхождения на отрезке дат:
// повторяющиеся события разворачиваются через резолвер повторений с учётом
// ротации и номера учебной недели.
// ══════════════════════════════════════════════════════════════════════════════

// GetOccurrencesQuery содержит параметры запроса вхождений.
type GetOccurrencesQuery struct {
	// OwnerID - владелец расписания.
	OwnerID string

	// From - начало отрезка (включительно).
	From time.Time

	// To - конец отрезка (включительно).
	To time.Time
}

// MaxOccurrenceRangeDays ограничивает отрезок материализации.
const MaxOccurrenceRangeDays = 366

// Validate проверяет корректность параметров запроса.
func (q *GetOccurrencesQuery) Validate() error {
	if q.OwnerID == "" {
		return errors.New("owner_id must be provided")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return errors.New("both from and to must be provided")
	}
	if q.To.Before(q.From) {
		return errors.New("to must not precede from")
	}
	if q.To.Sub(q.From) > MaxOccurrenceRangeDays*24*time.Hour {
		return errors.New("range too wide")
	}
	return nil
}

// OccurrenceDTO - одно вхождение события в календарную дату.
type OccurrenceDTO struct {
	// EventID - внутренний ID события.
	EventID string `json:"event_id"`

	// Title - название события.
	Title string `json:"title"`

	// Location - место проведения.
	Location string `json:"location,omitempty"`

	// Description - описание.
	Description string `json:"description,omitempty"`

	// Date - календарная дата вхождения.
	Date time.Time `json:"date"`

	// Start - момент начала.
	Start time.Time `json:"start"`

	// End - момент окончания.
	End time.Time `json:"end"`

	// Assumed - true, если номер учебной недели получен эвристикой,
	// а не от даты начала активного семестра.
	Assumed bool `json:"assumed,omitempty"`
}

// GetOccurrencesResult содержит результат материализации.
type GetOccurrencesResult struct {
	// Occurrences - вхождения, отсортированные по времени начала.
	Occurrences []OccurrenceDTO `json:"occurrences"`

	// From, To - фактические границы отрезка.
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// WeekNumbersAssumed - true, если хотя бы одно вхождение посчитано
	// без активного семестра.
	WeekNumbersAssumed bool `json:"week_numbers_assumed,omitempty"`
}

// GetOccurrencesHandler обрабатывает запросы материализации расписания.
type GetOccurrencesHandler struct {
	eventRepo    schedule.Repository
	semesterRepo schedule.SemesterRepository
}

// NewGetOccurrencesHandler создаёт новый обработчик.
func NewGetOccurrencesHandler(eventRepo schedule.Repository, semesterRepo schedule.SemesterRepository) *GetOccurrencesHandler {
	return &GetOccurrencesHandler{
		eventRepo:    eventRepo,
		semesterRepo: semesterRepo,
	}
}

// Handle выполняет запрос материализации.
func (h *GetOccurrencesHandler) Handle(ctx context.Context, query GetOccurrencesQuery) (*GetOccurrencesResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	occurrences, assumed, err := h.materialize(ctx, query.OwnerID, query.From, query.To)
	if err != nil {
		return nil, err
	}

	return &GetOccurrencesResult{
		Occurrences:        occurrences,
		From:               schedule.DateOnly(query.From),
		To:                 schedule.DateOnly(query.To),
		WeekNumbersAssumed: assumed,
	}, nil
}

// OccursOn отвечает, проходит ли событие в указанную дату.
// Неизвестный ID события - это false, а не ошибка.
func (h *GetOccurrencesHandler) OccursOn(ctx context.Context, eventID string, date time.Time) (bool, error) {
	event, err := h.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	sem := h.activeSemester(ctx, event.OwnerID)
	return schedule.OccursOn(event, sem, date), nil
}

// materialize разворачивает все активные события владельца на отрезке.
func (h *GetOccurrencesHandler) materialize(ctx context.Context, ownerID string, from, to time.Time) ([]OccurrenceDTO, bool, error) {
	events, err := h.eventRepo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, false, err
	}

	sem := h.activeSemester(ctx, ownerID)

	var result []OccurrenceDTO
	anyAssumed := false
	for _, e := range events {
		for _, occ := range schedule.Occurrences(e, sem, from, to) {
			if occ.Assumed {
				anyAssumed = true
			}
			result = append(result, OccurrenceDTO{
				EventID:     e.ID,
				Title:       e.Title,
				Location:    e.Location,
				Description: e.Description,
				Date:        occ.Date,
				Start:       occ.Start,
				End:         occ.End,
				Assumed:     occ.Assumed,
			})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		return result[i].EventID < result[j].EventID
	})
	return result, anyAssumed, nil
}

// activeSemester возвращает активный семестр владельца или nil.
func (h *GetOccurrencesHandler) activeSemester(ctx context.Context, ownerID string) *schedule.Semester {
	sem, err := h.semesterRepo.GetActive(ctx, ownerID)
	if err != nil {
		return nil
	}
	return sem
}
