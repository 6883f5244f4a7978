// Package schedule содержит доменную модель учебного расписания Aqademiq.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// DayOfWeek представляет день недели (0 = воскресенье, 6 = суббота).
// Соответствует time.Weekday для прямого сравнения с датами календаря.
type DayOfWeek int

// IsValid проверяет, что день недели в диапазоне 0-6.
func (d DayOfWeek) IsValid() bool {
	return d >= 0 && d <= 6
}

// Weekday возвращает значение как time.Weekday.
func (d DayOfWeek) Weekday() time.Weekday {
	return time.Weekday(d)
}

// TimeOfDay представляет время суток в минутах от полуночи (0-1439).
type TimeOfDay int

// IsValid проверяет, что время в пределах суток.
func (t TimeOfDay) IsValid() bool {
	return t >= 0 && t < 24*60
}

// Hour возвращает час (0-23).
func (t TimeOfDay) Hour() int {
	return int(t) / 60
}

// Minute возвращает минуту (0-59).
func (t TimeOfDay) Minute() int {
	return int(t) % 60
}

// String возвращает время в формате "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On привязывает время суток к конкретной дате в её локации.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
}

// ParseTimeOfDay разбирает строку формата "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	t := TimeOfDay(h*60 + m)
	if !t.IsValid() {
		return 0, ErrInvalidTimeOfDay
	}
	return t, nil
}

// WeekNumber представляет номер учебной недели семестра (начиная с 1).
type WeekNumber int

// IsOdd возвращает true для нечётной недели.
func (w WeekNumber) IsOdd() bool {
	return int(w)%2 != 0
}

// IsEven возвращает true для чётной недели.
func (w WeekNumber) IsEven() bool {
	return int(w)%2 == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// RotationType определяет, в какие недели семестра проходит повторяющееся занятие.
type RotationType string

const (
	// RotationNone - без ротации, занятие каждую подходящую неделю.
	RotationNone RotationType = "none"
	// RotationWeekly - каждую неделю.
	RotationWeekly RotationType = "weekly"
	// RotationBiweekly - раз в две недели (по нечётным неделям семестра).
	RotationBiweekly RotationType = "biweekly"
	// RotationOddWeeks - только по нечётным неделям.
	RotationOddWeeks RotationType = "odd_weeks"
	// RotationEvenWeeks - только по чётным неделям.
	RotationEvenWeeks RotationType = "even_weeks"
	// RotationCustom - по явному списку недель (RotationWeeks).
	RotationCustom RotationType = "custom"
)

// IsValid проверяет, что тип ротации известен.
func (r RotationType) IsValid() bool {
	switch r {
	case RotationNone, RotationWeekly, RotationBiweekly, RotationOddWeeks, RotationEvenWeeks, RotationCustom:
		return true
	default:
		return false
	}
}

// RequiresWeekList возвращает true, если ротация требует явного списка недель.
func (r RotationType) RequiresWeekList() bool {
	return r == RotationCustom
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SCHEDULED EVENT
// ══════════════════════════════════════════════════════════════════════════════

// ScheduledEvent - центральная сущность расписания: занятие, дедлайн или экзамен.
type ScheduledEvent struct {
	// ID - внутренний уникальный идентификатор (UUID в строковом формате).
	ID string

	// OwnerID - идентификатор студента-владельца.
	OwnerID string

	// CourseID - курс, к которому относится событие (опционально).
	CourseID string

	// Title - название события.
	Title string

	// Description - описание (опционально).
	Description string

	// Location - аудитория или место проведения (опционально).
	Location string

	// DayOfWeek - день недели для повторяющихся событий; nil, если не задан.
	DayOfWeek *DayOfWeek

	// StartTime - время начала.
	StartTime TimeOfDay

	// EndTime - время окончания.
	EndTime TimeOfDay

	// SpecificDate - конкретная дата-переопределение; имеет приоритет
	// над всеми правилами повторения, включая IsRecurring.
	SpecificDate *time.Time

	// IsRecurring - повторяется ли событие по неделям.
	IsRecurring bool

	// IsActive - false означает мягкое удаление.
	IsActive bool

	// RotationType - правило ротации по неделям семестра.
	RotationType RotationType

	// RotationWeeks - явный список недель; обязателен при RotationCustom.
	RotationWeeks []int

	// SemesterWeekStart - с какой учебной недели начинается отсчёт (по умолчанию 1).
	SemesterWeekStart int

	// SemesterID - семестр, в рамках которого считаются недели.
	SemesterID string

	// ExternalID - идентификатор зеркальной копии во внешнем календаре.
	ExternalID string

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения; участвует в оптимистичном
	// контроле конкурентности и в разрешении конфликтов.
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidTimeOfDay - время суток вне диапазона.
	ErrInvalidTimeOfDay = errors.New("invalid time of day: must be within 00:00-23:59")

	// ErrInvalidDayOfWeek - день недели вне диапазона 0-6.
	ErrInvalidDayOfWeek = errors.New("invalid day of week: must be 0-6")

	// ErrInvalidTimeRange - окончание раньше начала.
	ErrInvalidTimeRange = errors.New("invalid time range: end time must be after start time")

	// ErrRotationWeeksRequired - для custom-ротации нужен список недель.
	ErrRotationWeeksRequired = errors.New("rotation weeks are required for custom rotation")

	// ErrRotationWeeksInvalid - недели ротации должны быть положительными.
	ErrRotationWeeksInvalid = errors.New("rotation weeks must be positive")

	// ErrEventNotFound - событие не найдено.
	ErrEventNotFound = errors.New("scheduled event not found")

	// ErrSemesterNotFound - семестр не найден.
	ErrSemesterNotFound = errors.New("semester not found")

	// ErrOwnerRequired - событие должно принадлежать студенту.
	ErrOwnerRequired = errors.New("owner id is required")

	// ErrTitleRequired - событие должно иметь название.
	ErrTitleRequired = errors.New("title is required")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewEventParams содержит параметры для создания события расписания.
type NewEventParams struct {
	ID                string
	OwnerID           string
	CourseID          string
	Title             string
	Description       string
	Location          string
	DayOfWeek         *DayOfWeek
	StartTime         TimeOfDay
	EndTime           TimeOfDay
	SpecificDate      *time.Time
	IsRecurring       bool
	RotationType      RotationType
	RotationWeeks     []int
	SemesterWeekStart int
	SemesterID        string
}

// NewScheduledEvent создаёт новое событие с валидацией всех полей.
func NewScheduledEvent(params NewEventParams) (*ScheduledEvent, error) {
	if params.ID == "" {
		return nil, errors.New("event id is required")
	}
	if params.OwnerID == "" {
		return nil, ErrOwnerRequired
	}
	if params.Title == "" {
		return nil, ErrTitleRequired
	}
	if params.DayOfWeek != nil && !params.DayOfWeek.IsValid() {
		return nil, ErrInvalidDayOfWeek
	}
	if !params.StartTime.IsValid() || !params.EndTime.IsValid() {
		return nil, ErrInvalidTimeOfDay
	}
	if params.EndTime <= params.StartTime {
		return nil, ErrInvalidTimeRange
	}

	rotation := params.RotationType
	if rotation == "" {
		rotation = RotationNone
	}
	if rotation.RequiresWeekList() {
		if len(params.RotationWeeks) == 0 {
			return nil, ErrRotationWeeksRequired
		}
		for _, w := range params.RotationWeeks {
			if w <= 0 {
				return nil, ErrRotationWeeksInvalid
			}
		}
	}

	weekStart := params.SemesterWeekStart
	if weekStart <= 0 {
		weekStart = 1
	}

	var specificDate *time.Time
	if params.SpecificDate != nil {
		d := DateOnly(*params.SpecificDate)
		specificDate = &d
	}

	now := time.Now().UTC()
	return &ScheduledEvent{
		ID:                params.ID,
		OwnerID:           params.OwnerID,
		CourseID:          params.CourseID,
		Title:             params.Title,
		Description:       params.Description,
		Location:          params.Location,
		DayOfWeek:         params.DayOfWeek,
		StartTime:         params.StartTime,
		EndTime:           params.EndTime,
		SpecificDate:      specificDate,
		IsRecurring:       params.IsRecurring,
		IsActive:          true,
		RotationType:      rotation,
		RotationWeeks:     append([]int(nil), params.RotationWeeks...),
		SemesterWeekStart: weekStart,
		SemesterID:        params.SemesterID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

// Deactivate выполняет мягкое удаление события.
func (e *ScheduledEvent) Deactivate() {
	e.IsActive = false
	e.Touch()
}

// Reactivate возвращает событие в активное состояние.
func (e *ScheduledEvent) Reactivate() {
	e.IsActive = true
	e.Touch()
}

// Touch обновляет метку времени последнего изменения.
func (e *ScheduledEvent) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// MoveTo переносит событие на конкретную дату (drag-move в календаре).
// Дата-переопределение имеет приоритет над правилами повторения.
func (e *ScheduledEvent) MoveTo(date time.Time) {
	d := DateOnly(date)
	e.SpecificDate = &d
	e.Touch()
}

// Reschedule изменяет время проведения события.
func (e *ScheduledEvent) Reschedule(start, end TimeOfDay) error {
	if !start.IsValid() || !end.IsValid() {
		return ErrInvalidTimeOfDay
	}
	if end <= start {
		return ErrInvalidTimeRange
	}
	e.StartTime = start
	e.EndTime = end
	e.Touch()
	return nil
}

// Duration возвращает продолжительность события.
func (e *ScheduledEvent) Duration() time.Duration {
	return time.Duration(e.EndTime-e.StartTime) * time.Minute
}

// HasRemoteCopy возвращает true, если событие зеркалируется во внешний календарь.
func (e *ScheduledEvent) HasRemoteCopy() bool {
	return e.ExternalID != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// DateOnly обнуляет компонент времени, оставляя только дату.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDate сравнивает две даты без учёта времени суток.
func SameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
