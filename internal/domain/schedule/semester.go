package schedule

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEMESTER
// Семестр задаёт точку отсчёта для нумерации учебных недель.
// В каждый момент времени не более одного активного семестра.
// ══════════════════════════════════════════════════════════════════════════════

// Semester представляет учебный семестр.
type Semester struct {
	// ID - внутренний уникальный идентификатор.
	ID string

	// OwnerID - идентификатор студента-владельца.
	OwnerID string

	// Name - название семестра (например, "2026 Fall").
	Name string

	// StartDate - дата начала семестра; от неё считаются номера недель.
	StartDate time.Time

	// EndDate - дата окончания семестра (опционально, нулевое значение = не задана).
	EndDate time.Time

	// IsActive - активный семестр используется при вычислении номера недели.
	IsActive bool

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// ErrInvalidSemesterDates - дата окончания раньше даты начала.
var ErrInvalidSemesterDates = errors.New("semester end date must be after start date")

// NewSemester создаёт семестр с валидацией дат.
func NewSemester(id, ownerID, name string, startDate, endDate time.Time) (*Semester, error) {
	if id == "" {
		return nil, errors.New("semester id is required")
	}
	if ownerID == "" {
		return nil, errors.New("semester owner id is required")
	}
	if startDate.IsZero() {
		return nil, errors.New("semester start date is required")
	}
	if !endDate.IsZero() && !endDate.After(startDate) {
		return nil, ErrInvalidSemesterDates
	}

	now := time.Now().UTC()
	return &Semester{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		StartDate: DateOnly(startDate),
		EndDate:   DateOnly(endDate),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Contains проверяет, попадает ли дата в границы семестра.
// При незаданной дате окончания верхняя граница не проверяется.
func (s *Semester) Contains(date time.Time) bool {
	d := DateOnly(date)
	if d.Before(DateOnly(s.StartDate)) {
		return false
	}
	if !s.EndDate.IsZero() && d.After(DateOnly(s.EndDate)) {
		return false
	}
	return true
}

// WeeksSinceStart возвращает количество полных недель от начала семестра
// до указанной даты. Для дат до начала семестра результат отрицательный.
func (s *Semester) WeeksSinceStart(date time.Time) int {
	days := int(DateOnly(date).Sub(DateOnly(s.StartDate)).Hours() / 24)
	if days >= 0 {
		return days / 7
	}
	// Округление к минус бесконечности, чтобы неделя -1 начиналась
	// ровно за 7 дней до старта.
	return -((-days + 6) / 7)
}
