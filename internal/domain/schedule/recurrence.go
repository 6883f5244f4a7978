package schedule

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// RECURRENCE RESOLVER
// Чистая функция: проходит ли событие E в календарную дату D.
// Порядок правил фиксирован:
//  1. день недели (если задан) должен совпадать;
//  2. неактивные события не проходят никогда;
//  3. конкретная дата-переопределение имеет приоритет над всем остальным;
//  4. неповторяющиеся события без совпавшей даты не проходят;
//  5. ротация проверяется по номеру учебной недели семестра.
// ══════════════════════════════════════════════════════════════════════════════

// FallbackWeeksBeforeDate - эвристика на случай отсутствия активного семестра:
// считаем, что семестр начался за 10 недель до запрошенной даты.
// Число унаследовано от исходного поведения продукта; результат с
// Assumed=true позволяет вызывающему коду показать это пользователю.
const FallbackWeeksBeforeDate = 10

// WeekResolution - результат вычисления номера учебной недели.
type WeekResolution struct {
	// Week - номер учебной недели для даты.
	Week WeekNumber

	// Assumed - true, если активный семестр не найден и номер недели
	// получен эвристикой, а не от реальной даты начала семестра.
	Assumed bool
}

// ResolveWeek вычисляет номер учебной недели для даты.
// current_week = weeks_since_start + weekStart; при отсутствии семестра
// применяется эвристика FallbackWeeksBeforeDate.
func ResolveWeek(sem *Semester, weekStart int, date time.Time) WeekResolution {
	if weekStart <= 0 {
		weekStart = 1
	}
	if sem == nil || sem.StartDate.IsZero() {
		return WeekResolution{
			Week:    WeekNumber(FallbackWeeksBeforeDate + weekStart),
			Assumed: true,
		}
	}
	return WeekResolution{
		Week: WeekNumber(sem.WeeksSinceStart(date) + weekStart),
	}
}

// OccursOn возвращает true, если событие проходит в указанную дату.
// sem может быть nil - тогда номер недели вычисляется эвристикой.
func OccursOn(e *ScheduledEvent, sem *Semester, date time.Time) bool {
	if e == nil {
		return false
	}

	if e.DayOfWeek != nil && date.Weekday() != e.DayOfWeek.Weekday() {
		return false
	}

	if !e.IsActive {
		return false
	}

	// Дата-переопределение решает всё, включая IsRecurring.
	if e.SpecificDate != nil {
		return SameDate(*e.SpecificDate, date)
	}

	if !e.IsRecurring {
		return false
	}

	week := ResolveWeek(sem, e.SemesterWeekStart, date).Week
	return rotationMatches(e, week)
}

// rotationMatches проверяет попадание недели в правило ротации.
func rotationMatches(e *ScheduledEvent, week WeekNumber) bool {
	switch e.RotationType {
	case RotationNone, RotationWeekly:
		return true
	case RotationBiweekly, RotationOddWeeks:
		return week.IsOdd()
	case RotationEvenWeeks:
		return week.IsEven()
	case RotationCustom:
		for _, w := range e.RotationWeeks {
			if WeekNumber(w) == week {
				return true
			}
		}
		return false
	default:
		// Неизвестная ротация трактуется разрешающе: лучше показать
		// занятие лишний раз, чем скрыть настоящее.
		return true
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MATERIALIZATION
// ══════════════════════════════════════════════════════════════════════════════

// Occurrence - конкретное вхождение события в календарную дату.
type Occurrence struct {
	EventID string
	Date    time.Time
	Start   time.Time
	End     time.Time
	Assumed bool
}

// Occurrences материализует событие в список вхождений на отрезке [from, to]
// включительно. Границы обрезаются до дат без времени суток.
func Occurrences(e *ScheduledEvent, sem *Semester, from, to time.Time) []Occurrence {
	if e == nil || to.Before(from) {
		return nil
	}

	var result []Occurrence
	for d := DateOnly(from); !d.After(DateOnly(to)); d = d.AddDate(0, 0, 1) {
		if !OccursOn(e, sem, d) {
			continue
		}
		assumed := false
		if e.SpecificDate == nil && e.IsRecurring {
			assumed = ResolveWeek(sem, e.SemesterWeekStart, d).Assumed
		}
		result = append(result, Occurrence{
			EventID: e.ID,
			Date:    d,
			Start:   e.StartTime.On(d),
			End:     e.EndTime.On(d),
			Assumed: assumed,
		})
	}
	return result
}
