// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
	"github.com/aqademiq/schedule-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC HEALTH QUERY
// Агрегирует метрики последних циклов синхронизации в наблюдаемую оценку
// здоровья. Оценка считается по каждому циклу: штрафы за ошибки, длительность
// и число обращений к внешнему API; отчёт показывает последний цикл и среднее
// по окну.
// ══════════════════════════════════════════════════════════════════════════════

// GetSyncHealthQuery содержит параметры запроса здоровья синхронизации.
type GetSyncHealthQuery struct {
	// OwnerID - владелец расписания.
	OwnerID string

	// CalendarID - внешний календарь.
	CalendarID string

	// Window - сколько последних циклов учитывать (по умолчанию 10).
	Window int
}

// Validate проверяет корректность параметров запроса.
func (q *GetSyncHealthQuery) Validate() error {
	if q.OwnerID == "" {
		return errors.New("owner_id must be provided")
	}
	if q.CalendarID == "" {
		return errors.New("calendar_id must be provided")
	}
	if q.Window <= 0 {
		q.Window = 10
	}
	if q.Window > 50 {
		q.Window = 50
	}
	return nil
}

// HealthStatus - категория здоровья синхронизации.
type HealthStatus string

const (
	// HealthExcellent - оценка 90 и выше.
	HealthExcellent HealthStatus = "excellent"
	// HealthGood - оценка 75-89.
	HealthGood HealthStatus = "good"
	// HealthFair - оценка 60-74.
	HealthFair HealthStatus = "fair"
	// HealthPoor - оценка ниже 60.
	HealthPoor HealthStatus = "poor"
)

// CycleSample - метрики одного завершённого цикла, как их отдаёт хранилище
// истории. Конкретный адаптер живёт в infrastructure/service.
type CycleSample struct {
	// StartedAt - начало цикла.
	StartedAt time.Time

	// Duration - длительность цикла.
	Duration time.Duration

	// ChangesApplied - применено удалённых изменений.
	ChangesApplied int

	// ChangesPushed - отправлено локальных операций.
	ChangesPushed int

	// APICalls - число обращений к внешнему API.
	APICalls int

	// Conflicts - обнаружено конфликтов, ожидающих пользователя.
	Conflicts int

	// Errors - изолированные ошибки цикла.
	Errors []string

	// Committed - продвинулся ли токен.
	Committed bool

	// FullSync - цикл шёл без токена.
	FullSync bool
}

// CycleHistoryReader читает метрики последних циклов пары.
type CycleHistoryReader interface {
	// RecentCycles возвращает до limit записей, новые первыми.
	RecentCycles(ctx context.Context, ownerID, calendarID string, limit int) ([]CycleSample, error)
}

// SyncHealthDTO - отчёт о здоровье синхронизации пары.
type SyncHealthDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Оценка
	// ─────────────────────────────────────────────────────────────────────────

	// Score - оценка последнего цикла (0-100).
	Score int `json:"score"`

	// Status - категория последней оценки.
	Status HealthStatus `json:"status"`

	// AverageScore - средняя оценка по окну.
	AverageScore float64 `json:"average_score"`

	// ─────────────────────────────────────────────────────────────────────────
	// Последний цикл
	// ─────────────────────────────────────────────────────────────────────────

	// LastSyncAt - начало последнего цикла.
	LastSyncAt time.Time `json:"last_sync_at"`

	// LastSyncRelative - то же время словами ("5 мин назад").
	LastSyncRelative string `json:"last_sync_relative,omitempty"`

	// LastDuration - длительность последнего цикла.
	LastDuration time.Duration `json:"last_duration"`

	// LastCommitted - продвинулся ли токен в последнем цикле.
	LastCommitted bool `json:"last_committed"`

	// ─────────────────────────────────────────────────────────────────────────
	// Агрегаты по окну
	// ─────────────────────────────────────────────────────────────────────────

	// CyclesObserved - сколько циклов попало в окно.
	CyclesObserved int `json:"cycles_observed"`

	// EntitiesSynced - всего применено изменений за окно.
	EntitiesSynced int `json:"entities_synced"`

	// OperationsPushed - всего отправлено операций за окно.
	OperationsPushed int `json:"operations_pushed"`

	// ErrorCount - всего изолированных ошибок за окно.
	ErrorCount int `json:"error_count"`

	// APICalls - всего обращений к внешнему API за окно.
	APICalls int `json:"api_calls"`

	// PendingConflicts - конфликтов, ожидающих решения пользователя, сейчас.
	PendingConflicts int `json:"pending_conflicts"`
}

// GetSyncHealthResult содержит результат запроса здоровья.
type GetSyncHealthResult struct {
	// Health - отчёт по паре.
	Health SyncHealthDTO `json:"health"`

	// GeneratedAt - время генерации отчёта.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetSyncHealthHandler обрабатывает запросы здоровья синхронизации.
type GetSyncHealthHandler struct {
	history      CycleHistoryReader
	conflictRepo syncdomain.ConflictRepository
}

// NewGetSyncHealthHandler создаёт новый обработчик.
func NewGetSyncHealthHandler(history CycleHistoryReader, conflictRepo syncdomain.ConflictRepository) *GetSyncHealthHandler {
	return &GetSyncHealthHandler{
		history:      history,
		conflictRepo: conflictRepo,
	}
}

// Handle выполняет запрос здоровья синхронизации.
func (h *GetSyncHealthHandler) Handle(ctx context.Context, query GetSyncHealthQuery) (*GetSyncHealthResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	cycles, err := h.history.RecentCycles(ctx, query.OwnerID, query.CalendarID, query.Window)
	if err != nil {
		return nil, err
	}

	dto := SyncHealthDTO{CyclesObserved: len(cycles)}

	if len(cycles) == 0 {
		// Ни одного цикла ещё не было: пара здорова по определению.
		dto.Score = 100
		dto.AverageScore = 100
		dto.Status = HealthExcellent
	} else {
		last := cycles[0]
		dto.Score = ScoreCycle(last)
		dto.Status = StatusFor(dto.Score)
		dto.LastSyncAt = last.StartedAt
		dto.LastSyncRelative = timeutil.FormatRelative(last.StartedAt)
		dto.LastDuration = last.Duration
		dto.LastCommitted = last.Committed

		total := 0
		for _, c := range cycles {
			total += ScoreCycle(c)
			dto.EntitiesSynced += c.ChangesApplied
			dto.OperationsPushed += c.ChangesPushed
			dto.ErrorCount += len(c.Errors)
			dto.APICalls += c.APICalls
		}
		dto.AverageScore = float64(total) / float64(len(cycles))
	}

	if h.conflictRepo != nil {
		if pending, err := h.conflictRepo.CountPending(ctx, query.OwnerID); err == nil {
			dto.PendingConflicts = pending
		}
	}

	return &GetSyncHealthResult{
		Health:      dto,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORING
// ══════════════════════════════════════════════════════════════════════════════

// ScoreCycle вычисляет оценку одного цикла: старт со 100, минус 10 за каждую
// ошибку, минус 20 при длительности свыше 30с (иначе 10 при свыше 15с),
// минус 15 при более 20 обращениях к API (иначе 5 при более 10).
func ScoreCycle(c CycleSample) int {
	score := 100

	score -= 10 * len(c.Errors)

	switch {
	case c.Duration > 30*time.Second:
		score -= 20
	case c.Duration > 15*time.Second:
		score -= 10
	}

	switch {
	case c.APICalls > 20:
		score -= 15
	case c.APICalls > 10:
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	return score
}

// StatusFor переводит числовую оценку в категорию.
func StatusFor(score int) HealthStatus {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 75:
		return HealthGood
	case score >= 60:
		return HealthFair
	default:
		return HealthPoor
	}
}
