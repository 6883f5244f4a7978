package query

import (
	"context"
	"errors"
	"time"

	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// PENDING CONFLICTS QUERY
// Список конфликтов, ожидающих ручного решения пользователя, вместе с обеими
// версиями данных - достаточно для отрисовки экрана выбора.
// ══════════════════════════════════════════════════════════════════════════════

// GetPendingConflictsQuery содержит параметры запроса.
type GetPendingConflictsQuery struct {
	// OwnerID - владелец расписания.
	OwnerID string
}

// Validate проверяет корректность параметров запроса.
func (q *GetPendingConflictsQuery) Validate() error {
	if q.OwnerID == "" {
		return errors.New("owner_id must be provided")
	}
	return nil
}

// ConflictDTO - один конфликт с обеими версиями.
type ConflictDTO struct {
	// ConflictID - идентификатор конфликта.
	ConflictID string `json:"conflict_id"`

	// EntityID - затронутая сущность.
	EntityID string `json:"entity_id"`

	// Type - категория расхождения.
	Type string `json:"type"`

	// Local - локальная версия отслеживаемых полей.
	Local syncdomain.Snapshot `json:"local"`

	// Remote - удалённая версия отслеживаемых полей.
	Remote syncdomain.Snapshot `json:"remote"`

	// DetectedAt - когда конфликт был обнаружен.
	DetectedAt time.Time `json:"detected_at"`
}

// GetPendingConflictsResult содержит результат запроса.
type GetPendingConflictsResult struct {
	// Conflicts - конфликты, старые первыми.
	Conflicts []ConflictDTO `json:"conflicts"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetPendingConflictsHandler обрабатывает запросы списка конфликтов.
type GetPendingConflictsHandler struct {
	conflictRepo syncdomain.ConflictRepository
}

// NewGetPendingConflictsHandler создаёт новый обработчик.
func NewGetPendingConflictsHandler(conflictRepo syncdomain.ConflictRepository) *GetPendingConflictsHandler {
	return &GetPendingConflictsHandler{conflictRepo: conflictRepo}
}

// Handle выполняет запрос списка конфликтов.
func (h *GetPendingConflictsHandler) Handle(ctx context.Context, query GetPendingConflictsQuery) (*GetPendingConflictsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	conflicts, err := h.conflictRepo.GetPending(ctx, query.OwnerID)
	if err != nil {
		return nil, err
	}

	dtos := make([]ConflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		dtos = append(dtos, ConflictDTO{
			ConflictID: c.ID,
			EntityID:   c.EntityID,
			Type:       string(c.Type),
			Local:      c.LocalSnapshot,
			Remote:     c.RemoteSnapshot,
			DetectedAt: c.CreatedAt,
		})
	}

	return &GetPendingConflictsResult{
		Conflicts:   dtos,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
