package sync

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// Отслеживаемый срез сущности для сравнения локальной и удалённой копий.
// Поля-указатели моделируют "значение отсутствует": конфликтом считается
// только расхождение двух НЕпустых значений; одностороннее значение -
// это обогащение, а не конфликт.
// ══════════════════════════════════════════════════════════════════════════════

// Field - имя отслеживаемого поля.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldLocation    Field = "location"
	FieldStart       Field = "start"
	FieldEnd         Field = "end"
)

// Snapshot - срез отслеживаемых полей одной копии сущности.
type Snapshot struct {
	// Title - название события.
	Title *string `json:"title,omitempty"`

	// Description - описание события.
	Description *string `json:"description,omitempty"`

	// Location - место проведения.
	Location *string `json:"location,omitempty"`

	// Start - время начала.
	Start *time.Time `json:"start,omitempty"`

	// End - время окончания.
	End *time.Time `json:"end,omitempty"`

	// UpdatedAt - когда эта копия последний раз менялась; участвует
	// в правилах разрешения конфликтов.
	UpdatedAt time.Time `json:"updated_at"`
}

// StringPtr - вспомогательный конструктор для необязательных строковых полей.
func StringPtr(s string) *string {
	return &s
}

// TimePtr - вспомогательный конструктор для необязательных временных полей.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICT
// ══════════════════════════════════════════════════════════════════════════════

// ConflictType классифицирует расхождение по затронутым полям.
type ConflictType string

const (
	// ConflictTimeModified - расходятся поля времени (start/end).
	ConflictTimeModified ConflictType = "time_modified"
	// ConflictContentModified - расходятся текстовые поля (title/description).
	ConflictContentModified ConflictType = "content_modified"
	// ConflictLocation - расходится только место проведения.
	ConflictLocation ConflictType = "location_conflict"
)

// ResolutionState определяет состояние жизненного цикла конфликта.
type ResolutionState string

const (
	// ResolutionPending - конфликт ожидает решения пользователя.
	ResolutionPending ResolutionState = "pending"
	// ResolutionAuto - конфликт разрешён автоматически.
	ResolutionAuto ResolutionState = "auto_resolved"
	// ResolutionManual - конфликт разрешён пользователем.
	ResolutionManual ResolutionState = "manually_resolved"
)

// Conflict - запись о двух действительно разошедшихся копиях одной сущности.
// Существует только пока обе стороны держат непустые различающиеся значения
// хотя бы одного отслеживаемого поля; после разрешения архивируется.
type Conflict struct {
	// ID - внутренний уникальный идентификатор.
	ID string

	// OwnerID - идентификатор студента-владельца.
	OwnerID string

	// EntityType - тип сущности.
	EntityType EntityType

	// EntityID - идентификатор сущности.
	EntityID string

	// Type - основная категория расхождения. При совпадении нескольких
	// категорий приоритет у time_modified.
	Type ConflictType

	// Fields - все разошедшиеся отслеживаемые поля.
	Fields []Field

	// LocalSnapshot - локальная копия на момент обнаружения.
	LocalSnapshot Snapshot

	// RemoteSnapshot - удалённая копия на момент обнаружения.
	RemoteSnapshot Snapshot

	// State - состояние жизненного цикла.
	State ResolutionState

	// Resolution - применённое решение (nil, пока конфликт не разрешён).
	Resolution *Resolution

	// CreatedAt - время обнаружения.
	CreatedAt time.Time

	// ResolvedAt - время разрешения (нулевое, пока конфликт открыт).
	ResolvedAt time.Time
}

var (
	// ErrConflictAlreadyResolved - конфликт уже разрешён.
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")

	// ErrConflictEntityRequired - конфликт должен ссылаться на сущность.
	ErrConflictEntityRequired = errors.New("conflict entity id is required")
)

// NewConflict создаёт конфликт в состоянии pending.
func NewConflict(id, ownerID string, entityType EntityType, entityID string, detection Detection, local, remote Snapshot) (*Conflict, error) {
	if id == "" || ownerID == "" {
		return nil, errors.New("conflict id and owner id are required")
	}
	if entityID == "" {
		return nil, ErrConflictEntityRequired
	}
	return &Conflict{
		ID:             id,
		OwnerID:        ownerID,
		EntityType:     entityType,
		EntityID:       entityID,
		Type:           detection.PrimaryType(),
		Fields:         detection.Fields,
		LocalSnapshot:  local,
		RemoteSnapshot: remote,
		State:          ResolutionPending,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// IsResolved возвращает true для архивированных конфликтов.
func (c *Conflict) IsResolved() bool {
	return c.State != ResolutionPending
}

// MarkResolved архивирует конфликт с применённым решением.
func (c *Conflict) MarkResolved(resolution Resolution, auto bool) error {
	if c.IsResolved() {
		return ErrConflictAlreadyResolved
	}
	c.Resolution = &resolution
	if auto {
		c.State = ResolutionAuto
	} else {
		c.State = ResolutionManual
	}
	c.ResolvedAt = time.Now().UTC()
	return nil
}
