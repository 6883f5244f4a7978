package sync

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC OPERATION
// Отложенная локальная запись, которую нужно протолкнуть во внешний календарь.
// Неудачные операции повторяются с экспоненциальной задержкой и никогда
// не теряются молча: исчерпав попытки, операция помечается failed.
// ══════════════════════════════════════════════════════════════════════════════

// EntityType определяет тип синхронизируемой сущности.
type EntityType string

const (
	// EntityScheduledEvent - событие расписания (занятие, дедлайн, экзамен).
	EntityScheduledEvent EntityType = "scheduled_event"
)

// OperationType определяет вид исходящей записи.
type OperationType string

const (
	// OperationCreate - создание сущности во внешнем календаре.
	OperationCreate OperationType = "create"
	// OperationUpdate - обновление зеркальной копии.
	OperationUpdate OperationType = "update"
	// OperationDelete - удаление зеркальной копии.
	OperationDelete OperationType = "delete"
)

// IsValid проверяет, что вид операции известен.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// OperationStatus определяет состояние исходящей записи.
type OperationStatus string

const (
	// OperationPending - операция ожидает отправки.
	OperationPending OperationStatus = "pending"
	// OperationCompleted - операция подтверждена внешним календарём.
	OperationCompleted OperationStatus = "completed"
	// OperationFailed - попытки исчерпаны, требуется внимание.
	OperationFailed OperationStatus = "failed"
)

// Operation представляет отложенную локальную запись во внешний календарь.
type Operation struct {
	// ID - внутренний уникальный идентификатор.
	ID string

	// OwnerID - идентификатор студента-владельца.
	OwnerID string

	// CalendarID - идентификатор внешнего календаря.
	CalendarID string

	// EntityType - тип сущности.
	EntityType EntityType

	// EntityID - идентификатор сущности.
	EntityID string

	// Type - вид записи.
	Type OperationType

	// Status - текущее состояние.
	Status OperationStatus

	// RetryCount - количество выполненных попыток.
	RetryCount int

	// LastError - текст последней ошибки (для диагностики).
	LastError string

	// CreatedAt - время постановки в очередь.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

var (
	// ErrInvalidOperationType - неизвестный вид операции.
	ErrInvalidOperationType = errors.New("invalid operation type")

	// ErrOperationEntityRequired - операция должна ссылаться на сущность.
	ErrOperationEntityRequired = errors.New("operation entity id is required")
)

// NewOperation создаёт исходящую запись в состоянии pending.
func NewOperation(id, ownerID, calendarID string, entityType EntityType, entityID string, opType OperationType) (*Operation, error) {
	if id == "" || ownerID == "" {
		return nil, errors.New("operation id and owner id are required")
	}
	if entityID == "" {
		return nil, ErrOperationEntityRequired
	}
	if !opType.IsValid() {
		return nil, ErrInvalidOperationType
	}
	now := time.Now().UTC()
	return &Operation{
		ID:         id,
		OwnerID:    ownerID,
		CalendarID: calendarID,
		EntityType: entityType,
		EntityID:   entityID,
		Type:       opType,
		Status:     OperationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// MarkCompleted помечает операцию подтверждённой.
func (o *Operation) MarkCompleted() {
	o.Status = OperationCompleted
	o.UpdatedAt = time.Now().UTC()
}

// RecordFailure фиксирует неудачную попытку. Когда бюджет попыток исчерпан,
// операция переходит в failed и всплывает вызывающему коду.
func (o *Operation) RecordFailure(err error, maxAttempts int) {
	o.RetryCount++
	if err != nil {
		o.LastError = err.Error()
	}
	if o.RetryCount >= maxAttempts {
		o.Status = OperationFailed
	}
	o.UpdatedAt = time.Now().UTC()
}

// IsExhausted возвращает true, если бюджет попыток исчерпан.
func (o *Operation) IsExhausted(maxAttempts int) bool {
	return o.RetryCount >= maxAttempts
}
