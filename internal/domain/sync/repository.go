package sync

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Pair идентифицирует пару (владелец, внешний календарь).
type Pair struct {
	OwnerID    string
	CalendarID string
}

// TokenRepository определяет операции для курсоров синхронизации.
type TokenRepository interface {
	// Get возвращает токен пары (владелец, календарь).
	// Возвращает shared.ErrTokenNotFound при отсутствии.
	Get(ctx context.Context, ownerID, calendarID string) (*Token, error)

	// Save создаёт или обновляет токен. Вызывается только после успешного
	// завершения всего цикла - атомарность продвижения обеспечивает
	// вызывающий код через транзакцию.
	Save(ctx context.Context, token *Token) error

	// Delete удаляет токен, принудительно вызывая полную синхронизацию.
	Delete(ctx context.Context, ownerID, calendarID string) error

	// ListPairs возвращает все пары с сохранёнными токенами.
	// Используется плановым циклом для обхода всех синхронизаций.
	ListPairs(ctx context.Context) ([]Pair, error)
}

// CycleCommitter атомарно фиксирует результат успешного цикла: продвижение
// токена и подтверждение отправленных операций происходят в одной транзакции,
// либо не происходят вовсе.
type CycleCommitter interface {
	CommitCycle(ctx context.Context, token *Token, completed []*Operation) error
}

// OperationRepository определяет операции для очереди исходящих записей.
type OperationRepository interface {
	// Enqueue ставит операцию в очередь.
	Enqueue(ctx context.Context, op *Operation) error

	// GetPending возвращает неотправленные операции пары (владелец, календарь)
	// в порядке постановки в очередь.
	GetPending(ctx context.Context, ownerID, calendarID string) ([]*Operation, error)

	// GetPendingForEntity возвращает неотправленные операции по сущности.
	GetPendingForEntity(ctx context.Context, entityType EntityType, entityID string) ([]*Operation, error)

	// Update сохраняет изменившееся состояние операции.
	Update(ctx context.Context, op *Operation) error

	// PurgeCompleted удаляет подтверждённые операции старше порога.
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
}

// ConflictRepository определяет операции для записей о конфликтах.
type ConflictRepository interface {
	// Create сохраняет обнаруженный конфликт.
	Create(ctx context.Context, conflict *Conflict) error

	// GetByID возвращает конфликт по ID.
	// Возвращает shared.ErrConflictNotFound при отсутствии.
	GetByID(ctx context.Context, id string) (*Conflict, error)

	// GetPending возвращает открытые конфликты владельца.
	GetPending(ctx context.Context, ownerID string) ([]*Conflict, error)

	// GetPendingForEntity возвращает открытые конфликты по сущности.
	GetPendingForEntity(ctx context.Context, entityType EntityType, entityID string) ([]*Conflict, error)

	// Update сохраняет изменившееся состояние конфликта.
	Update(ctx context.Context, conflict *Conflict) error

	// CountPending возвращает количество открытых конфликтов владельца.
	CountPending(ctx context.Context, ownerID string) (int, error)
}

// ChannelRepository определяет операции для каналов уведомлений.
type ChannelRepository interface {
	// Save создаёт или обновляет канал.
	Save(ctx context.Context, channel *Channel) error

	// GetByID возвращает канал по ID.
	// Возвращает shared.ErrChannelNotFound при отсутствии.
	GetByID(ctx context.Context, id string) (*Channel, error)

	// GetByOwner возвращает каналы владельца.
	GetByOwner(ctx context.Context, ownerID string) ([]*Channel, error)

	// Delete удаляет канал.
	Delete(ctx context.Context, id string) error

	// ListExpiring возвращает каналы, истекающие до указанного момента.
	ListExpiring(ctx context.Context, before time.Time) ([]*Channel, error)

	// DeleteExpired удаляет каналы, срок действия которых уже истёк.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
