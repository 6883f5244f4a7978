package schedule

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет основные операции для событий расписания.
type Repository interface {
	// Create создаёт новое событие.
	Create(ctx context.Context, event *ScheduledEvent) error

	// GetByID возвращает событие по внутреннему ID.
	// Возвращает ErrEventNotFound, если событие не найдено.
	GetByID(ctx context.Context, id string) (*ScheduledEvent, error)

	// GetByExternalID возвращает событие по идентификатору во внешнем календаре.
	// Возвращает ErrEventNotFound, если событие не найдено.
	GetByExternalID(ctx context.Context, ownerID, externalID string) (*ScheduledEvent, error)

	// GetByOwner возвращает все активные события владельца.
	GetByOwner(ctx context.Context, ownerID string) ([]*ScheduledEvent, error)

	// Update обновляет событие.
	// Возвращает ErrEventNotFound, если событие не найдено.
	Update(ctx context.Context, event *ScheduledEvent) error

	// UpdateIfUnmodified обновляет событие только если его UpdatedAt в хранилище
	// совпадает с expectedUpdatedAt (оптимистичный контроль конкурентности).
	// Возвращает shared.ErrOptimisticLock при несовпадении.
	UpdateIfUnmodified(ctx context.Context, event *ScheduledEvent, expectedUpdatedAt time.Time) error

	// Deactivate выполняет мягкое удаление события.
	Deactivate(ctx context.Context, id string) error

	// ModifiedSince возвращает события владельца, изменённые после указанного
	// момента. Используется для определения незакоммиченных локальных правок.
	ModifiedSince(ctx context.Context, ownerID string, since time.Time) ([]*ScheduledEvent, error)
}

// SemesterRepository определяет операции для семестров.
type SemesterRepository interface {
	// Create создаёт семестр.
	Create(ctx context.Context, semester *Semester) error

	// GetByID возвращает семестр по ID.
	// Возвращает ErrSemesterNotFound, если семестр не найден.
	GetByID(ctx context.Context, id string) (*Semester, error)

	// GetActive возвращает активный семестр владельца.
	// Возвращает ErrSemesterNotFound, если активного семестра нет.
	GetActive(ctx context.Context, ownerID string) (*Semester, error)

	// Update обновляет семестр.
	Update(ctx context.Context, semester *Semester) error
}
