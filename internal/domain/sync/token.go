// Package sync содержит доменную модель двусторонней синхронизации расписания
// с внешним календарём: токены, очередь операций, конфликты и правила их
// разрешения. Это ядро бизнес-логики - здесь нет внешних зависимостей.
package sync

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC TOKEN
// Непрозрачный курсор, отмечающий последнюю полностью обработанную точку
// потока изменений внешнего календаря. Продвигается только после успешного
// завершения всего цикла синхронизации.
// ══════════════════════════════════════════════════════════════════════════════

// Token представляет курсор синхронизации пары (владелец, внешний календарь).
type Token struct {
	// OwnerID - идентификатор студента-владельца.
	OwnerID string

	// CalendarID - идентификатор внешнего календаря.
	CalendarID string

	// Value - непрозрачное значение курсора от внешнего календаря.
	// Пустое значение означает, что нужна полная синхронизация.
	Value string

	// LastUsedAt - время последнего успешного цикла с этим токеном.
	LastUsedAt time.Time

	// ExpiresAt - срок действия токена (nil = без срока).
	ExpiresAt *time.Time

	// CreatedAt - время первого успешного цикла.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

var (
	// ErrTokenOwnerRequired - токен должен принадлежать паре (владелец, календарь).
	ErrTokenOwnerRequired = errors.New("token owner id and calendar id are required")
)

// NewToken создаёт токен для пары (владелец, календарь).
func NewToken(ownerID, calendarID, value string) (*Token, error) {
	if ownerID == "" || calendarID == "" {
		return nil, ErrTokenOwnerRequired
	}
	now := time.Now().UTC()
	return &Token{
		OwnerID:    ownerID,
		CalendarID: calendarID,
		Value:      value,
		LastUsedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsEmpty возвращает true, если курсор отсутствует и нужна полная синхронизация.
func (t *Token) IsEmpty() bool {
	return t == nil || t.Value == ""
}

// IsExpired возвращает true, если срок действия токена истёк.
func (t *Token) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Advance продвигает курсор на новое значение после успешного цикла.
func (t *Token) Advance(value string) {
	now := time.Now().UTC()
	t.Value = value
	t.LastUsedAt = now
	t.UpdatedAt = now
}

// Invalidate сбрасывает курсор после явного сигнала "token expired" от
// внешнего календаря; следующий цикл выполнит полную синхронизацию.
func (t *Token) Invalidate() {
	t.Value = ""
	t.ExpiresAt = nil
	t.UpdatedAt = time.Now().UTC()
}
