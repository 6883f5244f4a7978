package sync

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION CHANNEL
// Канал push-уведомлений от внешнего календаря. Секрет канала хранится
// только в виде хеша; проверка входящих уведомлений выполняется
// на уровне application/infrastructure.
// ══════════════════════════════════════════════════════════════════════════════

// Channel представляет зарегистрированный канал уведомлений о внешних правках.
type Channel struct {
	// ID - идентификатор канала (передаётся внешнему календарю).
	ID string

	// OwnerID - идентификатор студента-владельца.
	OwnerID string

	// CalendarID - идентификатор внешнего календаря.
	CalendarID string

	// SecretHash - bcrypt-хеш секрета канала; сам секрет не хранится.
	SecretHash []byte

	// ExpiresAt - срок жизни канала (внешние календари выдают каналы
	// с ограниченным сроком, после которого нужна перерегистрация).
	ExpiresAt time.Time

	// CreatedAt - время регистрации.
	CreatedAt time.Time
}

// ErrChannelSecretRequired - канал должен иметь секрет.
var ErrChannelSecretRequired = errors.New("channel secret hash is required")

// NewChannel создаёт канал уведомлений.
func NewChannel(id, ownerID, calendarID string, secretHash []byte, ttl time.Duration) (*Channel, error) {
	if id == "" || ownerID == "" || calendarID == "" {
		return nil, errors.New("channel id, owner id and calendar id are required")
	}
	if len(secretHash) == 0 {
		return nil, ErrChannelSecretRequired
	}
	now := time.Now().UTC()
	return &Channel{
		ID:         id,
		OwnerID:    ownerID,
		CalendarID: calendarID,
		SecretHash: secretHash,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}, nil
}

// IsExpired возвращает true, если канал требует перерегистрации.
func (c *Channel) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
