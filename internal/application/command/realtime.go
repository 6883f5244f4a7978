package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// REALTIME SYNC COMMANDS
// Включение и выключение push-синхронизации: регистрация канала уведомлений
// у внешнего календаря. Секрет канала выдаётся один раз при регистрации и
// хранится только в виде bcrypt-хеша; входящие уведомления проверяются
// по хешу до постановки в очередь диспетчера.
// ══════════════════════════════════════════════════════════════════════════════

// RemoteChannel is the external calendar's description of a registered channel.
type RemoteChannel struct {
	// ID echoes our channel identifier.
	ID string

	// ResourceID is the remote-side handle of the watched resource.
	ResourceID string

	// ExpiresAt is when the remote stops delivering notifications.
	ExpiresAt time.Time
}

// ChannelClient defines the webhook channel operations of the external calendar.
type ChannelClient interface {
	// Watch registers a notification channel for a calendar.
	Watch(ctx context.Context, calendarID, channelID, address, token string, ttl time.Duration) (*RemoteChannel, error)

	// StopChannel tears down a registered channel.
	StopChannel(ctx context.Context, channelID, resourceID string) error
}

// SetupRealtimeSyncCommand registers push-triggered cycles for a pair.
type SetupRealtimeSyncCommand struct {
	// OwnerID is the student enabling realtime sync.
	OwnerID string

	// CalendarID is the external calendar to watch.
	CalendarID string

	// CallbackURL receives the remote's notifications.
	CallbackURL string
}

// Validate validates the command.
func (c SetupRealtimeSyncCommand) Validate() error {
	if c.OwnerID == "" || c.CalendarID == "" {
		return errors.New("setup_realtime: owner id and calendar id are required")
	}
	if c.CallbackURL == "" {
		return errors.New("setup_realtime: callback url is required")
	}
	return nil
}

// SetupRealtimeSyncResult contains the registered channel.
type SetupRealtimeSyncResult struct {
	// ChannelID identifies the channel on both sides.
	ChannelID string

	// Secret is returned exactly once; only its hash is stored.
	Secret string

	// ExpiresAt is when the channel needs renewal.
	ExpiresAt time.Time
}

// RealtimeHandler manages the notification channel lifecycle.
type RealtimeHandler struct {
	channelRepo syncdomain.ChannelRepository
	client      ChannelClient
	publisher   shared.EventPublisher

	// Configuration
	channelTTL  time.Duration
	callbackURL string
}

// RealtimeConfig contains configuration for the handler.
type RealtimeConfig struct {
	// ChannelTTL is the requested channel lifetime.
	ChannelTTL time.Duration

	// CallbackURL is the default notification address.
	CallbackURL string
}

// DefaultRealtimeConfig returns default configuration.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		ChannelTTL: 7 * 24 * time.Hour,
	}
}

// NewRealtimeHandler creates a new RealtimeHandler.
func NewRealtimeHandler(
	channelRepo syncdomain.ChannelRepository,
	client ChannelClient,
	publisher shared.EventPublisher,
	config RealtimeConfig,
) *RealtimeHandler {
	if config.ChannelTTL <= 0 {
		config.ChannelTTL = DefaultRealtimeConfig().ChannelTTL
	}

	return &RealtimeHandler{
		channelRepo: channelRepo,
		client:      client,
		publisher:   publisher,
		channelTTL:  config.ChannelTTL,
		callbackURL: config.CallbackURL,
	}
}

// Setup registers a notification channel and enables push-triggered cycles.
func (h *RealtimeHandler) Setup(ctx context.Context, cmd SetupRealtimeSyncCommand) (*SetupRealtimeSyncResult, error) {
	if cmd.CallbackURL == "" {
		cmd.CallbackURL = h.callbackURL
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	channelID := uuid.NewString()
	secret := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("setup_realtime: hash secret: %w", err)
	}

	remote, err := h.client.Watch(ctx, cmd.CalendarID, channelID, cmd.CallbackURL, secret, h.channelTTL)
	if err != nil {
		return nil, fmt.Errorf("setup_realtime: register channel: %w", err)
	}

	ttl := h.channelTTL
	if !remote.ExpiresAt.IsZero() {
		ttl = time.Until(remote.ExpiresAt)
	}
	channel, err := syncdomain.NewChannel(channelID, cmd.OwnerID, cmd.CalendarID, hash, ttl)
	if err != nil {
		return nil, err
	}
	if err := h.channelRepo.Save(ctx, channel); err != nil {
		// Канал уже зарегистрирован у внешней стороны; снимаем его, чтобы
		// не копить уведомления, которые некому проверить.
		_ = h.client.StopChannel(ctx, channelID, remote.ResourceID)
		return nil, shared.WrapError("sync", "Webhook", shared.ErrPersistence, "save channel", err)
	}

	h.publish(shared.NewRealtimeSyncToggledEvent(shared.EventRealtimeSyncEnabled, cmd.OwnerID, cmd.CalendarID, channelID))

	return &SetupRealtimeSyncResult{
		ChannelID: channelID,
		Secret:    secret,
		ExpiresAt: channel.ExpiresAt,
	}, nil
}

// Disable tears down all notification channels of an owner.
func (h *RealtimeHandler) Disable(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New("disable_realtime: owner id is required")
	}

	channels, err := h.channelRepo.GetByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("disable_realtime: list channels: %w", err)
	}

	var firstErr error
	for _, ch := range channels {
		if err := h.client.StopChannel(ctx, ch.ID, ""); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disable_realtime: stop channel %s: %w", ch.ID, err)
		}
		if err := h.channelRepo.Delete(ctx, ch.ID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disable_realtime: delete channel %s: %w", ch.ID, err)
		}
		h.publish(shared.NewRealtimeSyncToggledEvent(shared.EventRealtimeSyncDisabled, ownerID, ch.CalendarID, ch.ID))
	}
	return firstErr
}

// RenewChannel re-registers an expiring channel with a fresh secret.
// Implements the renewal job's contract.
func (h *RealtimeHandler) RenewChannel(ctx context.Context, old *syncdomain.Channel) error {
	if _, err := h.Setup(ctx, SetupRealtimeSyncCommand{
		OwnerID:     old.OwnerID,
		CalendarID:  old.CalendarID,
		CallbackURL: h.callbackURL,
	}); err != nil {
		return err
	}

	// Старый канал снимается только после успешной замены: окно без
	// уведомлений хуже окна с двойными (диспетчер их и так схлопывает).
	if err := h.client.StopChannel(ctx, old.ID, ""); err != nil {
		return fmt.Errorf("renew channel %s: stop old: %w", old.ID, err)
	}
	if err := h.channelRepo.Delete(ctx, old.ID); err != nil {
		return fmt.Errorf("renew channel %s: delete old: %w", old.ID, err)
	}
	return nil
}

// VerifyNotification authenticates an incoming webhook notification and
// publishes the remote-change event the debounced dispatcher listens for.
func (h *RealtimeHandler) VerifyNotification(ctx context.Context, channelID, secret string) error {
	channel, err := h.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.IsExpired(time.Now().UTC()) {
		return shared.NewDomainError("sync", "Webhook", shared.ErrExpired, "notification channel expired")
	}
	if bcrypt.CompareHashAndPassword(channel.SecretHash, []byte(secret)) != nil {
		return shared.ErrChannelSecretMismatch
	}

	h.publish(shared.NewRemoteChangeNotifiedEvent(channel.OwnerID, channel.CalendarID, channel.ID))
	return nil
}

// publish emits a domain event, best effort.
func (h *RealtimeHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	_ = h.publisher.Publish(event)
}
