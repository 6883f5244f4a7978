package service

import (
	"context"
	"strconv"
	"time"

	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/external/gcal"
)

// ChannelAdapter adapts the gcal.Client webhook channel API to the
// command.ChannelClient interface.
type ChannelAdapter struct {
	client *gcal.Client
}

// NewChannelAdapter creates a new ChannelAdapter.
func NewChannelAdapter(client *gcal.Client) *ChannelAdapter {
	return &ChannelAdapter{client: client}
}

// Watch registers a webhook notification channel for a calendar.
func (a *ChannelAdapter) Watch(ctx context.Context, calendarID, channelID, address, token string, ttl time.Duration) (*command.RemoteChannel, error) {
	req := gcal.WatchRequestDTO{
		ID:      channelID,
		Type:    "web_hook",
		Address: address,
		Token:   token,
	}
	if ttl > 0 {
		req.Params = map[string]string{
			"ttl": strconv.FormatInt(int64(ttl/time.Second), 10),
		}
	}

	dto, err := a.client.Watch(ctx, calendarID, req)
	if err != nil {
		return nil, err
	}
	return &command.RemoteChannel{
		ID:         dto.ID,
		ResourceID: dto.ResourceID,
		ExpiresAt:  dto.ExpiresAt(),
	}, nil
}

// StopChannel tears down a registered channel.
func (a *ChannelAdapter) StopChannel(ctx context.Context, channelID, resourceID string) error {
	return a.client.StopChannel(ctx, channelID, resourceID)
}
