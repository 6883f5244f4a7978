package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification_FullHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Goog-Channel-ID", "chan-42")
	h.Set("X-Goog-Channel-Token", "secret-token")
	h.Set("X-Goog-Resource-ID", "res-7")
	h.Set("X-Goog-Resource-State", "exists")
	h.Set("X-Goog-Message-Number", "13")
	h.Set("X-Goog-Channel-Expiration", "Mon, 14 Sep 2026 10:00:00 UTC")

	n, err := ParseNotification(h)
	require.NoError(t, err)

	assert.Equal(t, "chan-42", n.ChannelID)
	assert.Equal(t, "secret-token", n.ChannelToken)
	assert.Equal(t, "res-7", n.ResourceID)
	assert.Equal(t, ResourceStateExists, n.ResourceState)
	assert.Equal(t, int64(13), n.MessageNumber)
	assert.Equal(t, time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC), n.ChannelExpiration.UTC())
}

func TestParseNotification_SyncHandshake(t *testing.T) {
	h := http.Header{}
	h.Set("X-Goog-Channel-ID", "chan-42")
	h.Set("X-Goog-Resource-State", "sync")
	h.Set("X-Goog-Message-Number", "1")

	n, err := ParseNotification(h)
	require.NoError(t, err)

	assert.Equal(t, ResourceStateSync, n.ResourceState)
	assert.Equal(t, int64(1), n.MessageNumber)
	assert.True(t, n.ChannelExpiration.IsZero())
}

func TestParseNotification_Errors(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{
			name:    "missing channel id",
			headers: map[string]string{"X-Goog-Resource-State": "exists"},
		},
		{
			name:    "missing resource state",
			headers: map[string]string{"X-Goog-Channel-ID": "chan-42"},
		},
		{
			name: "unknown resource state",
			headers: map[string]string{
				"X-Goog-Channel-ID":     "chan-42",
				"X-Goog-Resource-State": "maybe",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			_, err := ParseNotification(h)
			assert.Error(t, err)
		})
	}
}

func TestParseNotification_IgnoresMalformedOptionalHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Goog-Channel-ID", "chan-42")
	h.Set("X-Goog-Resource-State", "not_exists")
	h.Set("X-Goog-Message-Number", "not-a-number")
	h.Set("X-Goog-Channel-Expiration", "not-a-date")

	n, err := ParseNotification(h)
	require.NoError(t, err)

	assert.Equal(t, ResourceStateNotExists, n.ResourceState)
	assert.Zero(t, n.MessageNumber)
	assert.True(t, n.ChannelExpiration.IsZero())
}
