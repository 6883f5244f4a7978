// Package handlers contains HTTP handler interfaces and implementations.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR PUSH NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ResourceState describes what the remote calendar is notifying about.
type ResourceState string

const (
	// ResourceStateSync is the registration handshake sent once when a
	// channel is created. It carries no changes.
	ResourceStateSync ResourceState = "sync"

	// ResourceStateExists signals that the watched resource changed.
	ResourceStateExists ResourceState = "exists"

	// ResourceStateNotExists signals that the watched resource was deleted.
	ResourceStateNotExists ResourceState = "not_exists"
)

// Notification is the metadata of one calendar push delivery. The remote
// sends everything in headers; the request body is empty.
type Notification struct {
	// ChannelID identifies the notification channel on both sides.
	ChannelID string

	// ChannelToken is the shared secret we supplied at registration.
	ChannelToken string

	// ResourceID is the remote-side handle of the watched resource.
	ResourceID string

	// ResourceState is the kind of change being notified.
	ResourceState ResourceState

	// MessageNumber increases with each delivery on the channel.
	MessageNumber int64

	// ChannelExpiration is when the channel stops delivering, if the
	// remote included it.
	ChannelExpiration time.Time
}

// ParseNotification extracts calendar push-notification metadata from the
// request headers.
func ParseNotification(h http.Header) (*Notification, error) {
	channelID := h.Get("X-Goog-Channel-ID")
	if channelID == "" {
		return nil, fmt.Errorf("notification: missing X-Goog-Channel-ID header")
	}

	state := ResourceState(h.Get("X-Goog-Resource-State"))
	switch state {
	case ResourceStateSync, ResourceStateExists, ResourceStateNotExists:
	case "":
		return nil, fmt.Errorf("notification: missing X-Goog-Resource-State header")
	default:
		return nil, fmt.Errorf("notification: unknown resource state %q", state)
	}

	n := &Notification{
		ChannelID:     channelID,
		ChannelToken:  h.Get("X-Goog-Channel-Token"),
		ResourceID:    h.Get("X-Goog-Resource-ID"),
		ResourceState: state,
	}

	if v := h.Get("X-Goog-Message-Number"); v != "" {
		if num, err := strconv.ParseInt(v, 10, 64); err == nil {
			n.MessageNumber = num
		}
	}
	if v := h.Get("X-Goog-Channel-Expiration"); v != "" {
		// RFC 1123 per the push notification contract.
		if exp, err := time.Parse(time.RFC1123, v); err == nil {
			n.ChannelExpiration = exp
		}
	}

	return n, nil
}
