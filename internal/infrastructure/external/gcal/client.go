// Package gcal implements the remote calendar API client.
// This package handles all communication with the Google Calendar API:
// incremental change pulls, outbound event pushes, and webhook channels.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	"github.com/aqademiq/schedule-sync/pkg/circuitbreaker"
	"github.com/aqademiq/schedule-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the calendar API client.
type ClientConfig struct {
	// BaseURL is the API base URL.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// PageSize limits items per change feed page.
	PageSize int

	// FullSyncWindow bounds the pull when no sync token exists.
	FullSyncWindow time.Duration

	// RateLimiterConfig for API rate limiting.
	RateLimiterConfig RateLimiterConfig

	// Breaker guards the remote API. Nil installs circuitbreaker.CalendarAPIBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	// Retrier drives per-request retries. Nil installs retry.CalendarAPIRetrier.
	Retrier *retry.Retrier

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		PageSize:          250,
		FullSyncWindow:    180 * 24 * time.Hour,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the calendar API client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

// NewClient creates a new calendar API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 250
	}
	if config.Breaker == nil {
		logger := config.Logger
		config.Breaker = circuitbreaker.CalendarAPIBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		})
	}
	if config.Retrier == nil {
		config.Retrier = retry.CalendarAPIRetrier()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      config.Logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     config.Breaker,
		retrier:     config.Retrier,
		mapper:      NewMapper(),
	}
}

// Mapper exposes the DTO/domain mapper for callers that need to translate
// pulled payloads themselves.
func (c *Client) Mapper() *Mapper {
	return c.mapper
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE FEED OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// PullChanges walks the change feed for a calendar. An empty syncToken means
// full sync: all events inside the full-sync window are pulled. A token the
// remote rejects surfaces shared.ErrRemoteTokenInvalid so the caller can
// reset the cursor and retry with a full pull.
func (c *Client) PullChanges(ctx context.Context, calendarID, syncToken string) (*PullResultDTO, error) {
	result := &PullResultDTO{}
	pageToken := ""

	for {
		page, err := c.pullPage(ctx, calendarID, syncToken, pageToken)
		result.APICalls++
		if err != nil {
			return result, err
		}

		for _, item := range page.Items {
			result.Changes = append(result.Changes, c.mapper.Classify(item))
		}

		if page.NextSyncToken != "" {
			result.NextSyncToken = page.NextSyncToken
		}
		if page.NextPageToken == "" {
			return result, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) pullPage(ctx context.Context, calendarID, syncToken, pageToken string) (*EventsPageDTO, error) {
	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(c.config.PageSize))
	params.Set("showDeleted", "true")

	if syncToken != "" {
		params.Set("syncToken", syncToken)
	} else {
		// Full sync: bounded window, single instances only
		now := time.Now().UTC()
		params.Set("timeMin", now.Add(-c.config.FullSyncWindow/2).Format(time.RFC3339))
		params.Set("timeMax", now.Add(c.config.FullSyncWindow/2).Format(time.RFC3339))
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), params.Encode())

	var page EventsPageDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
		// 410 GONE: the remote expired the sync token
		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusGone {
			return nil, shared.ErrRemoteTokenInvalid
		}
		return nil, fmt.Errorf("pull changes %s: %w", calendarID, err)
	}
	return &page, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// InsertEvent creates an event in the remote calendar and returns the stored copy.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *EventDTO) (*EventDTO, error) {
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))

	var created EventDTO
	if err := c.doRequest(ctx, http.MethodPost, path, event, &created); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &created, nil
}

// UpdateEvent replaces the remote copy of an event.
func (c *Client) UpdateEvent(ctx context.Context, calendarID string, event *EventDTO) (*EventDTO, error) {
	if event.ID == "" {
		return nil, errors.New("update event: missing event id")
	}
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(event.ID))

	var updated EventDTO
	if err := c.doRequest(ctx, http.MethodPut, path, event, &updated); err != nil {
		return nil, fmt.Errorf("update event %s: %w", event.ID, err)
	}
	return &updated, nil
}

// DeleteEvent removes the remote copy of an event. Deleting an already
// deleted event is treated as success: the desired state holds.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))

	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK CHANNEL OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Watch registers a webhook notification channel for a calendar.
func (c *Client) Watch(ctx context.Context, calendarID string, req WatchRequestDTO) (*ChannelDTO, error) {
	if req.Type == "" {
		req.Type = "web_hook"
	}
	path := fmt.Sprintf("/calendars/%s/events/watch", url.PathEscape(calendarID))

	var channel ChannelDTO
	if err := c.doRequest(ctx, http.MethodPost, path, req, &channel); err != nil {
		return nil, fmt.Errorf("watch calendar %s: %w", calendarID, err)
	}
	return &channel, nil
}

// StopChannel tears down a webhook notification channel.
func (c *Client) StopChannel(ctx context.Context, channelID, resourceID string) error {
	body := map[string]string{
		"id":         channelID,
		"resourceId": resourceID,
	}
	if err := c.doRequest(ctx, http.MethodPost, "/channels/stop", body, nil); err != nil {
		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("stop channel %s: %w", channelID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit breaking, and retries.
// The breaker wraps the whole retried sequence: one exhausted retry run counts
// as one failure against the circuit.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}

			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
			}

			if !c.isRetryable(err) {
				return retry.Permanent(err)
			}
			return retry.Retryable(err)
		})
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.WrapError("calendar", "Request", shared.ErrServiceUnavailable, "circuit open", err)
	case c.isRetryable(err):
		// Retryable and still failing means the retry budget is spent.
		return shared.WrapError("calendar", "Request", shared.ErrNetwork, "request failed after retries", err)
	default:
		return err
	}
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("calendar api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		var envelope apiErrorEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil {
			if envelope.Error.Code == 0 {
				envelope.Error.Code = resp.StatusCode
			}
			return envelope.Error
		}
		return &APIErrorDTO{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return shared.WrapError("calendar", "Parse", shared.ErrValidation, "unmarshal response", err)
		}
	}

	return nil
}

// isRetryable checks if an error is retryable.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		// 403 rateLimitExceeded is a quota hit, retry with backoff;
		// other 4xx are permanent, 5xx are transient
		if apiErr.Code == http.StatusForbidden {
			return apiErr.HasReason("rateLimitExceeded") || apiErr.HasReason("userRateLimitExceeded")
		}
		return apiErr.Code >= 500
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Transport-level errors are generally transient
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus contains the current status of the client.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	CircuitState  circuitbreaker.State
	CircuitCounts circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		CircuitState:  c.breaker.State(),
		CircuitCounts: c.breaker.Counts(),
	}
}

// Healthy reports whether the circuit to the remote API is not open.
func (c *Client) Healthy() bool {
	return !c.breaker.IsOpen()
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
