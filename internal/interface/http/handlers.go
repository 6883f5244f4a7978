// Package http implements the REST API and webhook endpoints for Schedule Sync.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aqademiq/schedule-sync/internal/application/command"
	"github.com/aqademiq/schedule-sync/internal/application/query"
	"github.com/aqademiq/schedule-sync/internal/application/saga"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"
	"github.com/aqademiq/schedule-sync/internal/interface/http/handlers"
	"github.com/aqademiq/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Schedule Sync API",
		"version":     "v1",
		"description": "REST API for Schedule Sync - student schedule synchronization",
		"endpoints": map[string]string{
			"health":      "/health",
			"occurrences": "/api/v1/owners/{id}/occurrences",
			"ics_export":  "/api/v1/owners/{id}/schedule.ics",
			"sync_health": "/api/v1/owners/{id}/sync/health",
			"conflicts":   "/api/v1/owners/{id}/conflicts",
		},
		"documentation": "https://github.com/aqademiq/schedule-sync",
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleMetrics handles the metrics endpoint.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"uptime_seconds": s.Uptime().Seconds(),
		"running":        s.IsRunning(),
	}

	writeJSON(w, http.StatusOK, metrics)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE READ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetOccurrences handles GET /api/v1/owners/{id}/occurrences
func (s *Server) handleGetOccurrences(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.GetOccurrencesHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Occurrences handler not configured")
		return
	}

	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	q := query.GetOccurrencesQuery{
		OwnerID: ownerID,
		From:    from,
		To:      to,
	}

	result, err := s.deps.GetOccurrencesHandler.Handle(r.Context(), q)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to get occurrences", logger.Err(err), logger.String("owner_id", ownerID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to get occurrences")
		return
	}

	meta := &ResponseMeta{TotalCount: len(result.Occurrences)}
	writeJSONWithMeta(w, r, http.StatusOK, result, meta)
}

// handleExportICS handles GET /api/v1/owners/{id}/schedule.ics
//
// The response is a raw iCalendar feed, not the JSON envelope: calendar
// applications subscribe to this URL directly.
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.ExportICSHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "ICS export handler not configured")
		return
	}

	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	q := query.ExportICSQuery{
		OwnerID:      ownerID,
		From:         from,
		To:           to,
		CalendarName: getQueryParam(r, "name", ""),
	}

	result, err := s.deps.ExportICSHandler.Handle(r.Context(), q)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to export ics", logger.Err(err), logger.String("owner_id", ownerID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to export calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, result.ICS)
}

// handleGetSyncHealth handles GET /api/v1/owners/{id}/sync/health
func (s *Server) handleGetSyncHealth(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.GetSyncHealthHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync health handler not configured")
		return
	}

	q := query.GetSyncHealthQuery{
		OwnerID:    ownerID,
		CalendarID: getQueryParam(r, "calendar_id", ""),
		Window:     getQueryParamInt(r, "window", 0),
	}

	result, err := s.deps.GetSyncHealthHandler.Handle(r.Context(), q)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to get sync health", logger.Err(err), logger.String("owner_id", ownerID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to get sync health")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetPendingConflicts handles GET /api/v1/owners/{id}/conflicts
func (s *Server) handleGetPendingConflicts(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.GetPendingConflictsHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Conflicts handler not configured")
		return
	}

	q := query.GetPendingConflictsQuery{OwnerID: ownerID}

	result, err := s.deps.GetPendingConflictsHandler.Handle(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to get conflicts", logger.Err(err), logger.String("owner_id", ownerID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to get conflicts")
		return
	}

	meta := &ResponseMeta{TotalCount: len(result.Conflicts)}
	writeJSONWithMeta(w, r, http.StatusOK, result, meta)
}

// handleSyncOverview handles GET /api/v1/sync/overview
// Operational view over all tracked pairs. Filters:
//   - ?owner_id=X          pairs of one owner
//   - ?min_failure_streak=N pairs failing N+ cycles in a row, worst first
//   - ?stale_minutes=M     pairs whose last cycle is older than M minutes
//
// Without filters only the aggregate metadata is returned.
func (s *Server) handleSyncOverview(w http.ResponseWriter, r *http.Request) {
	if s.deps.SyncOverview == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync overview not configured")
		return
	}

	ctx := r.Context()

	if ownerID := getQueryParam(r, "owner_id", ""); ownerID != "" {
		pairs := s.deps.SyncOverview.GetByOwner(ctx, ownerID)
		writeJSONWithMeta(w, r, http.StatusOK, pairs, &ResponseMeta{TotalCount: len(pairs)})
		return
	}

	if minStreak := getQueryParamInt(r, "min_failure_streak", 0); minStreak > 0 {
		pairs := s.deps.SyncOverview.GetFailing(ctx, minStreak)
		writeJSONWithMeta(w, r, http.StatusOK, pairs, &ResponseMeta{TotalCount: len(pairs)})
		return
	}

	if staleMinutes := getQueryParamInt(r, "stale_minutes", 0); staleMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(staleMinutes) * time.Minute)
		pairs := s.deps.SyncOverview.GetStale(ctx, cutoff)
		writeJSONWithMeta(w, r, http.StatusOK, pairs, &ResponseMeta{TotalCount: len(pairs)})
		return
	}

	writeJSON(w, http.StatusOK, s.deps.SyncOverview.GetMetadata(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC WRITE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// connectCalendarRequest is the body of POST /api/v1/owners/{id}/calendars.
type connectCalendarRequest struct {
	CalendarID     string `json:"calendar_id"`
	CallbackURL    string `json:"callback_url,omitempty"`
	EnableRealtime bool   `json:"enable_realtime"`
}

// handleConnectCalendar handles POST /api/v1/owners/{id}/calendars
func (s *Server) handleConnectCalendar(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.ConnectCalendarSaga == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Connect saga not configured")
		return
	}

	var req connectCalendarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CalendarID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "calendar_id is required")
		return
	}

	input := saga.ConnectCalendarInput{
		OwnerID:        ownerID,
		CalendarID:     req.CalendarID,
		CallbackURL:    req.CallbackURL,
		EnableRealtime: req.EnableRealtime,
	}

	result, err := s.deps.ConnectCalendarSaga.Execute(r.Context(), input)
	if err != nil {
		s.logger.Error("calendar connection failed",
			logger.Err(err),
			logger.String("owner_id", ownerID),
			logger.String("calendar_id", req.CalendarID),
		)
		switch {
		case errors.Is(err, saga.ErrCalendarAlreadyConnected):
			writeJSONError(w, http.StatusConflict, "already_connected", "Calendar is already connected")
		case errors.Is(err, saga.ErrConnectionInProgress):
			writeJSONError(w, http.StatusConflict, "connection_in_progress", "Another connection attempt is in flight")
		default:
			writeJSONError(w, statusFromError(err), "connection_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// triggerSyncRequest is the body of POST /api/v1/owners/{id}/sync.
type triggerSyncRequest struct {
	CalendarID string `json:"calendar_id"`
}

// handleTriggerSync handles POST /api/v1/owners/{id}/sync
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.PerformSyncHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync handler not configured")
		return
	}

	var req triggerSyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CalendarID == "" {
		req.CalendarID = getQueryParam(r, "calendar_id", "")
	}
	if req.CalendarID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "calendar_id is required")
		return
	}

	cmd := command.PerformSyncCommand{
		OwnerID:       ownerID,
		CalendarID:    req.CalendarID,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.PerformSyncHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.logger.Error("sync cycle failed",
			logger.Err(err),
			logger.String("owner_id", ownerID),
			logger.String("calendar_id", req.CalendarID),
		)
		writeJSONError(w, statusFromError(err), "sync_failed", err.Error())
		return
	}

	if result.Coalesced {
		// Another cycle for the pair is already in flight; the caller's
		// changes will be picked up by it.
		writeJSON(w, http.StatusAccepted, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// resolveConflictRequest is the body of POST /api/v1/conflicts/{id}/resolve.
type resolveConflictRequest struct {
	CalendarID string               `json:"calendar_id"`
	Resolution string               `json:"resolution"`
	MergedData *syncdomain.Snapshot `json:"merged_data,omitempty"`
}

// handleResolveConflict handles POST /api/v1/conflicts/{id}/resolve
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("id")
	if conflictID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Conflict ID is required")
		return
	}

	if s.deps.ResolveConflictHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Resolve handler not configured")
		return
	}

	var req resolveConflictRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := command.ResolveConflictCommand{
		ConflictID: conflictID,
		CalendarID: req.CalendarID,
		Resolution: syncdomain.ResolutionType(req.Resolution),
		MergedData: req.MergedData,
	}

	result, err := s.deps.ResolveConflictHandler.Handle(r.Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrConflictNotFound):
			writeJSONError(w, http.StatusNotFound, "not_found", "Conflict not found")
		case errors.Is(err, shared.ErrConflictResolved):
			writeJSONError(w, http.StatusConflict, "already_resolved", "Conflict is already resolved")
		case errors.Is(err, shared.ErrMergeDataRequired):
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "merged_data is required for merge resolution")
		default:
			s.logger.Error("failed to resolve conflict", logger.Err(err), logger.String("conflict_id", conflictID))
			writeJSONError(w, statusFromError(err), "resolve_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// enableRealtimeRequest is the body of POST /api/v1/owners/{id}/realtime.
type enableRealtimeRequest struct {
	CalendarID  string `json:"calendar_id"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// handleEnableRealtime handles POST /api/v1/owners/{id}/realtime
func (s *Server) handleEnableRealtime(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.RealtimeHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Realtime handler not configured")
		return
	}

	var req enableRealtimeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CalendarID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "calendar_id is required")
		return
	}

	cmd := command.SetupRealtimeSyncCommand{
		OwnerID:     ownerID,
		CalendarID:  req.CalendarID,
		CallbackURL: req.CallbackURL,
	}

	result, err := s.deps.RealtimeHandler.Setup(r.Context(), cmd)
	if err != nil {
		s.logger.Error("failed to enable realtime sync",
			logger.Err(err),
			logger.String("owner_id", ownerID),
			logger.String("calendar_id", req.CalendarID),
		)
		writeJSONError(w, statusFromError(err), "realtime_setup_failed", err.Error())
		return
	}

	// The channel secret is returned exactly once; only its hash is stored.
	writeJSON(w, http.StatusCreated, result)
}

// handleDisableRealtime handles DELETE /api/v1/owners/{id}/realtime
func (s *Server) handleDisableRealtime(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Owner ID is required")
		return
	}

	if s.deps.RealtimeHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Realtime handler not configured")
		return
	}

	if err := s.deps.RealtimeHandler.Disable(r.Context(), ownerID); err != nil {
		s.logger.Error("failed to disable realtime sync", logger.Err(err), logger.String("owner_id", ownerID))
		writeJSONError(w, statusFromError(err), "realtime_disable_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// handleCalendarWebhook handles POST /webhook/calendar
//
// The remote calendar delivers push notifications with channel metadata in
// headers and an empty body. Verification publishes the remote-change event;
// the debounced dispatcher turns it into a sync cycle.
func (s *Server) handleCalendarWebhook(w http.ResponseWriter, r *http.Request) {
	notification, err := handlers.ParseNotification(r.Header)
	if err != nil {
		s.logger.Warn("malformed calendar notification",
			logger.Err(err),
			logger.String("ip", getClientIP(r)),
		)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// The initial handshake confirms channel registration; there is nothing
	// to sync yet.
	if notification.ResourceState == handlers.ResourceStateSync {
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.deps.RealtimeHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Realtime handler not configured")
		return
	}

	err = s.deps.RealtimeHandler.VerifyNotification(r.Context(), notification.ChannelID, notification.ChannelToken)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrChannelSecretMismatch):
			s.logger.Warn("calendar notification with bad secret",
				logger.String("channel_id", notification.ChannelID),
				logger.String("ip", getClientIP(r)),
			)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid channel token")
		case errors.Is(err, shared.ErrChannelNotFound):
			// Likely a notification from a channel we already stopped.
			// 404 tells the remote to stop retrying this delivery.
			writeJSONError(w, http.StatusNotFound, "not_found", "Unknown channel")
		default:
			s.logger.Error("failed to verify calendar notification",
				logger.Err(err),
				logger.String("channel_id", notification.ChannelID),
			)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to process notification")
		}
		return
	}

	s.logger.Info("calendar notification accepted",
		logger.String("channel_id", notification.ChannelID),
		logger.String("resource_state", string(notification.ResourceState)),
		logger.Int64("message_number", notification.MessageNumber),
	)

	w.WriteHeader(http.StatusOK)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes an optional JSON body into dst. Empty bodies are allowed;
// malformed JSON writes a 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return false
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return false
	}
	return true
}

// parseDateRange reads the from/to query parameters (YYYY-MM-DD). Defaults
// cover the upcoming week.
func parseDateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now
	to := now.AddDate(0, 0, 7)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "from must be formatted as YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		from = parsed
		to = parsed.AddDate(0, 0, 7)
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "to must be formatted as YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}

	return from, to, true
}

// statusFromError maps domain error kinds to HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
