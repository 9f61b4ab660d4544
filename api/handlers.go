/*
handlers.go - HTTP API handlers for the screen-time rewards engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the engine. The monitoring bridge
  posts raw threshold events here; a dashboard reads balances, apps,
  and reports; the sync collaborator pulls snapshots and pushes
  remote configuration changes.

ENDPOINTS:
  Apps:
    GET    /api/apps                 List all monitored apps
    POST   /api/apps                 Enroll/update an app
    GET    /api/apps/{id}            Get one app with history
    DELETE /api/apps/{id}            Unenroll an app
    POST   /api/apps/{id}/redeem     Redeem minutes (unlock)
    POST   /api/apps/{id}/relock     Manually re-lock

  Monitoring bridge:
    POST   /api/events               Raw threshold event
    POST   /api/monitoring/restarted Monitoring (re)start signal
    POST   /api/day-changed          Calendar-day-changed signal

  Ledger:
    GET    /api/balance              Aggregate balance
    GET    /api/unlocked             Active reservations
    GET    /api/restricted           Current restricted set
    GET    /api/report               Usage statistics

  Sync:
    GET    /api/sync/snapshot        Serializable state
    POST   /api/sync/config          Apply remote config changes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown app
  - 409: Insufficient points, not unlocked
  - 500: Internal errors
  Rejected usage events are NOT errors: the bridge gets a 200 with
  {"accepted": false, "reason": ...} so it never retries them.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/screentime-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
}

// NewHandler creates a new handler around an engine.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{Engine: eng}
}

// =============================================================================
// APP HANDLERS
// =============================================================================

// ListApps returns all monitored apps.
// GET /api/apps
func (h *Handler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps := h.Engine.Apps()
	dtos := make([]AppDTO, 0, len(apps))
	for _, rec := range apps {
		dtos = append(dtos, toAppDTO(rec, h.stateOf(rec)))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertApp enrolls a new app or updates an existing one.
// POST /api/apps
func (h *Handler) UpsertApp(w http.ResponseWriter, r *http.Request) {
	var req UpsertAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Ref == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "ref and display_name are required", nil)
		return
	}
	cat, ok := engine.ParseCategory(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, "category must be learning or reward", nil)
		return
	}
	if req.PointsPerMinute <= 0 {
		writeError(w, http.StatusBadRequest, "points_per_minute must be positive", nil)
		return
	}

	rec, err := h.Engine.UpsertApp(r.Context(), engine.AppSpec{
		Ref:             engine.AppRef(req.Ref),
		DisplayName:     req.DisplayName,
		Category:        cat,
		PointsPerMinute: req.PointsPerMinute,
	})
	if err != nil {
		writeEngineError(w, "Failed to enroll app", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppDTO(rec, h.stateOf(rec)))
}

// GetApp returns one app with its daily history.
// GET /api/apps/{id}
func (h *Handler) GetApp(w http.ResponseWriter, r *http.Request) {
	id := engine.LogicalAppID(chi.URLParam(r, "id"))
	rec, err := h.Engine.App(id)
	if err != nil {
		writeEngineError(w, "Failed to get app", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppDTO(rec, h.stateOf(rec)))
}

// RemoveApp unenrolls an app.
// DELETE /api/apps/{id}
func (h *Handler) RemoveApp(w http.ResponseWriter, r *http.Request) {
	id := engine.LogicalAppID(chi.URLParam(r, "id"))
	if err := h.Engine.RemoveApp(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to remove app", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stateOf resolves the lock state string for reward apps.
func (h *Handler) stateOf(rec *engine.AppRecord) string {
	if rec.Category != engine.CategoryReward {
		return ""
	}
	if h.Engine.Unlocked(rec.LogicalID) != nil {
		return "unlocked"
	}
	return "locked"
}

// =============================================================================
// MONITORING BRIDGE HANDLERS
// =============================================================================

// PostEvent ingests one raw threshold event.
// POST /api/events
//
// A validator rejection is a 200 with accepted=false: the bridge must
// never retry an invalid event. Persistence failures are 500 and MAY
// be retried with the identical payload; re-application of an
// already-applied event is caught by the duplicate filter.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req ThresholdEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required", nil)
		return
	}

	err := h.Engine.HandleThreshold(r.Context(), engine.AppRef(req.Ref), req.ThresholdIndex)
	if err == nil {
		writeJSON(w, http.StatusOK, EventResultDTO{Accepted: true})
		return
	}

	var rejected *engine.RejectedEventError
	switch {
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusOK, EventResultDTO{Accepted: false, Reason: string(rejected.Reason)})
	case errors.Is(err, engine.ErrUnknownApp), errors.Is(err, engine.ErrNotUnlocked):
		// Logged-and-dropped category: resolution failed upstream or
		// the restriction collaborator leaked a locked app.
		writeJSON(w, http.StatusOK, EventResultDTO{Accepted: false, Reason: unwrapReason(err)})
	default:
		writeError(w, http.StatusInternalServerError, "Failed to process event", err)
	}
}

// MonitoringRestarted resets the grace-period clock.
// POST /api/monitoring/restarted
func (h *Handler) MonitoringRestarted(w http.ResponseWriter, r *http.Request) {
	h.Engine.MonitoringStarted()
	w.WriteHeader(http.StatusNoContent)
}

// DayChanged rolls over all today counters.
// POST /api/day-changed
func (h *Handler) DayChanged(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DayChanged(r.Context()); err != nil {
		writeEngineError(w, "Failed to roll over", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalance returns the aggregate balance.
// GET /api/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toBalanceDTO(h.Engine.Balance()))
}

// Redeem unlocks reward minutes.
// POST /api/apps/{id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := engine.LogicalAppID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be positive", nil)
		return
	}

	unlocked, err := h.Engine.Redeem(r.Context(), id, req.Minutes)
	if err != nil {
		writeEngineError(w, "Failed to redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnlockedDTO(unlocked))
}

// Relock manually re-locks a reward app.
// POST /api/apps/{id}/relock
func (h *Handler) Relock(w http.ResponseWriter, r *http.Request) {
	id := engine.LogicalAppID(chi.URLParam(r, "id"))
	if err := h.Engine.Relock(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to relock", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUnlocked returns active reservations.
// GET /api/unlocked
func (h *Handler) ListUnlocked(w http.ResponseWriter, r *http.Request) {
	all := h.Engine.UnlockedApps()
	dtos := make([]UnlockedDTO, 0, len(all))
	for _, u := range all {
		dtos = append(dtos, toUnlockedDTO(u))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRestricted returns the current restricted set.
// GET /api/restricted
func (h *Handler) GetRestricted(w http.ResponseWriter, r *http.Request) {
	ids := h.Engine.RestrictedSet()
	dto := RestrictedSetDTO{Restricted: make([]string, 0, len(ids))}
	for _, id := range ids {
		dto.Restricted = append(dto.Restricted, string(id))
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetReport returns the usage statistics view.
// GET /api/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep := h.Engine.Report()
	dto := ReportDTO{
		Balance:         toBalanceDTO(rep.Balance),
		EarnRatePerHour: rep.EarnRatePerHour.String(),
	}
	for _, s := range rep.Apps {
		dto.Apps = append(dto.Apps, AppSummaryDTO{
			ID:              string(s.LogicalID),
			DisplayName:     s.DisplayName,
			Category:        s.Category.String(),
			TodayMinutes:    s.TodayMinutes,
			LifetimeMinutes: s.LifetimeMinutes,
			AvgDailyMinutes: s.AvgDailyMinutes.String(),
			UsageShare:      s.UsageShare.String(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SYNC HANDLERS
// =============================================================================

// GetSnapshot returns the serializable state for the sync service.
// GET /api/sync/snapshot
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.Engine.Snapshot()

	type snapshotDTO struct {
		TakenAt       string        `json:"taken_at"`
		TotalConsumed int64         `json:"total_consumed"`
		Apps          []AppDTO      `json:"apps"`
		Unlocked      []UnlockedDTO `json:"unlocked"`
	}
	dto := snapshotDTO{
		TakenAt:       snap.TakenAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		TotalConsumed: snap.TotalConsumed,
	}
	for i := range snap.Records {
		dto.Apps = append(dto.Apps, toAppDTO(&snap.Records[i], ""))
	}
	for i := range snap.Unlocked {
		dto.Unlocked = append(dto.Unlocked, toUnlockedDTO(&snap.Unlocked[i]))
	}
	writeJSON(w, http.StatusOK, dto)
}

// ApplyRemoteConfig applies configuration changes from the remote
// device.
// POST /api/sync/config
func (h *Handler) ApplyRemoteConfig(w http.ResponseWriter, r *http.Request) {
	var reqs []RemoteChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	changes := make([]engine.RemoteChange, 0, len(reqs))
	for _, req := range reqs {
		ch := engine.RemoteChange{
			AppID:           engine.LogicalAppID(req.ID),
			PointsPerMinute: req.PointsPerMinute,
			DisplayName:     req.DisplayName,
		}
		if req.Category != nil {
			cat, ok := engine.ParseCategory(*req.Category)
			if !ok {
				writeError(w, http.StatusBadRequest, "category must be learning or reward", nil)
				return
			}
			ch.Category = &cat
		}
		changes = append(changes, ch)
	}

	if err := h.Engine.ApplyRemoteConfig(r.Context(), changes); err != nil {
		writeEngineError(w, "Failed to apply remote config", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error categories to HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownApp):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrInsufficientPoints),
		errors.Is(err, engine.ErrNotUnlocked),
		errors.Is(err, engine.ErrNotReward):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func unwrapReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrUnknownApp):
		return "unknown_app"
	case errors.Is(err, engine.ErrNotUnlocked):
		return "not_unlocked"
	default:
		return "dropped"
	}
}
