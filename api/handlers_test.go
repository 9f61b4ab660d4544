/*
handlers_test.go - HTTP API tests

Tests for:
- App enrollment and listing
- Event ingestion semantics (accepted, rejected-as-200, unknown app)
- Redeem / relock flow and error status mapping
- Restricted set and snapshot endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/warp/screentime-engine/engine"
	"github.com/warp/screentime-engine/engine/store"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type apiEnv struct {
	router http.Handler
	clock  *engine.FakeClock
	eng    *engine.Engine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.Location = time.UTC
	clock := engine.NewFakeClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	eng, err := engine.New(context.Background(), cfg, store.NewMemory(), engine.Options{Clock: clock})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	clock.Advance(cfg.GracePeriod)

	return &apiEnv{router: NewRouter(NewHandler(eng)), clock: clock, eng: eng}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

// enrollApp registers an app over the API and returns its logical ID.
func (e *apiEnv) enrollApp(t *testing.T, ref, category string, rate int64) string {
	t.Helper()
	rec := e.do(t, "POST", "/api/apps", UpsertAppRequest{
		Ref: ref, DisplayName: ref, Category: category, PointsPerMinute: rate,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Failed to enroll %s: status %d, body %s", ref, rec.Code, rec.Body.String())
	}
	return decode[AppDTO](t, rec).ID
}

// postMinutes sends n accepted threshold events for ref, advancing the
// clock one monitoring period before each.
func (e *apiEnv) postMinutes(t *testing.T, ref string, firstIndex, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.clock.Advance(60 * time.Second)
		rec := e.do(t, "POST", "/api/events", ThresholdEventRequest{
			Ref: ref, ThresholdIndex: firstIndex + i,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Event %d: status %d, body %s", firstIndex+i, rec.Code, rec.Body.String())
		}
		if res := decode[EventResultDTO](t, rec); !res.Accepted {
			t.Fatalf("Event %d rejected: %s", firstIndex+i, res.Reason)
		}
	}
}

// =============================================================================
// APPS
// =============================================================================

func TestAPI_EnrollAndListApps(t *testing.T) {
	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)
	gameID := env.enrollApp(t, "game-app", "reward", 5)

	rec := env.do(t, "GET", "/api/apps", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List apps: status %d", rec.Code)
	}
	apps := decode[[]AppDTO](t, rec)
	if len(apps) != 2 {
		t.Fatalf("Expected 2 apps, got %d", len(apps))
	}
	for _, a := range apps {
		if a.ID == gameID && a.State != "locked" {
			t.Errorf("Expected reward app to start locked, got %q", a.State)
		}
	}
}

func TestAPI_EnrollValidation(t *testing.T) {
	env := newAPIEnv(t)

	cases := []struct {
		name string
		req  UpsertAppRequest
	}{
		{"missing ref", UpsertAppRequest{DisplayName: "X", Category: "learning", PointsPerMinute: 5}},
		{"bad category", UpsertAppRequest{Ref: "a", DisplayName: "X", Category: "fun", PointsPerMinute: 5}},
		{"zero rate", UpsertAppRequest{Ref: "a", DisplayName: "X", Category: "learning", PointsPerMinute: 0}},
	}
	for _, tc := range cases {
		if rec := env.do(t, "POST", "/api/apps", tc.req); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestAPI_GetUnknownAppIs404(t *testing.T) {
	env := newAPIEnv(t)
	if rec := env.do(t, "GET", "/api/apps/deadbeef", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

// =============================================================================
// EVENTS
// =============================================================================

func TestAPI_EventAcceptedEarnsPoints(t *testing.T) {
	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)
	env.postMinutes(t, "math-app", 1, 3)

	rec := env.do(t, "GET", "/api/balance", nil)
	bal := decode[BalanceDTO](t, rec)
	if bal.Available != 15 || bal.TotalEarned != 15 {
		t.Errorf("Expected 15 available/earned, got %+v", bal)
	}
}

func TestAPI_RejectedEventIs200NotError(t *testing.T) {
	// The bridge must never retry a rejected event, so rejections are a
	// 200 with accepted=false rather than an error status.

	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)
	env.postMinutes(t, "math-app", 1, 1)

	// Immediate redelivery of the same threshold.
	rec := env.do(t, "POST", "/api/events", ThresholdEventRequest{Ref: "math-app", ThresholdIndex: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for rejected event, got %d", rec.Code)
	}
	res := decode[EventResultDTO](t, rec)
	if res.Accepted {
		t.Error("Expected duplicate event to be rejected")
	}
	if res.Reason != string(engine.RejectDuplicate) {
		t.Errorf("Expected duplicate reason, got %q", res.Reason)
	}
}

func TestAPI_UnknownAppEventIsDropped(t *testing.T) {
	env := newAPIEnv(t)
	env.clock.Advance(60 * time.Second)

	rec := env.do(t, "POST", "/api/events", ThresholdEventRequest{Ref: "never-enrolled", ThresholdIndex: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for dropped event, got %d", rec.Code)
	}
	res := decode[EventResultDTO](t, rec)
	if res.Accepted || res.Reason != "unknown_app" {
		t.Errorf("Expected dropped unknown_app, got %+v", res)
	}
}

func TestAPI_MonitoringRestartedReArmsGrace(t *testing.T) {
	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)

	if rec := env.do(t, "POST", "/api/monitoring/restarted", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	env.clock.Advance(1 * time.Second)

	rec := env.do(t, "POST", "/api/events", ThresholdEventRequest{Ref: "math-app", ThresholdIndex: 1})
	res := decode[EventResultDTO](t, rec)
	if res.Accepted || res.Reason != string(engine.RejectGracePeriod) {
		t.Errorf("Expected grace_period rejection after restart, got %+v", res)
	}
}

// =============================================================================
// REDEEM / RELOCK
// =============================================================================

func TestAPI_RedeemRelockFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)
	gameID := env.enrollApp(t, "game-app", "reward", 5)
	env.postMinutes(t, "math-app", 1, 4) // 20 points

	rec := env.do(t, "POST", fmt.Sprintf("/api/apps/%s/redeem", gameID), RedeemRequest{Minutes: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("Redeem: status %d, body %s", rec.Code, rec.Body.String())
	}
	unlocked := decode[UnlockedDTO](t, rec)
	if unlocked.ReservedPoints != 15 || unlocked.RemainingMinutes != 3 {
		t.Errorf("Expected 15 reserved / 3 minutes, got %+v", unlocked)
	}

	bal := decode[BalanceDTO](t, env.do(t, "GET", "/api/balance", nil))
	if bal.Available != 5 || bal.TotalReserved != 15 {
		t.Errorf("Expected available=5 reserved=15, got %+v", bal)
	}

	// Restricted set no longer contains the unlocked app.
	restricted := decode[RestrictedSetDTO](t, env.do(t, "GET", "/api/restricted", nil))
	for _, id := range restricted.Restricted {
		if id == gameID {
			t.Error("Unlocked app must not appear in the restricted set")
		}
	}

	if rec := env.do(t, "POST", fmt.Sprintf("/api/apps/%s/relock", gameID), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Relock: status %d", rec.Code)
	}
	bal = decode[BalanceDTO](t, env.do(t, "GET", "/api/balance", nil))
	if bal.Available != 20 || bal.TotalReserved != 0 {
		t.Errorf("Expected full refund after relock, got %+v", bal)
	}

	restricted = decode[RestrictedSetDTO](t, env.do(t, "GET", "/api/restricted", nil))
	found := false
	for _, id := range restricted.Restricted {
		if id == gameID {
			found = true
		}
	}
	if !found {
		t.Error("Relocked app must reappear in the restricted set")
	}
}

func TestAPI_RedeemInsufficientPointsIs409(t *testing.T) {
	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)
	gameID := env.enrollApp(t, "game-app", "reward", 5)
	env.postMinutes(t, "math-app", 1, 1) // 5 points

	rec := env.do(t, "POST", fmt.Sprintf("/api/apps/%s/redeem", gameID), RedeemRequest{Minutes: 10})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_RedeemLearningAppIs409(t *testing.T) {
	env := newAPIEnv(t)
	mathID := env.enrollApp(t, "math-app", "learning", 5)
	env.postMinutes(t, "math-app", 1, 4)

	rec := env.do(t, "POST", fmt.Sprintf("/api/apps/%s/redeem", mathID), RedeemRequest{Minutes: 1})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for learning app, got %d", rec.Code)
	}
}

// =============================================================================
// SYNC
// =============================================================================

func TestAPI_SnapshotAndRemoteConfig(t *testing.T) {
	env := newAPIEnv(t)
	mathID := env.enrollApp(t, "math-app", "learning", 5)
	env.postMinutes(t, "math-app", 1, 2)

	rec := env.do(t, "GET", "/api/sync/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Snapshot: status %d", rec.Code)
	}
	var snap struct {
		Apps []AppDTO `json:"apps"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if len(snap.Apps) != 1 || snap.Apps[0].TodayPoints != 10 {
		t.Errorf("Expected snapshot with 10 today points, got %+v", snap.Apps)
	}

	newRate := int64(10)
	rec = env.do(t, "POST", "/api/sync/config", []RemoteChangeRequest{
		{ID: mathID, PointsPerMinute: &newRate},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Remote config: status %d, body %s", rec.Code, rec.Body.String())
	}

	app := decode[AppDTO](t, env.do(t, "GET", "/api/apps/"+mathID, nil))
	if app.PointsPerMinute != 10 {
		t.Errorf("Expected updated rate 10, got %d", app.PointsPerMinute)
	}
	if app.TodayPoints != 10 {
		t.Errorf("Rate change must not reprice earned points: got %d", app.TodayPoints)
	}
}

// =============================================================================
// REPORT
// =============================================================================

func TestAPI_ReportIncludesBalanceAndApps(t *testing.T) {
	env := newAPIEnv(t)
	env.enrollApp(t, "math-app", "learning", 5)
	env.postMinutes(t, "math-app", 1, 3)

	rec := env.do(t, "GET", "/api/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Report: status %d", rec.Code)
	}
	rep := decode[ReportDTO](t, rec)
	if rep.Balance.TotalEarned != 15 {
		t.Errorf("Expected 15 earned in report, got %d", rep.Balance.TotalEarned)
	}
	if len(rep.Apps) != 1 || rep.Apps[0].TodayMinutes != 3 {
		t.Errorf("Expected one app with 3 minutes today, got %+v", rep.Apps)
	}
}
