package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/screentime-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testStart() time.Time {
	return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
}

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

// newReadyValidator returns a validator with the startup grace period
// already elapsed.
func newReadyValidator(t *testing.T) (*engine.Validator, *engine.FakeClock) {
	t.Helper()
	cfg := testConfig()
	clock := engine.NewFakeClock(testStart())
	v := engine.NewValidator(cfg, clock)
	clock.Advance(cfg.GracePeriod)
	return v, clock
}

func ev(app string, index int, at time.Time) engine.ThresholdEvent {
	return engine.ThresholdEvent{AppID: engine.LogicalAppID(app), ThresholdIndex: index, FiredAt: at}
}

func rejectReason(t *testing.T, err error) engine.RejectReason {
	t.Helper()
	var rejected *engine.RejectedEventError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedEventError, got %v", err)
	}
	return rejected.Reason
}

// =============================================================================
// GRACE-PERIOD FILTER
// =============================================================================

func TestValidator_GracePeriod_RejectsEverything(t *testing.T) {
	// GIVEN: A freshly started validator (monitoring just came up)
	// WHEN: Events arrive for several apps within the grace window
	// THEN: All are rejected as grace_period, regardless of app

	cfg := testConfig()
	clock := engine.NewFakeClock(testStart())
	v := engine.NewValidator(cfg, clock)

	clock.Advance(200 * time.Millisecond) // phantoms arrive this fast
	for _, app := range []string{"app-a", "app-b", "app-c"} {
		err := v.Validate(ev(app, 1, clock.Now()))
		if got := rejectReason(t, err); got != engine.RejectGracePeriod {
			t.Errorf("app %s: expected grace_period rejection, got %s", app, got)
		}
	}
}

func TestValidator_GracePeriod_ExpiresAndAccepts(t *testing.T) {
	// GIVEN: A validator past its grace window
	// WHEN: A legitimate event arrives
	// THEN: It is accepted

	v, clock := newReadyValidator(t)
	if err := v.Validate(ev("app-a", 1, clock.Now())); err != nil {
		t.Fatalf("expected acceptance after grace period, got %v", err)
	}
}

func TestValidator_MonitoringRestart_ReArmsGracePeriod(t *testing.T) {
	// GIVEN: A validator that has been running and accepting
	// WHEN: Monitoring restarts and an event arrives immediately
	// THEN: The event is rejected as grace_period again

	v, clock := newReadyValidator(t)
	if err := v.Validate(ev("app-a", 1, clock.Now())); err != nil {
		t.Fatalf("setup: %v", err)
	}

	v.MonitoringStarted()
	clock.Advance(100 * time.Millisecond)

	err := v.Validate(ev("app-a", 2, clock.Now()))
	if got := rejectReason(t, err); got != engine.RejectGracePeriod {
		t.Errorf("expected grace_period after restart, got %s", got)
	}
}

// =============================================================================
// DUPLICATE FILTER
// =============================================================================

func TestValidator_Duplicate_SameIndexWithinWindow(t *testing.T) {
	// GIVEN: An accepted (app, index) pair
	// WHEN: The identical notification is redelivered 2s later
	// THEN: The redelivery is rejected as duplicate

	v, clock := newReadyValidator(t)
	if err := v.Validate(ev("app-a", 7, clock.Now())); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	clock.Advance(2 * time.Second)
	err := v.Validate(ev("app-a", 7, clock.Now()))
	if got := rejectReason(t, err); got != engine.RejectDuplicate {
		t.Errorf("expected duplicate rejection, got %s", got)
	}
}

// =============================================================================
// RATE FILTER
// =============================================================================

func TestValidator_Rate_TooSoonAfterAccepted(t *testing.T) {
	// GIVEN: An accepted event for an app
	// WHEN: Another event for the same app arrives 30s later
	// THEN: It is rejected - a real minute cannot fire that fast

	v, clock := newReadyValidator(t)
	if err := v.Validate(ev("app-a", 1, clock.Now())); err != nil {
		t.Fatalf("first event: %v", err)
	}

	clock.Advance(30 * time.Second)
	err := v.Validate(ev("app-a", 2, clock.Now()))
	if got := rejectReason(t, err); got != engine.RejectRate {
		t.Errorf("expected rate rejection, got %s", got)
	}
}

func TestValidator_Rate_JitterTolerance(t *testing.T) {
	// GIVEN: An accepted event for an app
	// WHEN: The next event fires at 59.95s - the platform timer's
	//       jitter around a nominal 60s period
	// THEN: Both events are accepted

	v, clock := newReadyValidator(t)
	if err := v.Validate(ev("app-a", 1, clock.Now())); err != nil {
		t.Fatalf("first event: %v", err)
	}

	clock.Advance(59950 * time.Millisecond)
	if err := v.Validate(ev("app-a", 2, clock.Now())); err != nil {
		t.Errorf("expected jittered event to be accepted, got %v", err)
	}
}

func TestValidator_Rate_IndependentPerApp(t *testing.T) {
	// GIVEN: An accepted event for app-a
	// WHEN: An event for app-b arrives one second later
	// THEN: app-b is unaffected by app-a's rate window

	v, clock := newReadyValidator(t)
	if err := v.Validate(ev("app-a", 1, clock.Now())); err != nil {
		t.Fatalf("app-a: %v", err)
	}

	clock.Advance(1 * time.Second)
	if err := v.Validate(ev("app-b", 1, clock.Now())); err != nil {
		t.Errorf("expected app-b to be accepted, got %v", err)
	}
}

// =============================================================================
// CASCADE FILTER - The restart-burst defect
// =============================================================================

func TestValidator_Cascade_BurstAcceptsAtMostOne(t *testing.T) {
	// GIVEN: An app with 28 minutes of prior usage whose historical
	//        thresholds all fire within one second (platform defect)
	// WHEN: All 28 events are validated
	// THEN: At most 1 is accepted, 27 are rejected

	v, clock := newReadyValidator(t)

	accepted := 0
	for i := 1; i <= 28; i++ {
		if err := v.Validate(ev("app-a", i, clock.Now())); err == nil {
			accepted++
		}
		clock.Advance(35 * time.Millisecond) // 28 events inside ~1s
	}

	if accepted > 1 {
		t.Errorf("burst of 28 events: expected at most 1 accepted, got %d", accepted)
	}
	if accepted == 0 {
		t.Error("burst of 28 events: expected exactly 1 accepted, got 0")
	}
}

func TestValidator_Cascade_RecoversAfterWindow(t *testing.T) {
	// GIVEN: A burst that tripped the cascade filter
	// WHEN: The cascade window passes and a normal cadence resumes
	// THEN: The next legitimate minute is accepted

	v, clock := newReadyValidator(t)
	for i := 1; i <= 5; i++ {
		v.Validate(ev("app-a", i, clock.Now()))
		clock.Advance(100 * time.Millisecond)
	}

	clock.Advance(60 * time.Second)
	if err := v.Validate(ev("app-a", 6, clock.Now())); err != nil {
		t.Errorf("expected acceptance after burst subsided, got %v", err)
	}
}

// =============================================================================
// CHECK/ACCEPT SPLIT
// =============================================================================

func TestValidator_CheckWithoutAccept_AllowsRetry(t *testing.T) {
	// GIVEN: An event that passed Check but whose ledger write failed,
	//        so Accept was never called
	// WHEN: The same event is redelivered after the cascade window
	// THEN: It passes again instead of being swallowed as a duplicate

	v, clock := newReadyValidator(t)
	e := ev("app-a", 3, clock.Now())
	if err := v.Check(e); err != nil {
		t.Fatalf("first check: %v", err)
	}
	// No Accept: simulates a persistence failure.

	clock.Advance(6 * time.Second)
	if err := v.Check(e); err != nil {
		t.Errorf("expected retry to pass, got %v", err)
	}
}
