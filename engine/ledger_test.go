package engine_test

import (
	"testing"
	"time"

	"github.com/warp/screentime-engine/engine"
)

// =============================================================================
// ARITHMETIC EDGES
// =============================================================================

func TestRemainingMinutes_FloorsPartialMinutes(t *testing.T) {
	// GIVEN: 14 reserved points at 5 pts/min
	// THEN: 2 remaining minutes - partial minutes never round up

	u := engine.UnlockedRewardApp{ReservedPoints: 14, PointsPerMinute: 5}
	if got := u.RemainingMinutes(); got != 2 {
		t.Errorf("expected 2 remaining minutes, got %d", got)
	}
}

func TestBalanceSnapshot_AvailableClampsAtZero(t *testing.T) {
	// The formula result can transiently be negative only through a
	// programming error elsewhere; the public value still clamps.

	b := engine.BalanceSnapshot{TotalEarned: 10, TotalReserved: 8, TotalConsumed: 5}
	if got := b.Available(); got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
}

func TestResolveAppID_StableAcrossCalls(t *testing.T) {
	// The logical ID is content-derived: equal refs map to equal IDs,
	// distinct refs to distinct IDs.

	a1 := engine.ResolveAppID("com.example.math-trainer")
	a2 := engine.ResolveAppID("com.example.math-trainer")
	b := engine.ResolveAppID("com.example.arcade")

	if a1 != a2 {
		t.Errorf("same ref must resolve to same ID: %s vs %s", a1, a2)
	}
	if a1 == b {
		t.Error("distinct refs must not collide")
	}
	if a1 == "" {
		t.Error("resolved ID must not be empty")
	}
}

func TestCategory_ParseRoundTrip(t *testing.T) {
	for _, cat := range []engine.Category{engine.CategoryLearning, engine.CategoryReward} {
		parsed, ok := engine.ParseCategory(cat.String())
		if !ok || parsed != cat {
			t.Errorf("round trip failed for %v", cat)
		}
	}
	if _, ok := engine.ParseCategory("bogus"); ok {
		t.Error("expected bogus category to fail parsing")
	}
}

func TestAppRecord_CloneIsDeep(t *testing.T) {
	rec := &engine.AppRecord{
		LogicalID:    "app",
		DailyHistory: []engine.DailyTotal{{Date: "2025-03-09", Seconds: 60, Points: 5}},
	}
	cp := rec.Clone()
	cp.DailyHistory[0].Seconds = 999
	cp.DailyHistory = append(cp.DailyHistory, engine.DailyTotal{Date: "2025-03-10"})

	if rec.DailyHistory[0].Seconds != 60 || len(rec.DailyHistory) != 1 {
		t.Errorf("clone mutated the original: %+v", rec.DailyHistory)
	}
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	c := engine.NewFakeClock(start)
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("advance: expected %v, got %v", start.Add(90*time.Second), got)
	}
	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("set: expected %v, got %v", start, got)
	}
}
