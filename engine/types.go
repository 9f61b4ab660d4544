/*
Package engine implements the screen-time rewards core: event
validation, the points ledger, the reward unlock state machine, and
daily rollover.

PURPOSE:
  Converts an unreliable stream of minute-threshold notifications from
  a platform usage monitor into an exact points economy. Learning apps
  earn points per minute of foreground use; reward apps spend reserved
  points per minute and are restricted (blocked) whenever they hold no
  reservation.

KEY CONCEPTS IN THIS FILE (types.go):
  - LogicalAppID: stable content-derived app identifier (storage key)
  - Category: closed enum {Learning, Reward}
  - AppRecord: per-app counters (lifetime, today, bounded history)
  - UnlockedRewardApp: an active reservation against a reward app
  - ThresholdEvent: one raw minute-crossing notification
  - Config: tuning constants for the validator and rollover

DESIGN PRINCIPLES:
  1. Integer arithmetic: points and seconds are int64, minutes floor.
  2. Closed categories: reservation state exists only on
     UnlockedRewardApp, never on AppRecord, so a Learning app cannot
     hold reserved points.
  3. Type safety: LogicalAppID and AppRef are distinct types; the
     opaque platform reference is never a storage key.

SEE ALSO:
  - validator.go: filters raw events down to real minutes
  - ledger.go: credit/redeem/consume/relock arithmetic
  - unlock.go: Locked/Unlocked transitions and the restricted set
  - rollover.go: today-vs-lifetime counter maintenance
*/
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AppRef is the opaque platform application reference as delivered by
// the monitoring collaborator. It is only stable within a process
// lifetime and must never be persisted.
type AppRef string

// LogicalAppID is the stable, content-derived identifier used as the
// primary key everywhere: storage, ledger, restricted set.
type LogicalAppID string

// ResolveAppID derives the LogicalAppID for an opaque reference.
// The hash is content-based so the same app resolves to the same ID
// across process restarts, unlike the platform's in-process identity.
func ResolveAppID(ref AppRef) LogicalAppID {
	sum := sha256.Sum256([]byte(ref))
	return LogicalAppID(hex.EncodeToString(sum[:16]))
}

// =============================================================================
// CATEGORY - Closed enum, no string-keyed dispatch
// =============================================================================

type Category int

const (
	CategoryLearning Category = iota
	CategoryReward
)

func (c Category) String() string {
	switch c {
	case CategoryLearning:
		return "learning"
	case CategoryReward:
		return "reward"
	default:
		return "unknown"
	}
}

// ParseCategory maps a wire/storage string back to a Category.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "learning":
		return CategoryLearning, true
	case "reward":
		return CategoryReward, true
	default:
		return 0, false
	}
}

// =============================================================================
// APP RECORD - Per-app counters
// =============================================================================

// DailyTotal is one archived day of usage for an app.
type DailyTotal struct {
	Date    string // YYYY-MM-DD, local calendar day
	Seconds int64
	Points  int64
}

// AppRecord holds all persisted state for one monitored application.
//
// INVARIANTS:
//   - LifetimeSeconds >= TodaySeconds, LifetimePoints >= TodayPoints
//   - Lifetime counters are monotonically non-decreasing, never reset
//   - Today counters are valid only for LastResetDate; a stale date
//     means a missed midnight and triggers a lazy rollover before the
//     next write (rollover.go)
type AppRecord struct {
	LogicalID       LogicalAppID
	DisplayName     string
	Category        Category
	PointsPerMinute int64 // earn rate for Learning, spend rate for Reward

	LifetimeSeconds int64
	LifetimePoints  int64
	TodaySeconds    int64
	TodayPoints     int64

	DailyHistory  []DailyTotal // append-only, bounded, oldest first
	LastResetDate string       // YYYY-MM-DD
}

// Clone returns a deep copy. Mutations are applied to a clone and
// swapped in only after the store write succeeds, so a persistence
// failure leaves in-memory state untouched.
func (r *AppRecord) Clone() *AppRecord {
	cp := *r
	cp.DailyHistory = append([]DailyTotal(nil), r.DailyHistory...)
	return &cp
}

// =============================================================================
// UNLOCKED REWARD APP - Active reservation
// =============================================================================

// UnlockedRewardApp exists only while a reward app is unlocked.
// Created by redeem, destroyed by relock (manual) or exhaustion (auto).
type UnlockedRewardApp struct {
	LogicalID       LogicalAppID
	ReservedPoints  int64
	PointsPerMinute int64
	UnlockedAt      time.Time
}

// RemainingMinutes is floor division; partial minutes never round up.
func (u *UnlockedRewardApp) RemainingMinutes() int64 {
	if u.PointsPerMinute <= 0 {
		return 0
	}
	return u.ReservedPoints / u.PointsPerMinute
}

func (u *UnlockedRewardApp) IsExhausted() bool { return u.ReservedPoints <= 0 }

func (u *UnlockedRewardApp) Clone() *UnlockedRewardApp {
	cp := *u
	return &cp
}

// =============================================================================
// THRESHOLD EVENT - Raw input from the monitoring collaborator
// =============================================================================

// ThresholdEvent is one minute-crossing notification. ThresholdIndex
// is the minute counter the monitor claims to have reached; together
// with the app ID it forms the event's idempotency key.
type ThresholdEvent struct {
	AppID          LogicalAppID
	ThresholdIndex int
	FiredAt        time.Time
}

// =============================================================================
// CONFIG - Validator and rollover tuning
// =============================================================================

// Config carries the empirically tuned constants. The defaults were
// calibrated against one platform's observed timer jitter; treat them
// as configuration and re-validate against the target monitor.
type Config struct {
	// MonitoringPeriod is the credit granted per accepted event. The
	// engine never credits a wall-clock delta, only this fixed amount.
	MonitoringPeriod time.Duration

	// MinEventInterval is the floor between two accepted events for
	// the same app. Set below MonitoringPeriod to absorb legitimate
	// timer jitter (a nominal 60s period firing at 59.94s).
	MinEventInterval time.Duration

	// DuplicateWindow is how long an accepted (app, index) pair
	// rejects redelivery of the identical notification.
	DuplicateWindow time.Duration

	// CascadeWindow / CascadeLimit reject the burst of historical
	// thresholds that fires when monitoring restarts: at most
	// CascadeLimit-1 attempts per app within the window pass.
	CascadeWindow time.Duration
	CascadeLimit  int

	// GracePeriod rejects all events for all apps after a monitoring
	// (re)start. Phantom historical events arrive within hundreds of
	// milliseconds of restart; a real minute cannot fire that fast.
	GracePeriod time.Duration

	// HistoryCap bounds DailyHistory; oldest entries evict first.
	HistoryCap int

	// Location is the timezone for calendar-day rollover.
	Location *time.Location
}

// DefaultConfig returns the recommended tuning.
func DefaultConfig() Config {
	return Config{
		MonitoringPeriod: 60 * time.Second,
		MinEventInterval: 55 * time.Second,
		DuplicateWindow:  5 * time.Second,
		CascadeWindow:    5 * time.Second,
		CascadeLimit:     3,
		GracePeriod:      30 * time.Second,
		HistoryCap:       30,
		Location:         time.Local,
	}
}

// DayOf formats t as the local calendar day used for rollover keys.
func (c Config) DayOf(t time.Time) string {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}

// =============================================================================
// LEDGER AGGREGATE - Derived balance view
// =============================================================================

// BalanceSnapshot is the derived aggregate over the whole ledger.
//
// Available = max(0, TotalEarned - TotalReserved - TotalConsumed).
// Consumption moves points from reserved to consumed in one step, so
// Available is stable while a reward app is actively being used.
type BalanceSnapshot struct {
	TotalEarned   int64
	TotalReserved int64
	TotalConsumed int64
}

func (b BalanceSnapshot) Available() int64 {
	v := b.TotalEarned - b.TotalReserved - b.TotalConsumed
	if v < 0 {
		return 0
	}
	return v
}
