/*
validator.go - Usage-event validation

PURPOSE:
  Filters the raw threshold-event stream down to at most one event per
  minute of real usage. The monitoring platform has a documented
  defect: when monitoring restarts, every historical threshold for an
  app fires in a single burst, delivering 10-60x the real usage. The
  validator must reject that burst while accepting every legitimate
  minute.

FILTERS (all must pass):
  1. Duplicate: the same (app, index) pair was already accepted within
     DuplicateWindow - the platform redelivers identical notifications.
  2. Rate: less than MinEventInterval since the last ACCEPTED event
     for the app. The floor sits below the nominal period (55s vs 60s)
     because the platform timer fires with up to ~5s of jitter; an
     exact 60s cutoff falsely rejects a 59.94s firing.
  3. Cascade: CascadeLimit or more attempts (accepted or not) for the
     app within CascadeWindow - the restart burst lands here.
  4. Grace: within GracePeriod after a monitoring (re)start, reject
     everything. Phantom events arrive within hundreds of milliseconds
     of restart; a real minute cannot fire that fast.

TIMING:
  All checks are wall-clock comparisons against stored timestamps via
  the injected Clock. No timers, no scheduled callbacks.

CONCURRENCY:
  Not self-locking. The engine serializes calls per app; the grace
  deadline is the only cross-app state and is guarded by the engine's
  global section.
*/
package engine

import "time"

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator holds the per-app acceptance history needed by the four
// filters. State is in-memory only: after a process restart the
// monitoring collaborator restarts too, and the grace period covers
// the gap.
type Validator struct {
	cfg   Config
	clock Clock

	graceUntil time.Time

	lastAccepted map[LogicalAppID]time.Time
	acceptedIdx  map[dupKey]time.Time
	attempts     map[LogicalAppID][]time.Time
}

type dupKey struct {
	AppID LogicalAppID
	Index int
}

func NewValidator(cfg Config, clock Clock) *Validator {
	v := &Validator{
		cfg:          cfg,
		clock:        clock,
		lastAccepted: make(map[LogicalAppID]time.Time),
		acceptedIdx:  make(map[dupKey]time.Time),
		attempts:     make(map[LogicalAppID][]time.Time),
	}
	// A fresh validator behaves as if monitoring just started: the
	// first GracePeriod of events is untrusted.
	v.MonitoringStarted()
	return v
}

// MonitoringStarted resets the grace clock. Called on every
// monitoring (re)start signal from the collaborator.
func (v *Validator) MonitoringStarted() {
	v.graceUntil = v.clock.Now().Add(v.cfg.GracePeriod)
}

// Check runs all filters against one raw event without recording an
// acceptance. A nil error means the event may be applied; the caller
// calls Accept once the resulting ledger mutation has persisted.
//
// The split matters for persistence failures: if the write fails, the
// acceptance is never recorded and a retry of the same event passes
// the duplicate filter instead of silently losing the minute.
func (v *Validator) Check(ev ThresholdEvent) error {
	now := v.clock.Now()

	// Grace filter first: during the window nothing is trusted, and
	// rejected phantoms must not pollute the per-app attempt history.
	if now.Before(v.graceUntil) {
		return &RejectedEventError{AppID: ev.AppID, ThresholdIndex: ev.ThresholdIndex, Reason: RejectGracePeriod}
	}

	// Cascade filter counts every attempt, accepted or not, so the
	// restart burst trips it even when the rate filter already
	// rejected the stragglers.
	attempts := v.pruneAttempts(ev.AppID, now)
	v.attempts[ev.AppID] = append(attempts, now)
	if len(attempts)+1 >= v.cfg.CascadeLimit {
		return &RejectedEventError{AppID: ev.AppID, ThresholdIndex: ev.ThresholdIndex, Reason: RejectCascade}
	}

	// Duplicate filter: identical (app, index) redelivered within the
	// window credits nothing.
	k := dupKey{AppID: ev.AppID, Index: ev.ThresholdIndex}
	if seen, ok := v.acceptedIdx[k]; ok && now.Sub(seen) < v.cfg.DuplicateWindow {
		return &RejectedEventError{AppID: ev.AppID, ThresholdIndex: ev.ThresholdIndex, Reason: RejectDuplicate}
	}

	// Rate filter: a real minute threshold cannot fire faster than
	// the monitoring period, minus jitter allowance.
	if last, ok := v.lastAccepted[ev.AppID]; ok && now.Sub(last) < v.cfg.MinEventInterval {
		return &RejectedEventError{AppID: ev.AppID, ThresholdIndex: ev.ThresholdIndex, Reason: RejectRate}
	}

	return nil
}

// Accept records a checked event as accepted, arming the duplicate
// and rate filters against redelivery.
func (v *Validator) Accept(ev ThresholdEvent) {
	now := v.clock.Now()
	v.lastAccepted[ev.AppID] = now
	v.acceptedIdx[dupKey{AppID: ev.AppID, Index: ev.ThresholdIndex}] = now
	v.gcAccepted(now)
}

// Validate is Check followed by Accept. Convenience for callers that
// have no persistence step between the two.
func (v *Validator) Validate(ev ThresholdEvent) error {
	if err := v.Check(ev); err != nil {
		return err
	}
	v.Accept(ev)
	return nil
}

// pruneAttempts drops attempt timestamps older than CascadeWindow and
// returns the surviving slice.
func (v *Validator) pruneAttempts(appID LogicalAppID, now time.Time) []time.Time {
	in := v.attempts[appID]
	out := in[:0]
	for _, t := range in {
		if now.Sub(t) < v.cfg.CascadeWindow {
			out = append(out, t)
		}
	}
	return out
}

// gcAccepted evicts expired duplicate-filter entries so the map stays
// bounded by recent activity rather than lifetime event count.
func (v *Validator) gcAccepted(now time.Time) {
	if len(v.acceptedIdx) < 1024 {
		return
	}
	for k, t := range v.acceptedIdx {
		if now.Sub(t) >= v.cfg.DuplicateWindow {
			delete(v.acceptedIdx, k)
		}
	}
}
