/*
unlock.go - Reward unlock state machine and the restricted set

PURPOSE:
  A reward app is either Locked (restricted, no reservation) or
  Unlocked (reservation active). The restricted set mirrors the
  Locked side at every observable instant:

      RestrictedSet = {all Reward apps} - {apps with a reservation}

SET-ALGEBRA RULE:
  The restricted set is always recomputed as a union/difference
  relative to the FULL reward-category set, and the COMPLETE resulting
  set is pushed to the restriction collaborator after every
  transition. Pushing deltas, or replacing the collaborator's list
  with a partial one, risks unblocking every other locked reward app
  as a side effect of toggling just one - a regression this codebase
  has already shipped once. There is no other mutation path.

TRANSITIONS:
  Locked   -> Unlocked  redeem (ledger debit via reservation)
  Unlocked -> Locked    manual relock (remainder returns via aggregate)
  Unlocked -> Locked    auto-lock on exhaustion (nothing to return)
*/
package engine

import (
	"context"
	"sort"
)

// =============================================================================
// RESTRICTION SINK - Outbound collaborator
// =============================================================================

// RestrictionSink receives the complete desired restricted set after
// every lock/unlock transition. The call must be idempotent: applying
// the same set twice is a no-op for the collaborator.
type RestrictionSink interface {
	Apply(ctx context.Context, restricted []AppRef) error
}

// NopRestrictionSink discards restriction updates. Used when the
// engine runs without a shielding collaborator (tests, dry runs).
type NopRestrictionSink struct{}

func (NopRestrictionSink) Apply(ctx context.Context, restricted []AppRef) error { return nil }

// =============================================================================
// RESTRICTED SET DERIVATION
// =============================================================================

// RestrictedSet derives the authoritative restricted set from the
// ledger: every reward app minus every app holding a reservation.
// Sorted for deterministic output.
func (l *Ledger) RestrictedSet() []LogicalAppID {
	var out []LogicalAppID
	for id, rec := range l.records {
		if rec.Category != CategoryReward {
			continue
		}
		if _, unlocked := l.unlocked[id]; unlocked {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LockState reports whether a reward app is currently unlocked.
type LockState int

const (
	StateLocked LockState = iota
	StateUnlocked
)

func (s LockState) String() string {
	if s == StateUnlocked {
		return "unlocked"
	}
	return "locked"
}

// State returns the lock state for a reward app.
func (l *Ledger) State(id LogicalAppID) LockState {
	if _, ok := l.unlocked[id]; ok {
		return StateUnlocked
	}
	return StateLocked
}
