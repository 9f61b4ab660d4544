/*
errors.go - Centralized error types for the rewards engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  There are no fatal errors in this core: every failure mode degrades
  to "event dropped, state unchanged" rather than corrupting the
  ledger.

ERROR CATEGORIES:
  1. Event errors - Rejections from the validator (logged, not
     surfaced, never retried)
  2. Ledger errors - Business rule violations (surfaced to callers)
  3. Persistence errors - Write failures (retryable; events are
     idempotent by (appID, thresholdIndex))

USAGE:
  if errors.Is(err, engine.ErrInsufficientPoints) {
      // surface to the user as an actionable refusal
  }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidEvent is returned when the validator rejects a raw
	// threshold event. Logged, never surfaced to the user, never
	// retried.
	ErrInvalidEvent = errors.New("invalid usage event")

	// ErrInsufficientPoints is returned when a redeem request exceeds
	// the available balance. User-actionable.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrUnknownApp is returned when an event or request references an
	// app with no record. Indicates an upstream resolution failure,
	// not a ledger fault; logged and dropped.
	ErrUnknownApp = errors.New("unknown app")

	// ErrNotUnlocked is returned by consume/relock when the reward app
	// holds no reservation.
	ErrNotUnlocked = errors.New("reward app is not unlocked")

	// ErrNotReward is returned when a reward-only operation targets a
	// learning app.
	ErrNotReward = errors.New("app is not a reward app")

	// ErrPersistenceFailure is returned when a write did not durably
	// complete. The in-memory ledger is left unchanged; the caller may
	// retry the same idempotent event.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RejectReason classifies why the validator refused an event.
type RejectReason string

const (
	RejectDuplicate   RejectReason = "duplicate"
	RejectRate        RejectReason = "rate"
	RejectCascade     RejectReason = "cascade"
	RejectGracePeriod RejectReason = "grace_period"
)

// RejectedEventError reports a validator rejection with its reason.
type RejectedEventError struct {
	AppID          LogicalAppID
	ThresholdIndex int
	Reason         RejectReason
}

func (e *RejectedEventError) Error() string {
	return fmt.Sprintf("event rejected (%s): app=%s index=%d", e.Reason, e.AppID, e.ThresholdIndex)
}

func (e *RejectedEventError) Unwrap() error { return ErrInvalidEvent }

// InsufficientPointsError provides details about a balance shortage.
type InsufficientPointsError struct {
	AppID     LogicalAppID
	Available int64
	Requested int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// PersistenceError wraps a store failure with the failed key.
type PersistenceError struct {
	Key LogicalAppID
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistenceFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-delivering the same event might
// succeed. Only persistence failures qualify: re-application of an
// already-applied event is caught by the duplicate filter.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}

// IsClientError returns true if the error is due to invalid caller
// input rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrNotUnlocked) ||
		errors.Is(err, ErrNotReward) ||
		errors.Is(err, ErrUnknownApp)
}
