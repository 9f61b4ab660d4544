/*
store.go - Persistence interface for app records and reservations

PURPOSE:
  Defines the boundary between the engine and storage. Storage is a
  key-value store keyed by LogicalAppID with whole-record read and
  whole-record write semantics: no partial-field updates are visible
  to the store, so the engine's read-modify-write discipline holds
  regardless of the storage technology.

WRITE-THROUGH CONTRACT:
  The engine persists before acknowledging an event as processed. A
  failed write leaves in-memory state unchanged (mutations happen on a
  clone, swapped in after the write succeeds), so a crash between
  "event accepted" and "counters persisted" cannot silently lose or
  double-count a minute.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - engine/store: in-memory store for testing/dev
*/
package engine

import "context"

// =============================================================================
// STORE - Whole-record key-value persistence
// =============================================================================

// Store persists AppRecords, reward reservations, and the consumed
// counter. All reads return copies the caller may mutate freely.
type Store interface {
	// LoadRecord returns the record for id, or (nil, nil) if absent.
	LoadRecord(ctx context.Context, id LogicalAppID) (*AppRecord, error)

	// SaveRecord writes the whole record, replacing any previous
	// version atomically.
	SaveRecord(ctx context.Context, rec *AppRecord) error

	// DeleteRecord removes a record. Used when an app is unenrolled.
	DeleteRecord(ctx context.Context, id LogicalAppID) error

	// ListRecords returns all records, unordered.
	ListRecords(ctx context.Context) ([]*AppRecord, error)

	// SaveUnlocked writes a reservation, replacing any previous one
	// for the same app.
	SaveUnlocked(ctx context.Context, u *UnlockedRewardApp) error

	// DeleteUnlocked removes a reservation. Deleting an absent
	// reservation is not an error.
	DeleteUnlocked(ctx context.Context, id LogicalAppID) error

	// ListUnlocked returns all active reservations.
	ListUnlocked(ctx context.Context) ([]*UnlockedRewardApp, error)

	// LoadConsumed / SaveConsumed persist the monotonic total-consumed
	// counter. LoadConsumed returns 0 for a fresh store.
	LoadConsumed(ctx context.Context) (int64, error)
	SaveConsumed(ctx context.Context, total int64) error
}
