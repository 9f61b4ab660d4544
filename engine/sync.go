/*
sync.go - Synchronization collaborator boundary

PURPOSE:
  The engine mirrors ledger state between a parent and a child device
  through an external sync service. The core only exposes serializable
  snapshots outbound and accepts configuration changes inbound; the
  transport, conflict resolution, and scheduling live with the
  collaborator. Consistency between devices is eventual, never
  stronger.

INBOUND RULE:
  A remote configuration change (new rate, category reassignment)
  reloads the affected record from the store before applying. An
  already-loaded in-memory rate must never be assumed to reflect a
  just-applied remote change.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// OUTBOUND - Snapshot publication
// =============================================================================

// SyncSnapshot is the serializable record set a sync collaborator
// uploads. Records and reservations are deep copies; the collaborator
// may retain them freely.
type SyncSnapshot struct {
	TakenAt       time.Time
	Records       []AppRecord
	Unlocked      []UnlockedRewardApp
	TotalConsumed int64
}

// SyncFeed receives snapshots after committed mutations. Publication
// is best-effort: a failed upload is dropped and the next mutation
// republishes strictly newer state, which is all an eventually
// consistent mirror needs.
type SyncFeed interface {
	Publish(ctx context.Context, snap SyncSnapshot) error
}

// NopSyncFeed discards snapshots.
type NopSyncFeed struct{}

func (NopSyncFeed) Publish(ctx context.Context, snap SyncSnapshot) error { return nil }

// =============================================================================
// INBOUND - Remote configuration changes
// =============================================================================

// RemoteChange is one app's configuration delta from the remote
// device. Nil fields are left unchanged.
type RemoteChange struct {
	AppID           LogicalAppID
	PointsPerMinute *int64
	Category        *Category
	DisplayName     *string
}
