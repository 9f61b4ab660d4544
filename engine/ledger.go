/*
ledger.go - Points ledger state and arithmetic

PURPOSE:
  Holds the in-memory ledger (per-app records, active reservations,
  the consumed counter) and the integer arithmetic for every mutation:
  credit, redeem, consume, relock.

AGGREGATE:
  TotalEarned   = sum of Learning apps' lifetime points
  TotalReserved = sum of active reservations' remaining points
  TotalConsumed = persisted monotonic counter
  Available     = max(0, earned - reserved - consumed)

  The single most important property: Available is STABLE while a
  reward app is actively consumed. Consumption decrements reserved and
  increments consumed by the same amount in one step, so the two
  cancel in the formula. The historical implementation got this wrong
  and leaked points on every consumed minute.

RELOCK:
  Returning unused points is a pure side effect of the aggregate:
  removing the reservation reduces TotalReserved, which arithmetically
  restores exactly the remainder to Available. It must NEVER be a
  second additive credit - that double-counts.

NUMERIC POLICY:
  All point/second arithmetic is int64. Minutes floor, never round up.

CONCURRENCY:
  Not self-locking; the engine serializes all access (engine.go).
*/
package engine

// =============================================================================
// LEDGER - In-memory state container
// =============================================================================

// Ledger is the authoritative in-memory view of the points economy.
// The engine keeps it write-through consistent with the Store.
type Ledger struct {
	records  map[LogicalAppID]*AppRecord
	unlocked map[LogicalAppID]*UnlockedRewardApp
	consumed int64
}

func NewLedger() *Ledger {
	return &Ledger{
		records:  make(map[LogicalAppID]*AppRecord),
		unlocked: make(map[LogicalAppID]*UnlockedRewardApp),
	}
}

// =============================================================================
// READS
// =============================================================================

// Record returns the live record for id, or nil. Callers must not
// mutate the result; Clone first.
func (l *Ledger) Record(id LogicalAppID) *AppRecord { return l.records[id] }

// Records returns all records, unordered.
func (l *Ledger) Records() []*AppRecord {
	out := make([]*AppRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	return out
}

// Unlocked returns the active reservation for id, or nil.
func (l *Ledger) Unlocked(id LogicalAppID) *UnlockedRewardApp { return l.unlocked[id] }

// UnlockedAll returns all active reservations, unordered.
func (l *Ledger) UnlockedAll() []*UnlockedRewardApp {
	out := make([]*UnlockedRewardApp, 0, len(l.unlocked))
	for _, u := range l.unlocked {
		out = append(out, u)
	}
	return out
}

// Consumed returns the monotonic total-consumed counter.
func (l *Ledger) Consumed() int64 { return l.consumed }

// Balance computes the lifetime aggregate.
func (l *Ledger) Balance() BalanceSnapshot {
	var b BalanceSnapshot
	for _, r := range l.records {
		if r.Category == CategoryLearning {
			b.TotalEarned += r.LifetimePoints
		}
	}
	for _, u := range l.unlocked {
		b.TotalReserved += u.ReservedPoints
	}
	b.TotalConsumed = l.consumed
	return b
}

// Available is shorthand for Balance().Available().
func (l *Ledger) Available() int64 { return l.Balance().Available() }

// =============================================================================
// COMMITS - Called by the engine after a successful store write
// =============================================================================

func (l *Ledger) PutRecord(rec *AppRecord)         { l.records[rec.LogicalID] = rec }
func (l *Ledger) DropRecord(id LogicalAppID)       { delete(l.records, id) }
func (l *Ledger) PutUnlocked(u *UnlockedRewardApp) { l.unlocked[u.LogicalID] = u }
func (l *Ledger) DropUnlocked(id LogicalAppID)     { delete(l.unlocked, id) }
func (l *Ledger) SetConsumed(total int64)          { l.consumed = total }

// =============================================================================
// MUTATION ARITHMETIC - Applied to clones, committed after persist
// =============================================================================

// applyLearningCredit adds one accepted minute to a learning record.
// The credited amount is the record's CURRENT rate applied to exactly
// one monitoring period. Today's counters are incremented in place,
// never recomputed from history: recomputing would retroactively
// apply a later rate change to already-earned minutes.
func applyLearningCredit(rec *AppRecord, periodSeconds int64) {
	rec.LifetimeSeconds += periodSeconds
	rec.TodaySeconds += periodSeconds
	rec.LifetimePoints += rec.PointsPerMinute
	rec.TodayPoints += rec.PointsPerMinute
}

// applyRewardUsage records one accepted minute against a reward
// record's usage counters. Point movement happens on the reservation,
// not here; the record only tracks seconds and the points actually
// spent for history/stats.
func applyRewardUsage(rec *AppRecord, periodSeconds, spentPoints int64) {
	rec.LifetimeSeconds += periodSeconds
	rec.TodaySeconds += periodSeconds
	rec.LifetimePoints += spentPoints
	rec.TodayPoints += spentPoints
}

// applyConsumption moves one minute's worth of points from reserved
// to consumed. Returns the points moved and whether the reservation
// is exhausted afterwards. The decrement is clamped so a reservation
// holding fewer points than one minute's rate drains to exactly zero
// rather than going negative.
func applyConsumption(u *UnlockedRewardApp) (moved int64, exhausted bool) {
	moved = u.PointsPerMinute
	if moved > u.ReservedPoints {
		moved = u.ReservedPoints
	}
	u.ReservedPoints -= moved
	return moved, u.ReservedPoints <= 0
}

// extendReservation adds redeemed minutes to an existing or fresh
// reservation. cost = minutes * rate is computed by the caller, which
// has already validated it against Available.
func extendReservation(u *UnlockedRewardApp, cost int64) {
	u.ReservedPoints += cost
}
