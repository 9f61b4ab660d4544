/*
engine.go - Engine orchestration

PURPOSE:
  Wires the validator, ledger, unlock state machine, rollover, and
  persistence into one object driven by push-style notifications from
  the monitoring collaborator. No polling loop, no singletons: every
  collaborator (store, restriction sink, sync feed, clock) is
  injected, so tests substitute fakes and run deterministically.

CONCURRENCY:
  One mutex serializes every mutation. Conceptually this is a
  single-writer actor: two notifications for the same app can arrive
  in overlapping handler invocations from the host runtime, and
  aggregate/restricted-set updates must never interleave. At an event
  rate of roughly one per minute per app a single lock is the whole
  answer; there is nothing here worth sharding.

WRITE-THROUGH:
  Every mutation is applied to clones, persisted, and only then
  committed to the in-memory ledger. A failed write surfaces
  ErrPersistenceFailure with memory unchanged; the same event can be
  redelivered safely because the validator records acceptance only
  after the persist succeeds.

WRITE ORDERING (consume path):
  consumed counter, then reservation, then record. If a crash lands
  between writes, the surviving state over-counts consumption - the
  conservative direction. Under-counting would mint free points.
*/
package engine

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the screen-time rewards core. Construct with New; the
// zero value is not usable.
type Engine struct {
	cfg   Config
	clock Clock
	store Store
	sink  RestrictionSink
	feed  SyncFeed

	mu        sync.Mutex
	validator *Validator
	ledger    *Ledger

	// refs maps logical IDs back to the opaque platform references
	// needed by the restriction sink. Platform references are not
	// serializable, so this table is rebuilt from enrollment and
	// monitoring callbacks after every process start.
	refs map[LogicalAppID]AppRef
}

// Options carries optional collaborators for New. Nil fields get
// no-op or system defaults.
type Options struct {
	Sink  RestrictionSink
	Feed  SyncFeed
	Clock Clock
}

// New loads persisted state and returns a ready engine.
func New(ctx context.Context, cfg Config, store Store, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Sink == nil {
		opts.Sink = NopRestrictionSink{}
	}
	if opts.Feed == nil {
		opts.Feed = NopSyncFeed{}
	}

	e := &Engine{
		cfg:       cfg,
		clock:     opts.Clock,
		store:     store,
		sink:      opts.Sink,
		feed:      opts.Feed,
		validator: NewValidator(cfg, opts.Clock),
		ledger:    NewLedger(),
		refs:      make(map[LogicalAppID]AppRef),
	}

	records, err := store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for _, r := range records {
		e.ledger.PutRecord(r)
	}

	unlocked, err := store.ListUnlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	for _, u := range unlocked {
		e.ledger.PutUnlocked(u)
	}

	consumed, err := store.LoadConsumed(ctx)
	if err != nil {
		return nil, fmt.Errorf("load consumed counter: %w", err)
	}
	e.ledger.SetConsumed(consumed)

	return e, nil
}

// =============================================================================
// MONITORING CALLBACKS (inbound)
// =============================================================================

// MonitoringStarted resets the grace-period clock. The monitoring
// collaborator signals this on every (re)start; phantom historical
// events arrive within the window and are rejected wholesale.
func (e *Engine) MonitoringStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validator.MonitoringStarted()
}

// HandleThreshold processes one raw threshold crossing. The opaque
// reference is resolved to a logical ID before any validation.
//
// Accepted learning events credit exactly one monitoring period at
// the app's current rate. Accepted reward events consume from the
// app's reservation and auto-lock on exhaustion.
func (e *Engine) HandleThreshold(ctx context.Context, ref AppRef, thresholdIndex int) error {
	id := ResolveAppID(ref)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.refs[id] = ref

	ev := ThresholdEvent{AppID: id, ThresholdIndex: thresholdIndex, FiredAt: e.clock.Now()}
	if err := e.validator.Check(ev); err != nil {
		return err
	}

	rec := e.ledger.Record(id)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}

	switch rec.Category {
	case CategoryLearning:
		if err := e.creditLearningLocked(ctx, rec); err != nil {
			return err
		}
	case CategoryReward:
		if err := e.consumeRewardLocked(ctx, rec); err != nil {
			return err
		}
	}

	e.validator.Accept(ev)
	e.publishLocked(ctx)
	return nil
}

// creditLearningLocked applies one accepted minute to a learning app.
func (e *Engine) creditLearningLocked(ctx context.Context, rec *AppRecord) error {
	next := rec.Clone()
	rolloverIfStale(next, e.cfg.DayOf(e.clock.Now()), e.cfg.HistoryCap)
	applyLearningCredit(next, int64(e.cfg.MonitoringPeriod.Seconds()))

	if err := e.store.SaveRecord(ctx, next); err != nil {
		return &PersistenceError{Key: next.LogicalID, Op: "save record", Err: err}
	}
	e.ledger.PutRecord(next)
	return nil
}

// consumeRewardLocked applies one accepted minute against a reward
// reservation, auto-locking when the reservation drains to zero.
func (e *Engine) consumeRewardLocked(ctx context.Context, rec *AppRecord) error {
	res := e.ledger.Unlocked(rec.LogicalID)
	if res == nil {
		// A minute on a locked reward app means the restriction
		// collaborator let it through; there is nothing to debit and
		// crediting usage would corrupt the economy. Drop it.
		return fmt.Errorf("%w: %s", ErrNotUnlocked, rec.LogicalID)
	}

	nextRes := res.Clone()
	moved, exhausted := applyConsumption(nextRes)

	nextRec := rec.Clone()
	rolloverIfStale(nextRec, e.cfg.DayOf(e.clock.Now()), e.cfg.HistoryCap)
	applyRewardUsage(nextRec, int64(e.cfg.MonitoringPeriod.Seconds()), moved)

	// Consumed counter first: see write-ordering note in the header.
	newConsumed := e.ledger.Consumed() + moved
	if err := e.store.SaveConsumed(ctx, newConsumed); err != nil {
		return &PersistenceError{Key: rec.LogicalID, Op: "save consumed", Err: err}
	}
	if exhausted {
		if err := e.store.DeleteUnlocked(ctx, rec.LogicalID); err != nil {
			return &PersistenceError{Key: rec.LogicalID, Op: "delete reservation", Err: err}
		}
	} else {
		if err := e.store.SaveUnlocked(ctx, nextRes); err != nil {
			return &PersistenceError{Key: rec.LogicalID, Op: "save reservation", Err: err}
		}
	}
	if err := e.store.SaveRecord(ctx, nextRec); err != nil {
		return &PersistenceError{Key: rec.LogicalID, Op: "save record", Err: err}
	}

	e.ledger.SetConsumed(newConsumed)
	e.ledger.PutRecord(nextRec)
	if exhausted {
		// Auto-lock: Unlocked -> Locked with nothing left to return.
		e.ledger.DropUnlocked(rec.LogicalID)
		e.applyRestrictionsLocked(ctx)
	} else {
		e.ledger.PutUnlocked(nextRes)
	}
	return nil
}

// =============================================================================
// USER OPERATIONS
// =============================================================================

// Redeem exchanges available points for minutes on a reward app,
// creating or extending its reservation and lifting the restriction.
func (e *Engine) Redeem(ctx context.Context, id LogicalAppID, minutes int64) (*UnlockedRewardApp, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", ErrInsufficientPoints)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.ledger.Record(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}
	if rec.Category != CategoryReward {
		return nil, fmt.Errorf("%w: %s", ErrNotReward, id)
	}

	cost := minutes * rec.PointsPerMinute
	if avail := e.ledger.Available(); cost > avail {
		return nil, &InsufficientPointsError{AppID: id, Available: avail, Requested: cost}
	}

	var next *UnlockedRewardApp
	wasLocked := false
	if cur := e.ledger.Unlocked(id); cur != nil {
		next = cur.Clone()
	} else {
		wasLocked = true
		next = &UnlockedRewardApp{
			LogicalID:       id,
			PointsPerMinute: rec.PointsPerMinute,
			UnlockedAt:      e.clock.Now(),
		}
	}
	extendReservation(next, cost)

	if err := e.store.SaveUnlocked(ctx, next); err != nil {
		return nil, &PersistenceError{Key: id, Op: "save reservation", Err: err}
	}
	e.ledger.PutUnlocked(next)

	if wasLocked {
		// Locked -> Unlocked: drop the app from the restricted set.
		e.applyRestrictionsLocked(ctx)
	}
	e.publishLocked(ctx)
	return next.Clone(), nil
}

// Relock manually re-locks a reward app. The unused remainder returns
// to the available pool purely through the aggregate: removing the
// reservation reduces TotalReserved by exactly the remainder. No
// additive credit happens anywhere.
func (e *Engine) Relock(ctx context.Context, id LogicalAppID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.Unlocked(id) == nil {
		return fmt.Errorf("%w: %s", ErrNotUnlocked, id)
	}

	if err := e.store.DeleteUnlocked(ctx, id); err != nil {
		return &PersistenceError{Key: id, Op: "delete reservation", Err: err}
	}
	e.ledger.DropUnlocked(id)
	e.applyRestrictionsLocked(ctx)
	e.publishLocked(ctx)
	return nil
}

// =============================================================================
// APP ENROLLMENT AND CONFIGURATION
// =============================================================================

// AppSpec describes an app to enroll or update.
type AppSpec struct {
	Ref             AppRef
	DisplayName     string
	Category        Category
	PointsPerMinute int64
}

// UpsertApp enrolls a new monitored app or updates an existing one's
// display name and rate. Counters are preserved across updates.
func (e *Engine) UpsertApp(ctx context.Context, spec AppSpec) (*AppRecord, error) {
	id := ResolveAppID(spec.Ref)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.refs[id] = spec.Ref

	var next *AppRecord
	if cur := e.ledger.Record(id); cur != nil {
		next = cur.Clone()
		next.DisplayName = spec.DisplayName
		next.Category = spec.Category
		next.PointsPerMinute = spec.PointsPerMinute
	} else {
		next = &AppRecord{
			LogicalID:       id,
			DisplayName:     spec.DisplayName,
			Category:        spec.Category,
			PointsPerMinute: spec.PointsPerMinute,
			LastResetDate:   e.cfg.DayOf(e.clock.Now()),
		}
	}

	if err := e.store.SaveRecord(ctx, next); err != nil {
		return nil, &PersistenceError{Key: id, Op: "save record", Err: err}
	}
	e.ledger.PutRecord(next)

	// Category changes and fresh reward enrollments both change the
	// reward-category set, so the full restricted set is re-derived.
	if next.Category == CategoryReward || e.ledger.Unlocked(id) != nil {
		if next.Category != CategoryReward {
			// Reassigned reward -> learning: the reservation is void.
			if err := e.store.DeleteUnlocked(ctx, id); err != nil {
				return nil, &PersistenceError{Key: id, Op: "delete reservation", Err: err}
			}
			e.ledger.DropUnlocked(id)
		}
		e.applyRestrictionsLocked(ctx)
	}
	e.publishLocked(ctx)
	return next.Clone(), nil
}

// RemoveApp unenrolls an app entirely.
func (e *Engine) RemoveApp(ctx context.Context, id LogicalAppID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.ledger.Record(id)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}

	if err := e.store.DeleteUnlocked(ctx, id); err != nil {
		return &PersistenceError{Key: id, Op: "delete reservation", Err: err}
	}
	if err := e.store.DeleteRecord(ctx, id); err != nil {
		return &PersistenceError{Key: id, Op: "delete record", Err: err}
	}
	e.ledger.DropUnlocked(id)
	e.ledger.DropRecord(id)
	delete(e.refs, id)

	if rec.Category == CategoryReward {
		e.applyRestrictionsLocked(ctx)
	}
	e.publishLocked(ctx)
	return nil
}

// ApplyRemoteConfig applies rate and category changes pushed from the
// remote device. Each affected record is reloaded from the store
// first; the in-memory copy must not be assumed current when the sync
// collaborator has just merged remote state underneath us.
func (e *Engine) ApplyRemoteConfig(ctx context.Context, changes []RemoteChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rewardSetChanged := false
	for _, ch := range changes {
		stored, err := e.store.LoadRecord(ctx, ch.AppID)
		if err != nil {
			return &PersistenceError{Key: ch.AppID, Op: "load record", Err: err}
		}
		if stored == nil {
			return fmt.Errorf("%w: %s", ErrUnknownApp, ch.AppID)
		}

		before := stored.Category
		if ch.PointsPerMinute != nil {
			stored.PointsPerMinute = *ch.PointsPerMinute
		}
		if ch.Category != nil {
			stored.Category = *ch.Category
		}
		if ch.DisplayName != nil {
			stored.DisplayName = *ch.DisplayName
		}

		if err := e.store.SaveRecord(ctx, stored); err != nil {
			return &PersistenceError{Key: ch.AppID, Op: "save record", Err: err}
		}
		e.ledger.PutRecord(stored)

		if stored.Category != before {
			rewardSetChanged = true
			if before == CategoryReward && e.ledger.Unlocked(ch.AppID) != nil {
				if err := e.store.DeleteUnlocked(ctx, ch.AppID); err != nil {
					return &PersistenceError{Key: ch.AppID, Op: "delete reservation", Err: err}
				}
				e.ledger.DropUnlocked(ch.AppID)
			}
		}
	}

	if rewardSetChanged {
		e.applyRestrictionsLocked(ctx)
	}
	e.publishLocked(ctx)
	return nil
}

// DayChanged rolls over every record's today counters. The host wires
// this to the platform's calendar-day-changed signal so counters roll
// even when no usage event arrives after midnight.
func (e *Engine) DayChanged(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	today := e.cfg.DayOf(e.clock.Now())
	for _, rec := range e.ledger.Records() {
		next := rec.Clone()
		if !rolloverIfStale(next, today, e.cfg.HistoryCap) {
			continue
		}
		if err := e.store.SaveRecord(ctx, next); err != nil {
			return &PersistenceError{Key: next.LogicalID, Op: "save record", Err: err}
		}
		e.ledger.PutRecord(next)
	}
	e.publishLocked(ctx)
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Balance returns the current lifetime aggregate.
func (e *Engine) Balance() BalanceSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance()
}

// App returns a copy of one record, or ErrUnknownApp.
func (e *Engine) App(id LogicalAppID) (*AppRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.ledger.Record(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}
	return rec.Clone(), nil
}

// Apps returns copies of all records.
func (e *Engine) Apps() []*AppRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	recs := e.ledger.Records()
	out := make([]*AppRecord, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// Unlocked returns a copy of the active reservation for id, or nil.
func (e *Engine) Unlocked(id LogicalAppID) *UnlockedRewardApp {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u := e.ledger.Unlocked(id); u != nil {
		return u.Clone()
	}
	return nil
}

// UnlockedApps returns copies of all active reservations.
func (e *Engine) UnlockedApps() []*UnlockedRewardApp {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.ledger.UnlockedAll()
	out := make([]*UnlockedRewardApp, len(all))
	for i, u := range all {
		out[i] = u.Clone()
	}
	return out
}

// RestrictedSet returns the authoritative restricted set.
func (e *Engine) RestrictedSet() []LogicalAppID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.RestrictedSet()
}

// Snapshot returns the serializable state for the sync collaborator.
func (e *Engine) Snapshot() SyncSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() SyncSnapshot {
	snap := SyncSnapshot{
		TakenAt:       e.clock.Now(),
		TotalConsumed: e.ledger.Consumed(),
	}
	for _, r := range e.ledger.Records() {
		snap.Records = append(snap.Records, *r.Clone())
	}
	for _, u := range e.ledger.UnlockedAll() {
		snap.Unlocked = append(snap.Unlocked, *u)
	}
	return snap
}

// =============================================================================
// COLLABORATOR PUSHES
// =============================================================================

// applyRestrictionsLocked pushes the complete restricted set to the
// restriction collaborator. Always the full derived set, never a
// delta: pushing a partial list once unblocked every other locked
// reward app, and that bug does not get a second chance.
func (e *Engine) applyRestrictionsLocked(ctx context.Context) {
	ids := e.ledger.RestrictedSet()
	refs := make([]AppRef, 0, len(ids))
	for _, id := range ids {
		if ref, ok := e.refs[id]; ok {
			refs = append(refs, ref)
		}
	}
	// The sink call is idempotent; a failure leaves the collaborator
	// one transition behind and the next transition repushes the full
	// set. The ledger is already durable at this point.
	_ = e.sink.Apply(ctx, refs)
}

// publishLocked hands a snapshot to the sync feed, best effort.
func (e *Engine) publishLocked(ctx context.Context) {
	_ = e.feed.Publish(ctx, e.snapshotLocked())
}
