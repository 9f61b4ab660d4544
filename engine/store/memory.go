// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/screentime-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	records  map[engine.LogicalAppID]*engine.AppRecord
	unlocked map[engine.LogicalAppID]*engine.UnlockedRewardApp
	consumed int64
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[engine.LogicalAppID]*engine.AppRecord),
		unlocked: make(map[engine.LogicalAppID]*engine.UnlockedRewardApp),
	}
}

func (m *Memory) LoadRecord(_ context.Context, id engine.LogicalAppID) (*engine.AppRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *Memory) SaveRecord(_ context.Context, rec *engine.AppRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.LogicalID] = rec.Clone()
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, id engine.LogicalAppID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) ListRecords(_ context.Context) ([]*engine.AppRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.AppRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *Memory) SaveUnlocked(_ context.Context, u *engine.UnlockedRewardApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked[u.LogicalID] = u.Clone()
	return nil
}

func (m *Memory) DeleteUnlocked(_ context.Context, id engine.LogicalAppID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unlocked, id)
	return nil
}

func (m *Memory) ListUnlocked(_ context.Context) ([]*engine.UnlockedRewardApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.UnlockedRewardApp, 0, len(m.unlocked))
	for _, u := range m.unlocked {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (m *Memory) LoadConsumed(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumed, nil
}

func (m *Memory) SaveConsumed(_ context.Context, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed = total
	return nil
}

// Compile-time check.
var _ engine.Store = (*Memory)(nil)

// =============================================================================
// FLAKY STORE - Failure injection wrapper (tests)
// =============================================================================

// Flaky wraps a Store and fails writes while Failing is set. Reads
// always pass through. Used to test that persistence failures leave
// the engine's in-memory state unchanged.
type Flaky struct {
	*Memory
	mu      sync.Mutex
	failing bool
	err     error
}

func NewFlaky(err error) *Flaky {
	return &Flaky{Memory: NewMemory(), err: err}
}

func (f *Flaky) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *Flaky) writeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return f.err
	}
	return nil
}

func (f *Flaky) SaveRecord(ctx context.Context, rec *engine.AppRecord) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	return f.Memory.SaveRecord(ctx, rec)
}

func (f *Flaky) SaveUnlocked(ctx context.Context, u *engine.UnlockedRewardApp) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	return f.Memory.SaveUnlocked(ctx, u)
}

func (f *Flaky) DeleteUnlocked(ctx context.Context, id engine.LogicalAppID) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	return f.Memory.DeleteUnlocked(ctx, id)
}

func (f *Flaky) SaveConsumed(ctx context.Context, total int64) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	return f.Memory.SaveConsumed(ctx, total)
}

var _ engine.Store = (*Flaky)(nil)
