// Package store provides in-process pool.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kingdom/pool-engine/pool"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps both collections in maps behind one RWMutex.
//
// Transactions are optimistic: WithTx hands fn a private copy of the state
// and records every write. At commit the writes are replayed against the
// live state under the write lock; if any of them no longer holds (a unit
// id already taken, an entry already deleted) the whole transaction is
// discarded and the replay error is returned.
type Memory struct {
	mu       sync.RWMutex
	state    *state
	version  uint64
	notifier *Notifier
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{state: newState(), notifier: NewNotifier()}
}

func (m *Memory) AppendEntry(ctx context.Context, e pool.LedgerEntry) error {
	return m.write(ctx, func(s *state) error { return s.appendEntry(e) }, pool.CollectionEntries)
}

func (m *Memory) DeleteEntry(ctx context.Context, id pool.EntryID) error {
	return m.write(ctx, func(s *state) error { return s.deleteEntry(id) }, pool.CollectionEntries)
}

func (m *Memory) InsertUnit(ctx context.Context, u pool.Unit) error {
	return m.write(ctx, func(s *state) error { return s.insertUnit(u) }, pool.CollectionUnits)
}

func (m *Memory) GetEntry(ctx context.Context, id pool.EntryID) (pool.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return pool.LedgerEntry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getEntry(id)
}

func (m *Memory) GetUnit(ctx context.Context, id pool.UnitID) (pool.Unit, error) {
	if err := ctx.Err(); err != nil {
		return pool.Unit{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getUnit(id)
}

func (m *Memory) LoadEntries(ctx context.Context) (pool.Entries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.entryList(), nil
}

func (m *Memory) LoadUnits(ctx context.Context) (pool.Units, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.unitList(), nil
}

// Snapshot copies both collections under one read lock.
func (m *Memory) Snapshot(ctx context.Context) (pool.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return pool.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(), nil
}

// Subscribe registers fn for changes to collection.
func (m *Memory) Subscribe(collection pool.Collection, fn func(pool.Snapshot)) func() {
	return m.notifier.Subscribe(collection, fn)
}

// Reset drops every record. Used by demo scenarios.
func (m *Memory) Reset(ctx context.Context) error {
	return m.write(ctx, func(s *state) error {
		*s = *newState()
		return nil
	}, pool.CollectionEntries, pool.CollectionUnits)
}

func (m *Memory) write(ctx context.Context, op func(*state) error, changed ...pool.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	err := op(m.state)
	var snap pool.Snapshot
	if err == nil {
		m.version++
		snap = m.snapshotLocked()
	}
	m.mu.Unlock()

	if err == nil {
		m.notifier.Notify(snap, changed...)
	}
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a private view and commits its writes atomically.
func (m *Memory) WithTx(ctx context.Context, fn func(pool.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	view := &txView{state: m.state.clone()}
	m.mu.RUnlock()

	if err := fn(view); err != nil {
		return err
	}
	if len(view.ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	next := m.state.clone()
	for _, op := range view.ops {
		if err := op(next); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.state = next
	m.version++
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notifier.Notify(snap, view.changed()...)
	return nil
}

// snapshotLocked stamps the current state with its version. Callers hold mu.
func (m *Memory) snapshotLocked() pool.Snapshot {
	snap := m.state.snapshot()
	snap.Version = m.version
	return snap
}

type txView struct {
	state   *state
	ops     []func(*state) error
	touched map[pool.Collection]bool
}

func (v *txView) record(c pool.Collection, op func(*state) error) error {
	if err := op(v.state); err != nil {
		return err
	}
	v.ops = append(v.ops, op)
	if v.touched == nil {
		v.touched = make(map[pool.Collection]bool)
	}
	v.touched[c] = true
	return nil
}

func (v *txView) changed() []pool.Collection {
	var out []pool.Collection
	for _, c := range []pool.Collection{pool.CollectionEntries, pool.CollectionUnits} {
		if v.touched[c] {
			out = append(out, c)
		}
	}
	return out
}

func (v *txView) AppendEntry(ctx context.Context, e pool.LedgerEntry) error {
	return v.record(pool.CollectionEntries, func(s *state) error { return s.appendEntry(e) })
}

func (v *txView) DeleteEntry(ctx context.Context, id pool.EntryID) error {
	return v.record(pool.CollectionEntries, func(s *state) error { return s.deleteEntry(id) })
}

func (v *txView) InsertUnit(ctx context.Context, u pool.Unit) error {
	return v.record(pool.CollectionUnits, func(s *state) error { return s.insertUnit(u) })
}

func (v *txView) GetEntry(ctx context.Context, id pool.EntryID) (pool.LedgerEntry, error) {
	return v.state.getEntry(id)
}

func (v *txView) GetUnit(ctx context.Context, id pool.UnitID) (pool.Unit, error) {
	return v.state.getUnit(id)
}

func (v *txView) LoadEntries(ctx context.Context) (pool.Entries, error) {
	return v.state.entryList(), nil
}

func (v *txView) LoadUnits(ctx context.Context) (pool.Units, error) {
	return v.state.unitList(), nil
}

// =============================================================================
// STATE
// =============================================================================

type state struct {
	entries map[pool.EntryID]pool.LedgerEntry
	units   map[pool.UnitID]pool.Unit
	maxUnit pool.UnitID
}

func newState() *state {
	return &state{
		entries: make(map[pool.EntryID]pool.LedgerEntry),
		units:   make(map[pool.UnitID]pool.Unit),
	}
}

func (s *state) clone() *state {
	c := &state{
		entries: make(map[pool.EntryID]pool.LedgerEntry, len(s.entries)),
		units:   make(map[pool.UnitID]pool.Unit, len(s.units)),
		maxUnit: s.maxUnit,
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	return c
}

func (s *state) appendEntry(e pool.LedgerEntry) error {
	if e.ID == "" {
		return &pool.ValidationError{Field: "entry_id", Reason: "required"}
	}
	if _, exists := s.entries[e.ID]; exists {
		return &pool.ValidationError{Field: "entry_id", Reason: "already exists: " + string(e.ID)}
	}
	s.entries[e.ID] = e
	return nil
}

func (s *state) deleteEntry(id pool.EntryID) error {
	if _, ok := s.entries[id]; !ok {
		return &pool.NotFoundError{Collection: pool.CollectionEntries, ID: string(id)}
	}
	delete(s.entries, id)
	return nil
}

func (s *state) insertUnit(u pool.Unit) error {
	if u.ID != s.maxUnit+1 {
		return &pool.SequenceError{Expected: s.maxUnit + 1, Got: u.ID}
	}
	s.units[u.ID] = u
	s.maxUnit = u.ID
	return nil
}

func (s *state) getEntry(id pool.EntryID) (pool.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return pool.LedgerEntry{}, &pool.NotFoundError{Collection: pool.CollectionEntries, ID: string(id)}
	}
	return e, nil
}

func (s *state) getUnit(id pool.UnitID) (pool.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return pool.Unit{}, &pool.NotFoundError{Collection: pool.CollectionUnits, ID: id.String()}
	}
	return u, nil
}

func (s *state) entryList() pool.Entries {
	out := make(pool.Entries, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *state) unitList() pool.Units {
	out := make(pool.Units, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) snapshot() pool.Snapshot {
	return pool.Snapshot{Entries: s.entryList(), Units: s.unitList()}
}
