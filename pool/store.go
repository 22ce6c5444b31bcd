/*
store.go - Persistence contract consumed by the engine

PURPOSE:
  The engine does not care whether records live in memory, in SQLite, or in
  a remote document store. It needs the operations below, single-record
  atomicity on every write, and a conflict check on unit ids.

COLLECTIONS:
  entries: ledger entries, keyed by EntryID
  units:   purchased units, keyed by UnitID

CONFLICT DETECTION:
  InsertUnit is a conditional write. It succeeds only if unit.ID equals the
  store's current max id + 1 at the moment the write is applied, and fails
  with *SequenceError otherwise. An implementation may detect the conflict
  early (pessimistic) or at commit (optimistic); the engine retries either
  way.

ATOMIC PURCHASE:
  TxStore.WithTx runs fn against a transactional view. If fn or the commit
  returns an error, nothing written through the view is visible afterwards.

IMPLEMENTATIONS:
  - pool/store/memory.go: optimistic, in-memory
  - store/sqlite/sqlite.go: pessimistic, SQLite

SEE ALSO:
  - purchase.go: The only caller of WithTx
*/
package pool

import "context"

// Collection names a record set in the store.
type Collection string

const (
	CollectionEntries Collection = "entries"
	CollectionUnits   Collection = "units"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the record-level persistence contract.
type Store interface {
	// AppendEntry persists an entry whose ID is already assigned.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// GetEntry returns *NotFoundError if id is absent.
	GetEntry(ctx context.Context, id EntryID) (LedgerEntry, error)

	// DeleteEntry returns *NotFoundError if id is absent.
	DeleteEntry(ctx context.Context, id EntryID) error

	// LoadEntries returns every entry, in no particular order.
	LoadEntries(ctx context.Context) (Entries, error)

	// InsertUnit is the conditional write described above.
	InsertUnit(ctx context.Context, u Unit) error

	// GetUnit returns *NotFoundError if id is absent.
	GetUnit(ctx context.Context, id UnitID) (Unit, error)

	// LoadUnits returns every unit ordered by id.
	LoadUnits(ctx context.Context) (Units, error)
}

// TxStore adds all-or-nothing execution across several writes.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SNAPSHOTS AND SUBSCRIPTIONS
// =============================================================================

// Snapshot is a single point-in-time view of both collections.
//
// Version counts committed writes. Stores stamp it while holding the lock
// that orders their commits, so a higher Version is always a later state.
type Snapshot struct {
	Entries Entries
	Units   Units
	Version uint64
}

// Snapshotter reads both collections consistently.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Subscriber delivers the full current snapshot after every change to the
// named collection. A subscriber never receives a snapshot older than one
// it has already seen; pushes that lose a race to a newer commit are
// dropped. Calls to one fn are serialized, so fn must not write to the
// store. The returned func cancels the subscription.
type Subscriber interface {
	Subscribe(collection Collection, fn func(Snapshot)) (cancel func())
}

// Backend is what the engine needs from a store.
type Backend interface {
	TxStore
	Snapshotter
}
