/*
Package sqlite provides a SQLite-backed pool.Backend.

PURPOSE:
  Durable storage for the ledger and the unit registry. Implements
  pool.Store, pool.TxStore, pool.Snapshotter and pool.Subscriber, so the
  engine runs against it unchanged from the in-memory store.

KEY TABLES:
  units:          Unit registry, id is the sequential primary key
  ledger_entries: Append-only ledger (deletes allowed, no updates)

SCHEMA:
  Versioned migrations under migrations/ are embedded and applied by
  golang-migrate on New().

ENCODING:
  Decimal amounts are stored as TEXT (decimal.String) to avoid float
  rounding. Timestamps are RFC3339Nano in UTC.

CONCURRENCY:
  Pessimistic. Writers and WithTx hold the write lock for the duration of
  a SQL transaction, so two purchases are serialized and the second one
  reads the first one's unit. InsertUnit still checks MAX(id) + 1 and the
  primary key backs it up; either failure surfaces as *pool.SequenceError.

  The pool is capped at one connection. ":memory:" databases are
  per-connection, and every statement inside a transaction goes through
  the transaction, never back to the pool.

USAGE:
  store, err := sqlite.New("./data/pool.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := pool.NewEngine(store, cfg)

SEE ALSO:
  - pool/store.go: Interface definitions
  - pool/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/pool/store"
)

// Store implements pool.Backend using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	notifier *store.Notifier
	version  uint

	// commits counts successful write transactions; guarded by mu.
	commits uint64
}

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	version, err := Migrate(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, notifier: store.NewNotifier(), version: version}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion is the migration version the database was left at.
func (s *Store) SchemaVersion() uint {
	return s.version
}

// =============================================================================
// POOL STORE
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e pool.LedgerEntry) error {
	return s.write(ctx, func(q querier) error { return appendEntry(ctx, q, e) }, pool.CollectionEntries)
}

func (s *Store) DeleteEntry(ctx context.Context, id pool.EntryID) error {
	return s.write(ctx, func(q querier) error { return deleteEntry(ctx, q, id) }, pool.CollectionEntries)
}

func (s *Store) InsertUnit(ctx context.Context, u pool.Unit) error {
	return s.write(ctx, func(q querier) error { return insertUnit(ctx, q, u) }, pool.CollectionUnits)
}

func (s *Store) GetEntry(ctx context.Context, id pool.EntryID) (pool.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func (s *Store) GetUnit(ctx context.Context, id pool.UnitID) (pool.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUnit(ctx, s.db, id)
}

func (s *Store) LoadEntries(ctx context.Context) (pool.Entries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEntries(ctx, s.db)
}

func (s *Store) LoadUnits(ctx context.Context) (pool.Units, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadUnits(ctx, s.db)
}

// Snapshot reads both tables inside one read transaction.
func (s *Store) Snapshot(ctx context.Context) (pool.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pool.Snapshot{}, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	entries, err := loadEntries(ctx, tx)
	if err != nil {
		return pool.Snapshot{}, err
	}
	units, err := loadUnits(ctx, tx)
	if err != nil {
		return pool.Snapshot{}, err
	}
	return pool.Snapshot{Entries: entries, Units: units, Version: s.commits}, tx.Commit()
}

// Subscribe registers fn for changes to collection.
func (s *Store) Subscribe(collection pool.Collection, fn func(pool.Snapshot)) func() {
	return s.notifier.Subscribe(collection, fn)
}

// Reset deletes every row. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	return s.write(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM ledger_entries"); err != nil {
			return fmt.Errorf("failed to clear ledger: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM units"); err != nil {
			return fmt.Errorf("failed to clear units: %w", err)
		}
		return nil
	}, pool.CollectionEntries, pool.CollectionUnits)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(pool.Store) error) error {
	view := &txStore{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		view.tx = tx
		return fn(view)
	})
	if err != nil {
		return err
	}
	s.notify(view.changed()...)
	return nil
}

// write runs op in its own transaction under the write lock and pushes the
// committed state to subscribers.
func (s *Store) write(ctx context.Context, op func(querier) error, changed ...pool.Collection) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error { return op(tx) })
	if err != nil {
		return err
	}
	s.notify(changed...)
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.commits++
	return nil
}

func (s *Store) notify(changed ...pool.Collection) {
	if len(changed) == 0 || !s.notifier.Wants(changed...) {
		return
	}
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		return
	}
	s.notifier.Notify(snap, changed...)
}

// txStore is the pool.Store handed to WithTx callbacks. Every call goes
// through the open transaction.
type txStore struct {
	tx      *sql.Tx
	entries bool
	units   bool
}

func (ts *txStore) changed() []pool.Collection {
	var out []pool.Collection
	if ts.entries {
		out = append(out, pool.CollectionEntries)
	}
	if ts.units {
		out = append(out, pool.CollectionUnits)
	}
	return out
}

func (ts *txStore) AppendEntry(ctx context.Context, e pool.LedgerEntry) error {
	if err := appendEntry(ctx, ts.tx, e); err != nil {
		return err
	}
	ts.entries = true
	return nil
}

func (ts *txStore) DeleteEntry(ctx context.Context, id pool.EntryID) error {
	if err := deleteEntry(ctx, ts.tx, id); err != nil {
		return err
	}
	ts.entries = true
	return nil
}

func (ts *txStore) InsertUnit(ctx context.Context, u pool.Unit) error {
	if err := insertUnit(ctx, ts.tx, u); err != nil {
		return err
	}
	ts.units = true
	return nil
}

func (ts *txStore) GetEntry(ctx context.Context, id pool.EntryID) (pool.LedgerEntry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) GetUnit(ctx context.Context, id pool.UnitID) (pool.Unit, error) {
	return getUnit(ctx, ts.tx, id)
}

func (ts *txStore) LoadEntries(ctx context.Context) (pool.Entries, error) {
	return loadEntries(ctx, ts.tx)
}

func (ts *txStore) LoadUnits(ctx context.Context) (pool.Units, error) {
	return loadUnits(ctx, ts.tx)
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = "id, week, amount, actor_id, logged_at, is_holiday, is_purchase, unit_id, note"

const unitColumns = "id, kind, purchase_week, purchased_at, weekly_return, earning_duration, expiry_week, cost, owner_id"

func appendEntry(ctx context.Context, q querier, e pool.LedgerEntry) error {
	if e.ID == "" {
		return &pool.ValidationError{Field: "entry_id", Reason: "required"}
	}
	var unitID sql.NullInt64
	if e.Purchase {
		unitID = sql.NullInt64{Int64: int64(e.UnitID), Valid: true}
	}

	_, err := q.ExecContext(ctx,
		"INSERT INTO ledger_entries ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		string(e.ID), int(e.Week), e.Amount.String(), string(e.Actor),
		e.LoggedAt.UTC().Format(time.RFC3339Nano), e.Holiday, e.Purchase, unitID, e.Note,
	)
	if isConstraintError(err, sqlite3.ErrConstraintPrimaryKey) {
		return &pool.ValidationError{Field: "entry_id", Reason: "already exists: " + string(e.ID)}
	}
	if isConstraintError(err, sqlite3.ErrConstraintUnique) {
		return &pool.ValidationError{Field: "unit_id", Reason: "unit already has a purchase entry"}
	}
	if isConstraintError(err, sqlite3.ErrConstraintForeignKey) {
		return &pool.NotFoundError{Collection: pool.CollectionUnits, ID: e.UnitID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func deleteEntry(ctx context.Context, q querier, id pool.EntryID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM ledger_entries WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n == 0 {
		return &pool.NotFoundError{Collection: pool.CollectionEntries, ID: string(id)}
	}
	return nil
}

// insertUnit is a compare-and-set on MAX(id). Callers run it inside a
// transaction so the check and the insert see the same table.
func insertUnit(ctx context.Context, q querier, u pool.Unit) error {
	var maxID int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM units").Scan(&maxID); err != nil {
		return fmt.Errorf("failed to read max unit id: %w", err)
	}
	expected := pool.UnitID(maxID) + 1
	if u.ID != expected {
		return &pool.SequenceError{Expected: expected, Got: u.ID}
	}

	var owner sql.NullString
	if u.Owner != "" {
		owner = sql.NullString{String: string(u.Owner), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO units ("+unitColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		int64(u.ID), string(u.Kind), int(u.PurchaseWeek), u.PurchasedAt.UTC().Format(time.RFC3339Nano),
		u.WeeklyReturn.String(), u.EarningDuration, int(u.ExpiryWeek), u.Cost.String(), owner,
	)
	if isConstraintError(err, sqlite3.ErrConstraintPrimaryKey) {
		return &pool.SequenceError{Expected: expected, Got: u.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert unit: %w", err)
	}
	return nil
}

func getEntry(ctx context.Context, q querier, id pool.EntryID) (pool.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", string(id))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.LedgerEntry{}, &pool.NotFoundError{Collection: pool.CollectionEntries, ID: string(id)}
	}
	return e, err
}

func getUnit(ctx context.Context, q querier, id pool.UnitID) (pool.Unit, error) {
	row := q.QueryRowContext(ctx, "SELECT "+unitColumns+" FROM units WHERE id = ?", int64(id))
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.Unit{}, &pool.NotFoundError{Collection: pool.CollectionUnits, ID: id.String()}
	}
	return u, err
}

func loadEntries(ctx context.Context, q querier) (pool.Entries, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+entryColumns+" FROM ledger_entries ORDER BY logged_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out pool.Entries
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func loadUnits(ctx context.Context, q querier) (pool.Units, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+unitColumns+" FROM units ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var out pool.Units
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (pool.LedgerEntry, error) {
	var (
		e        pool.LedgerEntry
		id       string
		actor    string
		amount   string
		loggedAt string
		unitID   sql.NullInt64
	)
	err := row.Scan(&id, &e.Week, &amount, &actor, &loggedAt, &e.Holiday, &e.Purchase, &unitID, &e.Note)
	if err != nil {
		return pool.LedgerEntry{}, err
	}

	e.ID = pool.EntryID(id)
	e.Actor = pool.CollaboratorID(actor)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return pool.LedgerEntry{}, fmt.Errorf("entry %s: bad amount %q: %w", id, amount, err)
	}
	if e.LoggedAt, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
		return pool.LedgerEntry{}, fmt.Errorf("entry %s: bad logged_at %q: %w", id, loggedAt, err)
	}
	if unitID.Valid {
		e.UnitID = pool.UnitID(unitID.Int64)
	}
	return e, nil
}

func scanUnit(row scanner) (pool.Unit, error) {
	var (
		u            pool.Unit
		id           int64
		kind         string
		purchasedAt  string
		weeklyReturn string
		cost         string
		owner        sql.NullString
	)
	err := row.Scan(&id, &kind, &u.PurchaseWeek, &purchasedAt, &weeklyReturn,
		&u.EarningDuration, &u.ExpiryWeek, &cost, &owner)
	if err != nil {
		return pool.Unit{}, err
	}

	u.ID = pool.UnitID(id)
	u.Kind = pool.UnitKind(kind)
	u.Owner = pool.CollaboratorID(owner.String)
	if u.PurchasedAt, err = time.Parse(time.RFC3339Nano, purchasedAt); err != nil {
		return pool.Unit{}, fmt.Errorf("unit %d: bad purchased_at %q: %w", id, purchasedAt, err)
	}
	if u.WeeklyReturn, err = decimal.NewFromString(weeklyReturn); err != nil {
		return pool.Unit{}, fmt.Errorf("unit %d: bad weekly_return %q: %w", id, weeklyReturn, err)
	}
	if u.Cost, err = decimal.NewFromString(cost); err != nil {
		return pool.Unit{}, fmt.Errorf("unit %d: bad cost %q: %w", id, cost, err)
	}
	return u, nil
}

func isConstraintError(err error, code sqlite3.ErrNoExtended) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == code
}
