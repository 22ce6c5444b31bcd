/*
ledger.go - Append-only financial ledger

PURPOSE:
  Every contribution and every unit purchase is a LedgerEntry. Savings,
  purchase readiness, and payment status are all derived by summing
  entries; there is no stored balance that could drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never edited in place. An edit is a delete
     followed by a fresh append, so the audit trail keeps both events.
  2. SIGN AGREES WITH FLAG: purchase => negative, contribution => positive.
  3. NO SILENT NO-OPS: removing a missing entry is a NotFoundError.

CONCURRENCY:
  Ordinary appends and removes are independent single-record writes. Two
  collaborators logging the same week at the same time both succeed; the
  ledger does not deduplicate.

SEE ALSO:
  - types.go: LedgerEntry and Entries aggregates
  - purchase.go: Writes purchase entries inside a transaction
*/
package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger wraps a Store with entry preparation and aggregate queries.
type Ledger struct {
	Store    Store
	Calendar *Calendar
	Now      func() time.Time
	NewID    func() EntryID
}

// NewLedger creates a ledger that assigns random UUIDs to new entries.
func NewLedger(store Store, cal *Calendar) *Ledger {
	return &Ledger{
		Store:    store,
		Calendar: cal,
		Now:      time.Now,
		NewID:    func() EntryID { return EntryID(uuid.NewString()) },
	}
}

// Append validates e, fills in id, timestamp and holiday flag, persists it
// and returns the entry as stored.
func (l *Ledger) Append(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	return l.appendTo(ctx, l.Store, e)
}

func (l *Ledger) appendTo(ctx context.Context, s Store, e LedgerEntry) (LedgerEntry, error) {
	prepared, err := l.prepare(e)
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := s.AppendEntry(ctx, prepared); err != nil {
		return LedgerEntry{}, err
	}
	return prepared, nil
}

func (l *Ledger) prepare(e LedgerEntry) (LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return LedgerEntry{}, err
	}
	if e.ID == "" {
		e.ID = l.NewID()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = l.Now()
	}
	e.LoggedAt = e.LoggedAt.UTC()
	e.Holiday = l.Calendar.IsHoliday(e.Week)
	return e, nil
}

// Remove deletes an entry. Missing ids are a NotFoundError.
func (l *Ledger) Remove(ctx context.Context, id EntryID) error {
	return l.Store.DeleteEntry(ctx, id)
}

// List returns all entries, newest first.
func (l *Ledger) List(ctx context.Context) (Entries, error) {
	es, err := l.Store.LoadEntries(ctx)
	if err != nil {
		return nil, err
	}
	return es.Newest(), nil
}

// EntriesForWeek returns the entries logged against week w, newest first.
func (l *Ledger) EntriesForWeek(ctx context.Context, w Week) (Entries, error) {
	es, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	return es.ForWeek(w), nil
}

// EntriesByActor returns the entries logged by actor, newest first.
func (l *Ledger) EntriesByActor(ctx context.Context, actor CollaboratorID) (Entries, error) {
	es, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	return es.ByActor(actor), nil
}

// TotalContributions sums all positive entries.
func (l *Ledger) TotalContributions(ctx context.Context) (decimal.Decimal, error) {
	es, err := l.Store.LoadEntries(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return es.TotalContributions(), nil
}

// TotalPurchaseCost sums |amount| over all negative entries.
func (l *Ledger) TotalPurchaseCost(ctx context.Context) (decimal.Decimal, error) {
	es, err := l.Store.LoadEntries(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return es.TotalPurchaseCost(), nil
}
