/*
engine.go - Query surface of the pool engine

PURPOSE:
  Engine is the single process-wide owner of the ledger and the unit
  registry. Every read takes a fresh consistent snapshot of both and
  derives what it needs; every write goes straight to the store. There are
  no cached counters and no background goroutines.

OPERATIONS:
  GetStats(asOf)              derived statistics
  GetPaymentBreakdown(asOf)   expected weekly payment per collaborator
  WeekSummary(week)           collected vs expected for one week
  OutstandingWeeks(id, asOf)  weeks a collaborator has not paid
  LogContribution(...)        append a positive entry
  CorrectContribution(...)    delete + recreate, atomically
  PurchaseUnit(actor, owner)  see purchase.go
  DeleteEntry(id)             admin removal of a contribution
  ListUnits / ListEntries     raw collections
  NextOwner()                 rotation preview
  Subscribe(fn)               stats pushed on every store change

TIMEOUTS:
  Every operation runs under Config.OperationTimeout. A store call that
  outlives it surfaces as *TimeoutError, which is safe to retry.

SEE ALSO:
  - purchase.go: Purchase transaction and retry loop
  - store.go: Backend contract
*/
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/metrics"
	"github.com/shopspring/decimal"
)

// ErrSubscribeUnsupported is returned by Subscribe when the backend cannot
// push change notifications.
var ErrSubscribeUnsupported = errors.New("store does not support subscriptions")

// Engine exposes the query surface.
type Engine struct {
	cfg      Config
	cal      *Calendar
	store    Backend
	ledger   *Ledger
	registry *Registry
	log      *logging.Logger
	now      func() time.Time

	retryDelay time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to pin the current week.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l.WithComponent("engine") }
}

// WithRetryDelay sets the base delay between purchase attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// WithEntryIDs replaces the UUID generator for ledger entries.
func WithEntryIDs(gen func() EntryID) Option {
	return func(e *Engine) { e.ledger.NewID = gen }
}

// NewEngine validates cfg and wires the engine to store.
func NewEngine(store Backend, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cal := NewCalendar(cfg.StartDate, cfg.HolidayWeeks)
	e := &Engine{
		cfg:        cfg,
		cal:        cal,
		store:      store,
		ledger:     NewLedger(store, cal),
		registry:   NewRegistry(store, cal),
		log:        logging.Nop(),
		now:        time.Now,
		retryDelay: 5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger.Now = e.now
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Calendar returns the engine's calendar.
func (e *Engine) Calendar() *Calendar { return e.cal }

// Roster returns the configured collaborators in rotation order.
func (e *Engine) Roster() Roster { return e.cfg.Roster }

// CurrentWeek is the week containing the engine clock's now.
func (e *Engine) CurrentWeek() Week { return e.cal.WeekOf(e.now()) }

// =============================================================================
// BOOTSTRAP
// =============================================================================

// Bootstrap creates the configured Original units when the registry is
// empty. It is a no-op otherwise and returns the units it created.
func (e *Engine) Bootstrap(ctx context.Context) (Units, error) {
	var created Units
	err := e.run(ctx, "bootstrap", func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx Store) error {
			existing, err := tx.LoadUnits(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return nil
			}
			orig := e.cfg.OriginalUnits
			for i := 1; i <= orig.Count; i++ {
				u, err := e.registry.addTo(ctx, tx, Unit{
					ID:              UnitID(i),
					Kind:            KindOriginal,
					PurchaseWeek:    1,
					WeeklyReturn:    orig.WeeklyReturn,
					EarningDuration: orig.EarningDuration,
					Cost:            orig.Cost,
				})
				if err != nil {
					return err
				}
				created = append(created, u)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		e.log.Info("original units created", "count", len(created), "expiry_week", created[0].ExpiryWeek)
	}
	return created, nil
}

// =============================================================================
// READS
// =============================================================================

// GetStats derives statistics as of week asOf from a fresh snapshot.
func (e *Engine) GetStats(ctx context.Context, asOf Week) (Stats, error) {
	if !asOf.Valid() {
		return Stats{}, &ValidationError{Field: "week", Reason: "must be >= 1"}
	}
	var stats Stats
	err := e.run(ctx, "get_stats", func(ctx context.Context) error {
		snap, err := e.store.Snapshot(ctx)
		if err != nil {
			return err
		}
		stats = e.statsFrom(snap, asOf)
		return nil
	})
	return stats, err
}

func (e *Engine) statsFrom(snap Snapshot, asOf Week) Stats {
	stats := ComputeStats(snap.Entries, snap.Units, asOf, e.cfg.NewUnitCost)
	stats.IsHolidayWeek = e.cal.IsHoliday(asOf)
	stats.TargetUnitCount = e.cfg.TargetUnitCount
	if next, ok := NextOwner(snap.Units, e.cfg.Roster, e.cfg.TargetShare()); ok {
		stats.NextOwner = next.ID
	}
	stats.CollaboratorShare = decimal.Zero
	if n := len(e.cfg.Roster); n > 0 {
		stats.CollaboratorShare = stats.CurrentWeeklyIncome.Div(decimal.NewFromInt(int64(n)))
	}
	return stats
}

// GetPaymentBreakdown returns each collaborator's expected weekly payment.
func (e *Engine) GetPaymentBreakdown(ctx context.Context, asOf Week) ([]PaymentBreakdown, error) {
	if !asOf.Valid() {
		return nil, &ValidationError{Field: "week", Reason: "must be >= 1"}
	}
	var out []PaymentBreakdown
	err := e.run(ctx, "get_payment_breakdown", func(ctx context.Context) error {
		units, err := e.store.LoadUnits(ctx)
		if err != nil {
			return err
		}
		out = ComputePaymentBreakdowns(units, e.cfg.Roster, e.cfg.BaseContributionPerCollaborator, asOf)
		return nil
	})
	return out, err
}

// WeekSummary compares collected contributions in week w with the
// roster's expected payments.
func (e *Engine) WeekSummary(ctx context.Context, w Week) (WeekSummary, error) {
	if !w.Valid() {
		return WeekSummary{}, &ValidationError{Field: "week", Reason: "must be >= 1"}
	}
	var out WeekSummary
	err := e.run(ctx, "week_summary", func(ctx context.Context) error {
		snap, err := e.store.Snapshot(ctx)
		if err != nil {
			return err
		}
		out = SummarizeWeek(snap.Entries, snap.Units, e.cfg.Roster,
			e.cfg.BaseContributionPerCollaborator, w, e.cal.IsHoliday(w))
		return nil
	})
	return out, err
}

// OutstandingWeeks lists the non-holiday weeks up to asOf that id has not paid.
func (e *Engine) OutstandingWeeks(ctx context.Context, id CollaboratorID, asOf Week) ([]Week, error) {
	if _, ok := e.cfg.Roster.Find(id); !ok {
		return nil, &NotFoundError{Collection: "collaborators", ID: string(id)}
	}
	if !asOf.Valid() {
		return nil, &ValidationError{Field: "week", Reason: "must be >= 1"}
	}
	var out []Week
	err := e.run(ctx, "outstanding_weeks", func(ctx context.Context) error {
		entries, err := e.store.LoadEntries(ctx)
		if err != nil {
			return err
		}
		out = OutstandingWeeks(entries, e.cal, id, asOf)
		return nil
	})
	return out, err
}

// ListUnits returns every unit ordered by id.
func (e *Engine) ListUnits(ctx context.Context) (Units, error) {
	var out Units
	err := e.run(ctx, "list_units", func(ctx context.Context) error {
		var err error
		out, err = e.registry.All(ctx)
		return err
	})
	return out, err
}

// ListEntries returns every ledger entry, newest first.
func (e *Engine) ListEntries(ctx context.Context) (Entries, error) {
	var out Entries
	err := e.run(ctx, "list_entries", func(ctx context.Context) error {
		var err error
		out, err = e.ledger.List(ctx)
		return err
	})
	return out, err
}

// NextOwner previews who the rotation would assign the next New unit to.
// ok is false once the rotation is exhausted.
func (e *Engine) NextOwner(ctx context.Context) (c Collaborator, ok bool, err error) {
	err = e.run(ctx, "next_owner", func(ctx context.Context) error {
		units, err := e.store.LoadUnits(ctx)
		if err != nil {
			return err
		}
		c, ok = NextOwner(units, e.cfg.Roster, e.cfg.TargetShare())
		return nil
	})
	return c, ok, err
}

// Subscribe calls fn with freshly derived stats for the current week after
// every change to either collection. A write touching both collections
// yields a single call, and a snapshot older than the last one seen is
// skipped.
func (e *Engine) Subscribe(fn func(Stats)) (cancel func(), err error) {
	sub, ok := e.store.(Subscriber)
	if !ok {
		return nil, ErrSubscribeUnsupported
	}
	var (
		mu   sync.Mutex
		last uint64
	)
	push := func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Version <= last {
			return
		}
		last = snap.Version
		fn(e.statsFrom(snap, e.CurrentWeek()))
	}
	cancelEntries := sub.Subscribe(CollectionEntries, push)
	cancelUnits := sub.Subscribe(CollectionUnits, push)
	return func() {
		cancelEntries()
		cancelUnits()
	}, nil
}

// =============================================================================
// WRITES
// =============================================================================

// LogContribution appends a positive entry for week. The actor must be a
// roster member; payments are attributed by id only.
func (e *Engine) LogContribution(ctx context.Context, week Week, amount decimal.Decimal, actor CollaboratorID, note string) (LedgerEntry, error) {
	if _, ok := e.cfg.Roster.Find(actor); !ok && actor != "" {
		return LedgerEntry{}, &ValidationError{Field: "actor", Reason: "not a roster member: " + string(actor)}
	}
	entry := LedgerEntry{Week: week, Amount: amount, Actor: actor, Note: note}

	var logged LedgerEntry
	err := e.run(ctx, "log_contribution", func(ctx context.Context) error {
		var err error
		logged, err = e.ledger.Append(ctx, entry)
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	metrics.ContributionsLogged.Inc()
	e.log.Info("contribution logged", "entry_id", logged.ID, "week", week, "actor", actor, "amount", amount.String())
	return logged, nil
}

// CorrectContribution replaces an ordinary contribution with a new one in a
// single transaction. The old entry is deleted, never edited.
func (e *Engine) CorrectContribution(ctx context.Context, id EntryID, week Week, amount decimal.Decimal, note string) (LedgerEntry, error) {
	var corrected LedgerEntry
	err := e.run(ctx, "correct_contribution", func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx Store) error {
			old, err := tx.GetEntry(ctx, id)
			if err != nil {
				return err
			}
			if old.Purchase {
				return &ValidationError{Field: "entry_id", Reason: "purchase entries cannot be corrected"}
			}
			if err := tx.DeleteEntry(ctx, id); err != nil {
				return err
			}
			corrected, err = e.ledger.appendTo(ctx, tx, LedgerEntry{
				Week:   week,
				Amount: amount,
				Actor:  old.Actor,
				Note:   note,
			})
			return err
		})
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	e.log.Info("contribution corrected", "old_entry_id", id, "entry_id", corrected.ID, "week", week, "amount", amount.String())
	return corrected, nil
}

// DeleteEntry removes a contribution. Purchase entries are bound to their
// unit and cannot be deleted on their own.
func (e *Engine) DeleteEntry(ctx context.Context, id EntryID) error {
	err := e.run(ctx, "delete_entry", func(ctx context.Context) error {
		entry, err := e.store.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry.Purchase {
			return &ValidationError{Field: "entry_id", Reason: "purchase entries are bound to unit " + entry.UnitID.String()}
		}
		return e.ledger.Remove(ctx, id)
	})
	if err != nil {
		return err
	}
	metrics.EntriesDeleted.Inc()
	e.log.Info("entry deleted", "entry_id", id)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// run bounds fn by the operation timeout and records metrics.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())

	if errors.Is(err, context.DeadlineExceeded) {
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) {
			err = &TimeoutError{Op: op, Err: err}
		}
	}
	if err != nil {
		metrics.OperationErrors.WithLabelValues(op, string(KindOf(err))).Inc()
	}
	return err
}
