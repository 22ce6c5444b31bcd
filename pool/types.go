/*
Package pool implements the ledger and rotation engine for a small group's
pooled investment in revenue-generating units.

PURPOSE:
  A fixed roster of collaborators contributes weekly into a shared pot.
  When the pot covers the cost of a new unit, the group buys one and the
  rotation decides which collaborator owns it. Every unit earns a weekly
  return for a fixed number of non-holiday weeks and then expires.

KEY CONCEPTS IN THIS FILE (types.go):
  - Collaborator / Roster: the ordered list of people in the pool
  - Unit: a purchased asset with a derived expiry week
  - LedgerEntry: one signed monetary event (contribution or purchase)
  - Units / Entries: value collections with pure aggregate queries

DESIGN PRINCIPLES:
  1. Derived, never stored: Active/Expired and all stats are computed from
     (Ledger, Registry, asOfWeek) on every read
  2. Precision: money is decimal.Decimal, never float64
  3. Append-only: entries are created or deleted, never edited in place

SEE ALSO:
  - calendar.go: Week arithmetic and expiry
  - ledger.go: Ledger over a Store
  - registry.go: Unit registry over a Store
  - engine.go: Query surface
*/
package pool

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// CollaboratorID is the stable identifier resolved by the identity provider.
type CollaboratorID string

// Collaborator is an immutable reference to a roster member.
type Collaborator struct {
	ID          CollaboratorID
	Name        string
	TargetShare int // New units this collaborator should eventually own
}

// Roster is ordered; position breaks rotation ties.
type Roster []Collaborator

// Find returns the collaborator with the given id.
func (r Roster) Find(id CollaboratorID) (Collaborator, bool) {
	for _, c := range r {
		if c.ID == id {
			return c, true
		}
	}
	return Collaborator{}, false
}

// =============================================================================
// UNITS
// =============================================================================

// UnitID is sequential, unique, 1-based and gapless.
type UnitID int

func (id UnitID) String() string { return strconv.Itoa(int(id)) }

// UnitKind distinguishes shared founding units from owned purchases.
type UnitKind string

const (
	KindOriginal UnitKind = "original" // shared, unowned
	KindNew      UnitKind = "new"      // always owned by one collaborator
)

// UnitStatus is always computed relative to a week.
type UnitStatus string

const (
	StatusActive  UnitStatus = "active"
	StatusExpired UnitStatus = "expired"
)

// Unit is a purchased asset. Immutable after creation.
type Unit struct {
	ID              UnitID
	Kind            UnitKind
	PurchaseWeek    Week
	PurchasedAt     time.Time
	WeeklyReturn    decimal.Decimal
	EarningDuration int
	ExpiryWeek      Week
	Cost            decimal.Decimal
	Owner           CollaboratorID // empty for Original units
}

// Status classifies the unit as of week asOf.
func (u Unit) Status(asOf Week) UnitStatus {
	if u.ExpiryWeek >= asOf {
		return StatusActive
	}
	return StatusExpired
}

// IsActive reports whether the unit still earns in week asOf.
func (u Unit) IsActive(asOf Week) bool { return u.Status(asOf) == StatusActive }

// IsOwnedBy reports whether id owns the unit. Original units are owned by
// nobody.
func (u Unit) IsOwnedBy(id CollaboratorID) bool { return u.Owner != "" && u.Owner == id }

// Validate checks the structural invariants that do not need a calendar.
func (u Unit) Validate() error {
	switch {
	case u.ID < 1:
		return &ValidationError{Field: "unit_id", Reason: "must be >= 1"}
	case u.Kind != KindOriginal && u.Kind != KindNew:
		return &ValidationError{Field: "kind", Reason: "must be original or new"}
	case !u.PurchaseWeek.Valid():
		return &ValidationError{Field: "purchase_week", Reason: "must be >= 1"}
	case !u.WeeklyReturn.IsPositive():
		return &ValidationError{Field: "weekly_return", Reason: "must be positive"}
	case u.EarningDuration < 1:
		return &ValidationError{Field: "earning_duration", Reason: "must be >= 1"}
	case u.Cost.IsNegative():
		return &ValidationError{Field: "cost", Reason: "must not be negative"}
	case u.Kind == KindNew && u.Owner == "":
		return &ValidationError{Field: "owner", Reason: "new units must be owned"}
	case u.Kind == KindOriginal && u.Owner != "":
		return &ValidationError{Field: "owner", Reason: "original units are shared"}
	}
	return nil
}

// Units is a snapshot of the registry.
type Units []Unit

// MaxID returns the highest unit id, or 0 when empty.
func (us Units) MaxID() UnitID {
	var max UnitID
	for _, u := range us {
		if u.ID > max {
			max = u.ID
		}
	}
	return max
}

// Active returns units with ExpiryWeek >= asOf.
func (us Units) Active(asOf Week) Units {
	var out Units
	for _, u := range us {
		if u.IsActive(asOf) {
			out = append(out, u)
		}
	}
	return out
}

// OwnedBy returns the units owned by id.
func (us Units) OwnedBy(id CollaboratorID) Units {
	var out Units
	for _, u := range us {
		if u.IsOwnedBy(id) {
			out = append(out, u)
		}
	}
	return out
}

// OfKind filters by kind.
func (us Units) OfKind(kind UnitKind) Units {
	var out Units
	for _, u := range us {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

// WeeklyIncome sums WeeklyReturn.
func (us Units) WeeklyIncome() decimal.Decimal {
	total := decimal.Zero
	for _, u := range us {
		total = total.Add(u.WeeklyReturn)
	}
	return total
}

// IDs returns unit ids in ascending order.
func (us Units) IDs() []UnitID {
	ids := make([]UnitID, 0, len(us))
	for _, u := range us {
		ids = append(ids, u.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sorted returns a copy ordered by id.
func (us Units) Sorted() Units {
	out := append(Units(nil), us...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// EntryID is opaque and assigned when the entry is persisted.
type EntryID string

// LedgerEntry is one financial event.
type LedgerEntry struct {
	ID       EntryID
	Week     Week
	Amount   decimal.Decimal // > 0 contribution, < 0 purchase cost
	Actor    CollaboratorID
	LoggedAt time.Time
	Holiday  bool   // cached from the calendar at creation
	Purchase bool   // true only for unit purchases
	UnitID   UnitID // set only when Purchase
	Note     string
}

// IsContribution reports whether the entry is an ordinary positive payment.
func (e LedgerEntry) IsContribution() bool {
	return !e.Purchase && e.Amount.IsPositive()
}

// Validate enforces the sign/flag agreement and required fields.
func (e LedgerEntry) Validate() error {
	switch {
	case !e.Week.Valid():
		return &ValidationError{Field: "week", Reason: "must be >= 1"}
	case e.Actor == "":
		return &ValidationError{Field: "actor", Reason: "required"}
	case e.Amount.IsZero():
		return &ValidationError{Field: "amount", Reason: "must not be zero"}
	case e.Purchase && !e.Amount.IsNegative():
		return &ValidationError{Field: "amount", Reason: "purchase entries must be negative"}
	case !e.Purchase && e.Amount.IsNegative():
		return &ValidationError{Field: "amount", Reason: "contributions must be positive"}
	case e.Purchase && e.UnitID < 1:
		return &ValidationError{Field: "unit_id", Reason: "required on purchase entries"}
	case !e.Purchase && e.UnitID != 0:
		return &ValidationError{Field: "unit_id", Reason: "only purchase entries reference a unit"}
	}
	return nil
}

// Entries is a snapshot of the ledger. Aggregates are order-independent.
type Entries []LedgerEntry

// TotalContributions sums positive amounts.
func (es Entries) TotalContributions() decimal.Decimal {
	total := decimal.Zero
	for _, e := range es {
		if e.Amount.IsPositive() {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// TotalPurchaseCost sums the absolute value of negative amounts.
func (es Entries) TotalPurchaseCost() decimal.Decimal {
	total := decimal.Zero
	for _, e := range es {
		if e.Amount.IsNegative() {
			total = total.Add(e.Amount.Abs())
		}
	}
	return total
}

// ForWeek returns entries logged against week w.
func (es Entries) ForWeek(w Week) Entries {
	var out Entries
	for _, e := range es {
		if e.Week == w {
			out = append(out, e)
		}
	}
	return out
}

// ByActor returns entries logged by actor.
func (es Entries) ByActor(actor CollaboratorID) Entries {
	var out Entries
	for _, e := range es {
		if e.Actor == actor {
			out = append(out, e)
		}
	}
	return out
}

// PurchaseFor returns the purchase entries that reference unit id.
func (es Entries) PurchaseFor(id UnitID) Entries {
	var out Entries
	for _, e := range es {
		if e.Purchase && e.UnitID == id {
			out = append(out, e)
		}
	}
	return out
}

// Newest returns a copy ordered by LoggedAt descending, ties by id.
func (es Entries) Newest() Entries {
	out := append(Entries(nil), es...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LoggedAt.Equal(out[j].LoggedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LoggedAt.After(out[j].LoggedAt)
	})
	return out
}
