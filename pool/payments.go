/*
payments.go - Expected weekly payments and payment status

PURPOSE:
  Each collaborator pays a fixed base share every non-holiday week, plus
  an equal split of the weekly return of every active New unit they own.
  These figures are advisory: they prompt and report, they never reject a
  ledger entry. A collaborator may log any positive amount.

  Base 75000, roster of 4, A owns one active New unit returning 125000:
    A expects 75000 + 125000/4 = 106250
    B, C, D expect 75000

ATTRIBUTION:
  Payments are attributed by the explicit Actor id on each entry. Display
  names are never matched against the roster.

SEE ALSO:
  - engine.go: PaymentBreakdown, WeekSummary, OutstandingWeeks
*/
package pool

import "github.com/shopspring/decimal"

// =============================================================================
// EXPECTED PAYMENT
// =============================================================================

// PaymentBreakdown is derived per collaborator.
type PaymentBreakdown struct {
	Collaborator           Collaborator
	BaseShare              decimal.Decimal
	OwnedUnitsContribution decimal.Decimal
	TotalExpected          decimal.Decimal
	OwnedUnitIDs           []UnitID
}

// ComputePaymentBreakdowns returns one breakdown per roster member, in
// roster order. Only New units still active in week asOf add to a
// collaborator's expected payment; OwnedUnitIDs lists every New unit owned.
func ComputePaymentBreakdowns(units Units, roster Roster, base decimal.Decimal, asOf Week) []PaymentBreakdown {
	out := make([]PaymentBreakdown, 0, len(roster))
	if len(roster) == 0 {
		return out
	}
	n := decimal.NewFromInt(int64(len(roster)))

	for _, c := range roster {
		owned := units.OfKind(KindNew).OwnedBy(c.ID)
		contribution := owned.Active(asOf).WeeklyIncome().Div(n)
		out = append(out, PaymentBreakdown{
			Collaborator:           c,
			BaseShare:              base,
			OwnedUnitsContribution: contribution,
			TotalExpected:          base.Add(contribution),
			OwnedUnitIDs:           owned.IDs(),
		})
	}
	return out
}

// =============================================================================
// WEEK STATUS
// =============================================================================

// PaymentStatus is a collaborator's state for one week.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentHoliday PaymentStatus = "holiday"
)

// CollaboratorWeek is one row of a WeekSummary.
type CollaboratorWeek struct {
	Collaborator Collaborator
	Expected     decimal.Decimal
	Paid         decimal.Decimal
	Status       PaymentStatus
}

// WeekSummary compares what was collected in a week against what was expected.
type WeekSummary struct {
	Week          Week
	Holiday       bool
	Collected     decimal.Decimal
	Expected      decimal.Decimal
	Collaborators []CollaboratorWeek
}

// SummarizeWeek builds the collected-vs-expected view for week w. Holiday
// weeks expect nothing.
func SummarizeWeek(entries Entries, units Units, roster Roster, base decimal.Decimal, w Week, holiday bool) WeekSummary {
	summary := WeekSummary{
		Week:      w,
		Holiday:   holiday,
		Collected: decimal.Zero,
		Expected:  decimal.Zero,
	}
	weekEntries := entries.ForWeek(w)
	for _, e := range weekEntries {
		if e.IsContribution() {
			summary.Collected = summary.Collected.Add(e.Amount)
		}
	}

	for _, b := range ComputePaymentBreakdowns(units, roster, base, w) {
		row := CollaboratorWeek{
			Collaborator: b.Collaborator,
			Expected:     b.TotalExpected,
			Paid:         decimal.Zero,
			Status:       PaymentPending,
		}
		for _, e := range weekEntries.ByActor(b.Collaborator.ID) {
			if e.IsContribution() {
				row.Paid = row.Paid.Add(e.Amount)
			}
		}
		switch {
		case holiday:
			row.Expected = decimal.Zero
			row.Status = PaymentHoliday
		case row.Paid.IsPositive():
			row.Status = PaymentPaid
		}
		summary.Expected = summary.Expected.Add(row.Expected)
		summary.Collaborators = append(summary.Collaborators, row)
	}
	return summary
}

// OutstandingWeeks lists the non-holiday weeks in [1, asOf] for which actor
// has not logged any contribution, oldest first.
func OutstandingWeeks(entries Entries, cal *Calendar, actor CollaboratorID, asOf Week) []Week {
	paid := make(map[Week]bool)
	for _, e := range entries.ByActor(actor) {
		if e.IsContribution() {
			paid[e.Week] = true
		}
	}
	var out []Week
	for w := Week(1); w <= asOf; w++ {
		if cal.IsHoliday(w) || paid[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
