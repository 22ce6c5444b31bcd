/*
stats.go - Derived pool statistics

PURPOSE:
  Stats are a pure function of (entries, units, week, next purchase cost).
  They are rebuilt on every read instead of being kept as running counters,
  so a deleted entry or a concurrent purchase can never leave them stale.

FORMULAS:
  activeUnitCount      = |units with expiry >= asOf|
  cumulativeSavings    = max(0, contributions - purchaseCost)
  currentWeeklyIncome  = sum(weeklyReturn over active units)
  nextPurchaseProgress = min(100, 100 * savings / nextPurchaseCost)

  Entries [+75000 wk1, +75000 wk2, -5000000 purchase wk2]:
    contributions 150000, purchases 5000000 => savings 0, not -4850000
*/
package pool

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Stats is never persisted.
type Stats struct {
	AsOfWeek                    Week
	ActiveUnitCount             int
	CumulativeSavings           decimal.Decimal
	CurrentWeeklyIncome         decimal.Decimal
	NextPurchaseProgressPercent decimal.Decimal

	// Extras filled by the engine from configuration.
	TotalUnits        int
	NextPurchaseCost  decimal.Decimal
	CanPurchase       bool
	CollaboratorShare decimal.Decimal
	IsHolidayWeek     bool
	TargetUnitCount   int
	NextOwner         CollaboratorID // empty once the rotation is exhausted
}

// ComputeStats derives the four core statistics plus the fields that need
// nothing beyond its inputs.
func ComputeStats(entries Entries, units Units, asOf Week, nextPurchaseCost decimal.Decimal) Stats {
	active := units.Active(asOf)

	savings := entries.TotalContributions().Sub(entries.TotalPurchaseCost())
	if savings.IsNegative() {
		savings = decimal.Zero
	}

	return Stats{
		AsOfWeek:                    asOf,
		ActiveUnitCount:             len(active),
		CumulativeSavings:           savings,
		CurrentWeeklyIncome:         active.WeeklyIncome(),
		NextPurchaseProgressPercent: progressPercent(savings, nextPurchaseCost),
		TotalUnits:                  len(units),
		NextPurchaseCost:            nextPurchaseCost,
		CanPurchase:                 savings.GreaterThanOrEqual(nextPurchaseCost),
	}
}

func progressPercent(savings, cost decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return hundred
	}
	p := savings.Mul(hundred).Div(cost).Round(2)
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
