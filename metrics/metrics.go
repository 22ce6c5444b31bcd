// Package metrics declares the Prometheus series the engine exports.
//
// All series are registered on the default registry at init and served by
// the /metrics route in the api package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

var ContributionsLogged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "ledger",
	Name:      "contributions_logged_total",
	Help:      "Contributions appended to the ledger.",
})

var EntriesDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "ledger",
	Name:      "entries_deleted_total",
	Help:      "Ledger entries removed by an administrator.",
})

// ─── Purchases ──────────────────────────────────────────────────────────────

var UnitsPurchased = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "units",
	Name:      "purchased_total",
	Help:      "New units committed together with their purchase entry.",
})

var PurchaseRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "units",
	Name:      "purchase_retries_total",
	Help:      "Purchase attempts retried after a unit id conflict.",
})

var PurchaseContention = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "units",
	Name:      "purchase_contention_total",
	Help:      "Purchases abandoned after exhausting the retry budget.",
})

// ─── Operations ─────────────────────────────────────────────────────────────

var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pool",
	Subsystem: "engine",
	Name:      "operation_duration_seconds",
	Help:      "Latency of engine operations.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

var OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "engine",
	Name:      "operation_errors_total",
	Help:      "Engine operation failures by error kind.",
}, []string{"op", "kind"})

// ─── Weekly cadence ─────────────────────────────────────────────────────────

var CurrentWeek = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pool",
	Subsystem: "calendar",
	Name:      "current_week",
	Help:      "Week index of the engine clock.",
})

var ActiveUnits = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pool",
	Subsystem: "units",
	Name:      "active",
	Help:      "Units still earning in the current week.",
})

var CumulativeSavings = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pool",
	Subsystem: "ledger",
	Name:      "cumulative_savings",
	Help:      "Contributions minus purchase costs, floored at zero.",
})

var WeeksClosed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pool",
	Subsystem: "calendar",
	Name:      "weeks_closed_total",
	Help:      "Weeks summarized by the week closer.",
})

var WeekShortfall = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pool",
	Subsystem: "ledger",
	Name:      "last_week_shortfall",
	Help:      "Expected minus collected for the most recently closed week.",
})
