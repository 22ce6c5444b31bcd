/*
scheduler.go - Weekly cadence scheduler

PURPOSE:
  Periodically checks whether the pool's week has advanced and, for every
  week that has finished since the last check, records a closure: what
  was collected against what was expected, who is still pending and which
  units stopped earning that week.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The engine clock decides the current week; the closer never writes
    to the ledger or the registry
  - The first check closes only the week before the current one
  - A failed check does not advance, so the next tick retries the week
  - Closures are kept in memory, newest first, bounded by Retain

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the closer is active (default: true)
  - Retain: Closures kept for GET /api/weeks/closed (default: 52)

USAGE:
  closer := NewWeekCloser(engine, logger)
  closer.Start()
  // ... later
  closer.Stop()

SEE ALSO:
  - handlers.go: ListClosedWeeks endpoint
  - pool/payments.go: SummarizeWeek
  - metrics/metrics.go: Weekly cadence gauges
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/metrics"
	"github.com/kingdom/pool-engine/pool"
)

// WeekClosure is the record kept for a finished week.
type WeekClosure struct {
	Week         pool.Week
	Holiday      bool
	Collected    decimal.Decimal
	Expected     decimal.Decimal
	Shortfall    decimal.Decimal // expected minus collected, never negative
	Pending      []pool.CollaboratorID
	ExpiredUnits []pool.UnitID // units whose last earning week this was
	ClosedAt     time.Time
}

// WeekCloser closes finished weeks on a fixed cadence.
type WeekCloser struct {
	Engine        *pool.Engine
	CheckInterval time.Duration
	Enabled       bool
	Retain        int

	log *logging.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	stateMu     sync.Mutex
	initialized bool
	lastClosed  pool.Week
	closures    []WeekClosure
}

// NewWeekCloser creates a new closer.
func NewWeekCloser(engine *pool.Engine, log *logging.Logger) *WeekCloser {
	if log == nil {
		log = logging.Nop()
	}
	return &WeekCloser{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Retain:        52,
		log:           log.WithComponent("week-closer"),
	}
}

// Start begins the closer.
func (wc *WeekCloser) Start() {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.Enabled {
		wc.log.Info("disabled, not starting")
		return
	}
	if wc.ticker != nil {
		return
	}

	wc.ticker = time.NewTicker(wc.CheckInterval)
	wc.stop = make(chan struct{})
	wc.wg.Add(1)

	go wc.run(wc.ticker, wc.stop)

	wc.log.Info("started", "check_interval", wc.CheckInterval)
}

// Stop stops the closer and waits for an in-flight check to finish.
func (wc *WeekCloser) Stop() {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.ticker != nil {
		wc.ticker.Stop()
		close(wc.stop)
		wc.wg.Wait()
		wc.ticker = nil
		wc.log.Info("stopped")
	}
}

func (wc *WeekCloser) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer wc.wg.Done()

	// Run immediately on start
	wc.checkAndClose(context.Background())

	for {
		select {
		case <-ticker.C:
			wc.checkAndClose(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate check and returns the weeks it closed.
func (wc *WeekCloser) RunNow(ctx context.Context) []WeekClosure {
	return wc.checkAndClose(ctx)
}

// Closures returns the retained closures, newest first.
func (wc *WeekCloser) Closures() []WeekClosure {
	wc.stateMu.Lock()
	defer wc.stateMu.Unlock()

	out := make([]WeekClosure, len(wc.closures))
	for i, c := range wc.closures {
		out[len(out)-1-i] = c
	}
	return out
}

// LastClosed returns the most recent closed week, 0 if none.
func (wc *WeekCloser) LastClosed() pool.Week {
	wc.stateMu.Lock()
	defer wc.stateMu.Unlock()
	return wc.lastClosed
}

// Reset forgets every closure. Used after the store is wiped.
func (wc *WeekCloser) Reset() {
	wc.stateMu.Lock()
	defer wc.stateMu.Unlock()
	wc.initialized = false
	wc.lastClosed = 0
	wc.closures = nil
}

func (wc *WeekCloser) checkAndClose(ctx context.Context) []WeekClosure {
	wc.stateMu.Lock()
	defer wc.stateMu.Unlock()

	current := wc.Engine.CurrentWeek()
	metrics.CurrentWeek.Set(float64(current))

	if stats, err := wc.Engine.GetStats(ctx, current); err != nil {
		wc.log.Error("refresh gauges", "week", current, "error", err)
	} else {
		metrics.ActiveUnits.Set(float64(stats.ActiveUnitCount))
		metrics.CumulativeSavings.Set(stats.CumulativeSavings.InexactFloat64())
	}

	if !wc.initialized {
		wc.lastClosed = max(current-2, 0)
		wc.initialized = true
	}

	var closed []WeekClosure
	for w := wc.lastClosed + 1; w < current; w++ {
		c, err := wc.closeWeek(ctx, w)
		if err != nil {
			wc.log.Error("close week", "week", w, "error", err)
			break
		}
		wc.lastClosed = w
		wc.closures = append(wc.closures, c)
		if wc.Retain > 0 && len(wc.closures) > wc.Retain {
			wc.closures = wc.closures[len(wc.closures)-wc.Retain:]
		}
		closed = append(closed, c)
	}

	if len(closed) > 0 {
		wc.log.Info("weeks closed", "count", len(closed), "through", wc.lastClosed)
	}
	return closed
}

func (wc *WeekCloser) closeWeek(ctx context.Context, w pool.Week) (WeekClosure, error) {
	summary, err := wc.Engine.WeekSummary(ctx, w)
	if err != nil {
		return WeekClosure{}, err
	}
	units, err := wc.Engine.ListUnits(ctx)
	if err != nil {
		return WeekClosure{}, err
	}

	c := WeekClosure{
		Week:      w,
		Holiday:   summary.Holiday,
		Collected: summary.Collected,
		Expected:  summary.Expected,
		Shortfall: decimal.Max(summary.Expected.Sub(summary.Collected), decimal.Zero),
		ClosedAt:  time.Now().UTC(),
	}
	for _, row := range summary.Collaborators {
		if row.Status == pool.PaymentPending {
			c.Pending = append(c.Pending, row.Collaborator.ID)
		}
	}
	for _, u := range units {
		if u.ExpiryWeek == w {
			c.ExpiredUnits = append(c.ExpiredUnits, u.ID)
		}
	}

	metrics.WeeksClosed.Inc()
	metrics.WeekShortfall.Set(c.Shortfall.InexactFloat64())
	wc.log.Info("week closed",
		"week", w,
		"collected", c.Collected.String(),
		"expected", c.Expected.String(),
		"pending", len(c.Pending),
		"expired_units", len(c.ExpiredUnits),
	)
	return c, nil
}
