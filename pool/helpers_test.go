package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/pool/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var startDate = time.Date(2025, time.October, 20, 0, 0, 0, 0, time.UTC)

func testRoster() pool.Roster {
	return pool.Roster{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
		{ID: "dave", Name: "Dave"},
	}
}

func testConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Roster = testRoster()
	cfg.TargetSharePerCollaborator = 3
	return cfg
}

func amount(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// clockAt returns a clock pinned one hour into week w.
func clockAt(w pool.Week) func() time.Time {
	return func() time.Time {
		return startDate.Add(time.Duration(w-1)*7*24*time.Hour + time.Hour)
	}
}

// movableClock lets a test advance the current week between calls.
type movableClock struct{ week pool.Week }

func (c *movableClock) now() time.Time { return clockAt(c.week)() }

func newTestEngine(t *testing.T, backend pool.Backend, cfg pool.Config, opts ...pool.Option) *pool.Engine {
	t.Helper()
	if backend == nil {
		backend = store.NewMemory()
	}
	opts = append([]pool.Option{pool.WithClock(clockAt(1)), pool.WithRetryDelay(0)}, opts...)
	e, err := pool.NewEngine(backend, cfg, opts...)
	require.NoError(t, err)
	return e
}

func bootstrapped(t *testing.T, cfg pool.Config, opts ...pool.Option) (*pool.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	e := newTestEngine(t, mem, cfg, opts...)
	_, err := e.Bootstrap(context.Background())
	require.NoError(t, err)
	return e, mem
}

// requirePurchaseInvariant checks that every New unit has exactly one
// purchase entry of -cost and that no purchase entry is orphaned.
func requirePurchaseInvariant(t *testing.T, snap pool.Snapshot) {
	t.Helper()
	byID := make(map[pool.UnitID]pool.Unit)
	for _, u := range snap.Units {
		byID[u.ID] = u
		if u.Kind != pool.KindNew {
			continue
		}
		purchases := snap.Entries.PurchaseFor(u.ID)
		require.Len(t, purchases, 1, "unit %d", u.ID)
		require.True(t, purchases[0].Amount.Equal(u.Cost.Neg()), "unit %d paid %s", u.ID, purchases[0].Amount)
	}
	for _, e := range snap.Entries {
		if !e.Purchase {
			continue
		}
		u, ok := byID[e.UnitID]
		require.True(t, ok, "entry %s references missing unit %d", e.ID, e.UnitID)
		require.Equal(t, pool.KindNew, u.Kind)
	}
}
