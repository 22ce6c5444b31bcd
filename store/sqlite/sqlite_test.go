package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/pool/store/storetest"
	"github.com/kingdom/pool-engine/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Roster = pool.Roster{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
		{ID: "dave", Name: "Dave"},
	}
	cfg.TargetSharePerCollaborator = 3
	return cfg
}

func fixedClock() time.Time {
	return time.Date(2025, time.November, 4, 10, 0, 0, 0, time.UTC) // week 3
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) pool.Backend { return newTestStore(t) })
}

// =============================================================================
// SCHEMA TESTS
// =============================================================================

func TestSQLite_MigratesToLatest(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, uint(1), s.SchemaVersion())
}

func TestSQLite_PurchaseEntryNeedsUnit(t *testing.T) {
	// GIVEN: An empty registry
	// WHEN: A purchase entry references unit 7
	// THEN: The foreign key rejects it as a missing unit

	s := newTestStore(t)
	e := storetest.Entry("p1", 1, -5_000_000)
	e.Purchase = true
	e.UnitID = 7

	err := s.AppendEntry(context.Background(), e)
	assert.True(t, pool.IsNotFound(err), "got %v", err)
}

func TestSQLite_OnePurchaseEntryPerUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertUnit(ctx, storetest.Unit(1)))

	for i, id := range []string{"p1", "p2"} {
		e := storetest.Entry(id, 1, -5_000_000)
		e.Purchase = true
		e.UnitID = 1
		err := s.AppendEntry(ctx, e)
		if i == 0 {
			require.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, pool.ErrValidation)
		}
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	e, err := pool.NewEngine(s, testConfig(), pool.WithClock(fixedClock))
	require.NoError(t, err)
	_, err = e.Bootstrap(ctx)
	require.NoError(t, err)
	_, err = e.LogContribution(ctx, 3, pool.DefaultConfig().BaseContributionPerCollaborator, "alice", "")
	require.NoError(t, err)
	_, err = e.PurchaseUnit(ctx, "alice", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint(1), reopened.SchemaVersion())

	e, err = pool.NewEngine(reopened, testConfig(), pool.WithClock(fixedClock))
	require.NoError(t, err)
	created, err := e.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)

	units, err := e.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 5)
	assert.Equal(t, pool.Week(3), units[4].PurchaseWeek)
	assert.True(t, fixedClock().Equal(units[4].PurchasedAt))

	entries, err := e.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// =============================================================================
// ENGINE INTEGRATION TESTS
// =============================================================================

func TestSQLite_ConcurrentPurchasesSerialize(t *testing.T) {
	// GIVEN: A bootstrapped pool on SQLite
	// WHEN: Eight purchases race
	// THEN: Ids 5..12 are assigned without gaps, each on the first attempt

	s := newTestStore(t)
	e, err := pool.NewEngine(s, testConfig(), pool.WithClock(fixedClock))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = e.Bootstrap(ctx)
	require.NoError(t, err)

	attempts := make([]int, 8)
	var g errgroup.Group
	for i := range attempts {
		g.Go(func() error {
			p, err := e.PurchaseUnit(ctx, "bob", "")
			attempts[i] = p.Attempts
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, a := range attempts {
		assert.Equal(t, 1, a)
	}

	units, err := e.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 12)
	for i, u := range units {
		assert.Equal(t, pool.UnitID(i+1), u.ID)
	}
	assert.Equal(t, []int{2, 2, 2, 2}, pool.OwnershipCounts(units, testConfig().Roster))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	for _, u := range snap.Units.OfKind(pool.KindNew) {
		purchases := snap.Entries.PurchaseFor(u.ID)
		require.Len(t, purchases, 1)
		assert.True(t, purchases[0].Amount.Equal(u.Cost.Neg()))
	}
}

func TestSQLite_ResetClearsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertUnit(ctx, storetest.Unit(1)))
	require.NoError(t, s.AppendEntry(ctx, storetest.Entry("e1", 1, 10)))

	require.NoError(t, s.Reset(ctx))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Units)
	assert.Empty(t, snap.Entries)
}
