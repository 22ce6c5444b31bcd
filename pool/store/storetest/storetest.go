// Package storetest holds the behaviour every pool.Backend must share.
// Each backend's tests call Run with a constructor for a fresh empty store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kingdom/pool-engine/pool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) pool.Backend

// Run executes the shared suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("EntryRoundTrip", func(t *testing.T) { testEntryRoundTrip(t, newStore(t)) })
	t.Run("DuplicateEntryRejected", func(t *testing.T) { testDuplicateEntry(t, newStore(t)) })
	t.Run("DeleteMissingEntry", func(t *testing.T) { testDeleteMissing(t, newStore(t)) })
	t.Run("UnitsAreSequential", func(t *testing.T) { testUnitSequence(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("SnapshotIsConsistent", func(t *testing.T) { testSnapshot(t, newStore(t)) })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, newStore(t)) })
	t.Run("SubscribeDropsStalePush", func(t *testing.T) { testSubscribeDropsStalePush(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

var logged = time.Date(2025, time.October, 21, 9, 30, 15, 123456789, time.UTC)

// Entry returns a valid contribution.
func Entry(id string, week pool.Week, amount int64) pool.LedgerEntry {
	return pool.LedgerEntry{
		ID:       pool.EntryID(id),
		Week:     week,
		Amount:   decimal.NewFromInt(amount),
		Actor:    "alice",
		LoggedAt: logged,
		Note:     "week " + id,
	}
}

// Unit returns a valid New unit owned by alice.
func Unit(id pool.UnitID) pool.Unit {
	return pool.Unit{
		ID:              id,
		Kind:            pool.KindNew,
		PurchaseWeek:    2,
		PurchasedAt:     logged,
		WeeklyReturn:    decimal.NewFromInt(125_000),
		EarningDuration: 52,
		ExpiryWeek:      55,
		Cost:            decimal.NewFromInt(5_000_000),
		Owner:           "alice",
	}
}

// =============================================================================
// CASES
// =============================================================================

func testEntryRoundTrip(t *testing.T, s pool.Backend) {
	ctx := context.Background()
	require.NoError(t, s.InsertUnit(ctx, Unit(1)))

	in := Entry("e1", 3, 75_000)
	in.Holiday = true
	require.NoError(t, s.AppendEntry(ctx, in))

	purchase := pool.LedgerEntry{
		ID: "p1", Week: 2, Amount: decimal.NewFromInt(-5_000_000), Actor: "bob",
		LoggedAt: logged, Purchase: true, UnitID: 1,
	}
	require.NoError(t, s.AppendEntry(ctx, purchase))

	got, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, in.Week, got.Week)
	assert.True(t, in.Amount.Equal(got.Amount))
	assert.Equal(t, in.Actor, got.Actor)
	assert.True(t, in.LoggedAt.Equal(got.LoggedAt))
	assert.True(t, got.Holiday)
	assert.Equal(t, in.Note, got.Note)

	got, err = s.GetEntry(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Purchase)
	assert.Equal(t, pool.UnitID(1), got.UnitID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(-5_000_000)))

	u, err := s.GetUnit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pool.KindNew, u.Kind)
	assert.Equal(t, pool.Week(55), u.ExpiryWeek)
	assert.True(t, u.PurchasedAt.Equal(logged))
	assert.True(t, u.WeeklyReturn.Equal(decimal.NewFromInt(125_000)))
	assert.Equal(t, pool.CollaboratorID("alice"), u.Owner)

	_, err = s.GetUnit(ctx, 2)
	assert.True(t, pool.IsNotFound(err))
	_, err = s.GetEntry(ctx, "missing")
	assert.True(t, pool.IsNotFound(err))

	all, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testDuplicateEntry(t *testing.T, s pool.Backend) {
	ctx := context.Background()
	require.NoError(t, s.AppendEntry(ctx, Entry("e1", 1, 10)))

	err := s.AppendEntry(ctx, Entry("e1", 2, 20))
	assert.ErrorIs(t, err, pool.ErrValidation)

	got, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, pool.Week(1), got.Week)
}

func testDeleteMissing(t *testing.T, s pool.Backend) {
	ctx := context.Background()
	require.NoError(t, s.AppendEntry(ctx, Entry("e1", 1, 10)))
	require.NoError(t, s.DeleteEntry(ctx, "e1"))

	err := s.DeleteEntry(ctx, "e1")
	var nf *pool.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, pool.CollectionEntries, nf.Collection)
}

func testUnitSequence(t *testing.T, s pool.Backend) {
	ctx := context.Background()
	require.NoError(t, s.InsertUnit(ctx, Unit(1)))
	require.NoError(t, s.InsertUnit(ctx, Unit(2)))

	for _, bad := range []pool.UnitID{2, 4, 1} {
		err := s.InsertUnit(ctx, Unit(bad))
		var serr *pool.SequenceError
		require.ErrorAs(t, err, &serr, "id %d", bad)
		assert.Equal(t, pool.UnitID(3), serr.Expected)
		assert.Equal(t, bad, serr.Got)
	}

	require.NoError(t, s.InsertUnit(ctx, Unit(3)))
	units, err := s.LoadUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pool.UnitID{1, 2, 3}, units.IDs())
}

func testTxCommit(t *testing.T, s pool.Backend) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx pool.Store) error {
		units, err := tx.LoadUnits(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertUnit(ctx, Unit(units.MaxID()+1)); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, Entry("e1", 1, 10)); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		got, err := tx.GetUnit(ctx, 1)
		if err != nil {
			return err
		}
		if got.ID != 1 {
			return errors.New("unexpected unit")
		}
		return nil
	})
	require.NoError(t, err)

	units, err := s.LoadUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 1)
	entries, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testTxRollback(t *testing.T, s pool.Backend) {
	ctx := context.Background()
	require.NoError(t, s.AppendEntry(ctx, Entry("keep", 1, 10)))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx pool.Store) error {
		if err := tx.InsertUnit(ctx, Unit(1)); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, "keep"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	units, err := s.LoadUnits(ctx)
	require.NoError(t, err)
	assert.Empty(t, units)
	_, err = s.GetEntry(ctx, "keep")
	assert.NoError(t, err)
}

func testSnapshot(t *testing.T, s pool.Backend) {
	ctx := context.Background()
	require.NoError(t, s.InsertUnit(ctx, Unit(1)))
	require.NoError(t, s.AppendEntry(ctx, Entry("e1", 1, 10)))
	require.NoError(t, s.AppendEntry(ctx, Entry("e2", 2, 10)))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Units, 1)
	assert.Len(t, snap.Entries, 2)
}

func testSubscribe(t *testing.T, s pool.Backend) {
	sub, ok := s.(pool.Subscriber)
	if !ok {
		t.Skip("backend does not push changes")
	}
	ctx := context.Background()

	var entryPushes, unitPushes []pool.Snapshot
	cancelEntries := sub.Subscribe(pool.CollectionEntries, func(s pool.Snapshot) { entryPushes = append(entryPushes, s) })
	cancelUnits := sub.Subscribe(pool.CollectionUnits, func(s pool.Snapshot) { unitPushes = append(unitPushes, s) })
	defer cancelUnits()

	require.NoError(t, s.AppendEntry(ctx, Entry("e1", 1, 10)))
	require.NoError(t, s.InsertUnit(ctx, Unit(1)))

	require.Len(t, entryPushes, 1)
	assert.Len(t, entryPushes[0].Entries, 1)
	require.Len(t, unitPushes, 1)
	assert.Len(t, unitPushes[0].Units, 1)
	assert.Len(t, unitPushes[0].Entries, 1, "pushes carry both collections")

	_ = s.AppendEntry(ctx, Entry("dup", 1, 10))
	_ = s.AppendEntry(ctx, Entry("dup", 1, 10))
	assert.Len(t, entryPushes, 2, "failed writes are not pushed")

	cancelEntries()
	require.NoError(t, s.AppendEntry(ctx, Entry("e3", 1, 10)))
	assert.Len(t, entryPushes, 2)
}

func testSubscribeDropsStalePush(t *testing.T, s pool.Backend) {
	// GIVEN: A transaction writing unit 1 and entry e1 whose push is held up
	//        by a slow entries subscriber
	// WHEN: Unit 2 commits and is pushed before the held push resumes
	// THEN: The units subscriber keeps the state with both units

	sub, ok := s.(pool.Subscriber)
	if !ok {
		t.Skip("backend does not push changes")
	}
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cancelEntries := sub.Subscribe(pool.CollectionEntries, func(pool.Snapshot) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	defer cancelEntries()

	var mu sync.Mutex
	var last pool.Snapshot
	cancelUnits := sub.Subscribe(pool.CollectionUnits, func(snap pool.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		last = snap
	})
	defer cancelUnits()

	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx pool.Store) error {
			if err := tx.InsertUnit(ctx, Unit(1)); err != nil {
				return err
			}
			return tx.AppendEntry(ctx, Entry("e1", 1, 10))
		})
	}()

	<-entered
	require.NoError(t, s.InsertUnit(ctx, Unit(2)))
	close(release)
	require.NoError(t, <-done)

	units, err := s.LoadUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, last.Units, 2)
	assert.Len(t, last.Entries, 1)
}
