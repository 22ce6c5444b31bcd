package store_test

import (
	"context"
	"testing"

	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/pool/store"
	"github.com/kingdom/pool-engine/pool/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) pool.Backend { return store.NewMemory() })
}

// =============================================================================
// OPTIMISTIC COMMIT TESTS
// =============================================================================

func TestMemory_WithTx_ConflictingCommitDiscarded(t *testing.T) {
	// GIVEN: A transaction that read max id 0
	// WHEN: Another writer inserts unit 1 before it commits
	// THEN: Its commit fails with SequenceError and none of its writes land

	m := store.NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx pool.Store) error {
		require.NoError(t, tx.AppendEntry(ctx, storetest.Entry("mine", 1, 10)))
		require.NoError(t, tx.InsertUnit(ctx, storetest.Unit(1)))

		// concurrent writer wins the race
		require.NoError(t, m.InsertUnit(ctx, storetest.Unit(1)))
		return nil
	})

	var serr *pool.SequenceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, pool.UnitID(2), serr.Expected)

	_, err = m.GetEntry(ctx, "mine")
	assert.True(t, pool.IsNotFound(err))
	units, err := m.LoadUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

func TestMemory_WithTx_ReadOnlyDoesNotNotify(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	pushes := 0
	cancel := m.Subscribe(pool.CollectionUnits, func(pool.Snapshot) { pushes++ })
	defer cancel()

	require.NoError(t, m.WithTx(ctx, func(tx pool.Store) error {
		_, err := tx.LoadUnits(ctx)
		return err
	}))
	assert.Zero(t, pushes)
}

func TestMemory_Reset(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.InsertUnit(ctx, storetest.Unit(1)))
	require.NoError(t, m.AppendEntry(ctx, storetest.Entry("e1", 1, 10)))

	require.NoError(t, m.Reset(ctx))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Units)
	assert.Empty(t, snap.Entries)
	require.NoError(t, m.InsertUnit(ctx, storetest.Unit(1)), "sequence restarts at 1")
}

func TestMemory_CanceledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.AppendEntry(ctx, storetest.Entry("e1", 1, 10)), context.Canceled)
	_, err := m.LoadUnits(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
