/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario produces the state it describes and that
	loading one always starts from a wiped store with the Original units.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/pool"
)

func loadScenario(t *testing.T, env *testEnv, id string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}, "")
	requireStatus(t, rec, http.StatusOK)
}

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodGet, "/api/scenarios", nil, "")
	requireStatus(t, rec, http.StatusOK)
	list := decode[[]ScenarioDTO](t, rec)

	require.Len(t, list, len(scenarios))
	for _, s := range list {
		assert.NotEmpty(t, s.Name, s.ID)
		assert.NotEmpty(t, s.Description, s.ID)
	}
}

func TestScenario_SteadyPayers(t *testing.T) {
	// GIVEN: The clock in week 4
	// WHEN: The steady-payers scenario is loaded
	// THEN: Four collaborators paid four weeks of base share

	env := newTestEnv(t, testConfig(), 4)
	loadScenario(t, env, "steady-payers")

	stats, err := env.handler.Engine.GetStats(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, stats.CumulativeSavings.Equal(decimal.NewFromInt(16*75_000)))
	assert.Equal(t, 4, stats.TotalUnits)

	rec := env.do(t, http.MethodGet, "/api/scenarios/current", nil, "")
	assert.Equal(t, "steady-payers", decode[ScenarioDTO](t, rec).ID)
}

func TestScenario_FirstPurchase(t *testing.T) {
	env := newTestEnv(t, testConfig(), 4)
	loadScenario(t, env, "first-purchase")

	ctx := context.Background()
	units, err := env.handler.Engine.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 5)
	assert.Equal(t, pool.CollaboratorID("alice"), units[4].Owner)
	assert.Equal(t, pool.Week(4), units[4].PurchaseWeek)

	entries, err := env.handler.Engine.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 17)
}

func TestScenario_FullRotation(t *testing.T) {
	env := newTestEnv(t, testConfig(), 2)
	loadScenario(t, env, "full-rotation")

	ctx := context.Background()
	units, err := env.handler.Engine.ListUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 16)
	assert.Equal(t, []int{3, 3, 3, 3}, pool.OwnershipCounts(units, testConfig().Roster))

	_, ok, err := env.handler.Engine.NextOwner(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := env.store.Snapshot(ctx)
	require.NoError(t, err)
	for _, u := range snap.Units.OfKind(pool.KindNew) {
		assert.Len(t, snap.Entries.PurchaseFor(u.ID), 1, "unit %d", u.ID)
	}
}

func TestScenario_MissedPayments(t *testing.T) {
	env := newTestEnv(t, testConfig(), 4)
	loadScenario(t, env, "missed-payments")

	weeks, err := env.handler.Engine.OutstandingWeeks(context.Background(), "dave", 4)
	require.NoError(t, err)
	assert.Equal(t, []pool.Week{2, 4}, weeks)

	weeks, err = env.handler.Engine.OutstandingWeeks(context.Background(), "alice", 4)
	require.NoError(t, err)
	assert.Empty(t, weeks)
}

func TestScenario_LoadReplacesPreviousState(t *testing.T) {
	// GIVEN: A pool with a purchase and a stale closure
	// WHEN: fresh-pool is loaded
	// THEN: Only the Original units remain and the closer forgot its history

	env := newTestEnv(t, testConfig(), 3)
	requireStatus(t, env.do(t, http.MethodPost, "/api/units/purchase", nil, "alice"), http.StatusCreated)
	env.handler.Closer.RunNow(context.Background())
	require.NotEmpty(t, env.handler.Closer.Closures())

	loadScenario(t, env, "fresh-pool")

	units, err := env.handler.Engine.ListUnits(context.Background())
	require.NoError(t, err)
	assert.Len(t, units, 4)
	assert.Empty(t, env.handler.Closer.Closures())
}

func TestScenario_Errors(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, "")
	requireStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodPost, "/api/scenarios/load", "{", "")
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/scenarios/current", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "null\n", rec.Body.String())

	noReset := NewHandler(env.handler.Engine, nil, "USD", logging.Nop())
	router := NewRouter(noReset)
	env.router = router
	rec = env.do(t, http.MethodPost, "/api/scenarios/reset", nil, "")
	requireStatus(t, rec, http.StatusInternalServerError)
}

func TestResetPool(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)
	pay(t, env, "alice", 1, "75000")
	loadScenario(t, env, "steady-payers")

	rec := env.do(t, http.MethodPost, "/api/scenarios/reset", nil, "")
	requireStatus(t, rec, http.StatusOK)

	entries, err := env.handler.Engine.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec = env.do(t, http.MethodGet, "/api/scenarios/current", nil, "")
	assert.Equal(t, "null\n", rec.Body.String())
}
