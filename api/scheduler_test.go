package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingdom/pool-engine/pool"
)

func TestWeekCloser_ClosesFinishedWeeks(t *testing.T) {
	// GIVEN: Alice paid week 1 and nobody paid week 2
	// WHEN: The clock moves from week 1 to week 3
	// THEN: Weeks 1 and 2 are closed with their shortfalls

	env := newTestEnv(t, testConfig(), 1)
	ctx := context.Background()
	closer := env.handler.Closer

	assert.Empty(t, closer.RunNow(ctx), "nothing has finished in week 1")
	pay(t, env, "alice", 1, "75000")

	env.clock.set(3)
	closed := closer.RunNow(ctx)

	require.Len(t, closed, 2)
	first := closed[0]
	assert.Equal(t, pool.Week(1), first.Week)
	assert.True(t, first.Collected.Equal(decimal.NewFromInt(75_000)))
	assert.True(t, first.Shortfall.Equal(decimal.NewFromInt(225_000)))
	assert.Equal(t, []pool.CollaboratorID{"bob", "carol", "dave"}, first.Pending)
	assert.Empty(t, first.ExpiredUnits)

	assert.Equal(t, pool.Week(2), closed[1].Week)
	assert.Len(t, closed[1].Pending, 4)
	assert.Equal(t, pool.Week(2), closer.LastClosed())

	assert.Empty(t, closer.RunNow(ctx), "closed weeks are not closed twice")

	rec := env.do(t, http.MethodGet, "/api/weeks/closed", nil, "")
	requireStatus(t, rec, http.StatusOK)
	dtos := decode[[]WeekClosureDTO](t, rec)
	require.Len(t, dtos, 2)
	assert.Equal(t, 2, dtos[0].Week, "newest first")
	assert.Equal(t, []string{"bob", "carol", "dave"}, dtos[1].Pending)
}

func TestWeekCloser_FirstRunClosesOnlyPreviousWeek(t *testing.T) {
	env := newTestEnv(t, testConfig(), 6)

	closed := env.handler.Closer.RunNow(context.Background())

	require.Len(t, closed, 1)
	assert.Equal(t, pool.Week(5), closed[0].Week)
}

func TestWeekCloser_ReportsExpiredUnits(t *testing.T) {
	// GIVEN: Originals that earn for two weeks
	// WHEN: Week 2 is closed
	// THEN: All four originals are reported as expiring in week 2

	cfg := testConfig()
	cfg.OriginalUnits.EarningDuration = 2
	env := newTestEnv(t, cfg, 2)
	ctx := context.Background()

	closer := env.handler.Closer
	closer.RunNow(ctx)
	env.clock.set(3)
	closed := closer.RunNow(ctx)

	require.Len(t, closed, 1)
	assert.Equal(t, []pool.UnitID{1, 2, 3, 4}, closed[0].ExpiredUnits)
}

func TestWeekCloser_HolidayHasNoShortfall(t *testing.T) {
	env := newTestEnv(t, testConfig(), 11)

	closed := env.handler.Closer.RunNow(context.Background())

	require.Len(t, closed, 1)
	assert.Equal(t, pool.Week(10), closed[0].Week)
	assert.True(t, closed[0].Holiday)
	assert.True(t, closed[0].Shortfall.IsZero())
	assert.Empty(t, closed[0].Pending)
}

func TestWeekCloser_RetainBoundsHistory(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)
	closer := env.handler.Closer
	closer.Retain = 3
	ctx := context.Background()

	closer.RunNow(ctx)
	env.clock.set(9)
	closer.RunNow(ctx)

	closures := closer.Closures()
	require.Len(t, closures, 3)
	assert.Equal(t, pool.Week(8), closures[0].Week)
	assert.Equal(t, pool.Week(6), closures[2].Week)

	closer.Reset()
	assert.Empty(t, closer.Closures())
	assert.Equal(t, pool.Week(0), closer.LastClosed())
}

func TestWeekCloser_StartStop(t *testing.T) {
	env := newTestEnv(t, testConfig(), 4)
	closer := env.handler.Closer

	closer.Start()
	closer.Start()
	closer.Stop()
	closer.Stop()

	assert.Equal(t, pool.Week(3), closer.LastClosed(), "start runs a check immediately")

	closer.Enabled = false
	closer.Start()
	closer.Stop()
}
