/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Stats, payments and week summaries over HTTP
- Contribution logging, correction and deletion
- Purchases and the rotation preview
- Error kinds mapped to HTTP status codes
*/
package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingdom/pool-engine/pool"
)

// =============================================================================
// STATS & PAYMENTS
// =============================================================================

func TestGetStats_FreshPool(t *testing.T) {
	// GIVEN: A bootstrapped pool in week 1
	// WHEN: Stats are requested without a week
	// THEN: The current week is used and the originals are the only income

	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodGet, "/api/stats", nil, "")
	requireStatus(t, rec, http.StatusOK)
	stats := decode[StatsDTO](t, rec)

	assert.Equal(t, 1, stats.Week)
	assert.Equal(t, 4, stats.ActiveUnitCount)
	assert.True(t, stats.CumulativeSavings.IsZero())
	assert.True(t, stats.CurrentWeeklyIncome.Equal(decimal.NewFromInt(300_000)))
	assert.Equal(t, "$300,000.00", stats.CurrentWeeklyIncomeDisplay)
	assert.Equal(t, "alice", stats.NextOwner)
	assert.False(t, stats.CanPurchase)
}

func TestGetStats_BadWeek(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodGet, "/api/stats?week=abc", nil, "")
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/stats?week=0", nil, "")
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "validation", decode[ErrorResponse](t, rec).Code)
}

func TestGetPayments_IncludesOwnedUnits(t *testing.T) {
	// GIVEN: Alice owns unit 5
	// WHEN: Payments are requested for the purchase week
	// THEN: Alice owes her base share plus a quarter of the unit's return

	env := newTestEnv(t, testConfig(), 2)
	rec := env.do(t, http.MethodPost, "/api/units/purchase", nil, "alice")
	requireStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodGet, "/api/payments?week=2", nil, "")
	requireStatus(t, rec, http.StatusOK)
	payments := decode[[]PaymentBreakdownDTO](t, rec)

	require.Len(t, payments, 4)
	assert.Equal(t, "alice", payments[0].Collaborator.ID)
	assert.True(t, payments[0].TotalExpected.Equal(decimal.NewFromInt(106_250)))
	assert.Equal(t, "$106,250.00", payments[0].TotalExpectedDisplay)
	assert.Equal(t, []int{5}, payments[0].OwnedUnitIDs)
	assert.True(t, payments[1].TotalExpected.Equal(decimal.NewFromInt(75_000)))
	assert.Empty(t, payments[1].OwnedUnitIDs)
}

func TestGetWeek_Summary(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)
	pay(t, env, "alice", 1, "75000")

	rec := env.do(t, http.MethodGet, "/api/weeks/1", nil, "")
	requireStatus(t, rec, http.StatusOK)
	summary := decode[WeekSummaryDTO](t, rec)

	assert.True(t, summary.Collected.Equal(decimal.NewFromInt(75_000)))
	assert.True(t, summary.Expected.Equal(decimal.NewFromInt(300_000)))
	assert.True(t, summary.StartsAt.Equal(testConfig().StartDate))
	require.Len(t, summary.Collaborators, 4)
	assert.Equal(t, "paid", summary.Collaborators[0].Status)
	assert.Equal(t, "pending", summary.Collaborators[1].Status)

	rec = env.do(t, http.MethodGet, "/api/weeks/10", nil, "")
	requireStatus(t, rec, http.StatusOK)
	holiday := decode[WeekSummaryDTO](t, rec)
	assert.True(t, holiday.Holiday)
	assert.True(t, holiday.Expected.IsZero())

	rec = env.do(t, http.MethodGet, "/api/weeks/abc", nil, "")
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestGetOutstanding(t *testing.T) {
	env := newTestEnv(t, testConfig(), 3)
	pay(t, env, "alice", 1, "75000")

	rec := env.do(t, http.MethodGet, "/api/collaborators/alice/outstanding", nil, "")
	requireStatus(t, rec, http.StatusOK)
	out := decode[OutstandingDTO](t, rec)
	assert.Equal(t, 3, out.AsOfWeek)
	assert.Equal(t, []int{2, 3}, out.Weeks)

	rec = env.do(t, http.MethodGet, "/api/collaborators/mallory/outstanding", nil, "")
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestListCollaborators(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodGet, "/api/collaborators", nil, "")
	requireStatus(t, rec, http.StatusOK)
	roster := decode[[]CollaboratorDTO](t, rec)

	require.Len(t, roster, 4)
	assert.Equal(t, CollaboratorDTO{ID: "dave", Name: "Dave"}, roster[3])
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLogContribution_RequiresActor(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodPost, "/api/entries", map[string]any{"week": 1, "amount": "75000"}, "")
	requireStatus(t, rec, http.StatusUnauthorized)
}

func TestLogContribution_Created(t *testing.T) {
	// GIVEN: Alice is on the roster
	// WHEN: She logs a payment for week 1
	// THEN: The entry is attributed to her and listed

	env := newTestEnv(t, testConfig(), 1)

	entry := pay(t, env, "alice", 1, "75000")
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, "$75,000.00", entry.AmountDisplay)
	assert.False(t, entry.Purchase)
	assert.Nil(t, entry.UnitID)

	rec := env.do(t, http.MethodGet, "/api/entries?actor=alice", nil, "")
	requireStatus(t, rec, http.StatusOK)
	entries := decode[[]EntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)

	rec = env.do(t, http.MethodGet, "/api/entries?week=2", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Empty(t, decode[[]EntryDTO](t, rec))
}

func TestLogContribution_Rejected(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	tests := []struct {
		name  string
		actor string
		body  any
		field string
	}{
		{"week zero", "alice", map[string]any{"week": 0, "amount": "75000"}, "week"},
		{"negative amount", "alice", map[string]any{"week": 1, "amount": "-1"}, "amount"},
		{"zero amount", "alice", map[string]any{"week": 1, "amount": 0}, "amount"},
		{"not on roster", "mallory", map[string]any{"week": 1, "amount": "75000"}, "actor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/entries", tt.body, tt.actor)
			requireStatus(t, rec, http.StatusBadRequest)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "validation", resp.Code)
			details, ok := resp.Details.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.field, details["field"])
		})
	}

	rec := env.do(t, http.MethodPost, "/api/entries", "{not json", "alice")
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestCorrectAndDeleteEntry(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)
	original := pay(t, env, "bob", 1, "70000")

	rec := env.do(t, http.MethodPut, "/api/entries/"+original.ID,
		map[string]any{"week": 1, "amount": "75000", "note": "typo"}, "bob")
	requireStatus(t, rec, http.StatusOK)
	corrected := decode[EntryDTO](t, rec)
	assert.NotEqual(t, original.ID, corrected.ID)
	assert.Equal(t, "bob", corrected.Actor)
	assert.True(t, corrected.Amount.Equal(decimal.NewFromInt(75_000)))

	rec = env.do(t, http.MethodDelete, "/api/entries/"+original.ID, nil, "bob")
	requireStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodDelete, "/api/entries/"+corrected.ID, nil, "bob")
	requireStatus(t, rec, http.StatusNoContent)

	rec = env.do(t, http.MethodGet, "/api/entries", nil, "")
	assert.Empty(t, decode[[]EntryDTO](t, rec))
}

// =============================================================================
// UNITS
// =============================================================================

func TestPurchaseUnit_ByRotation(t *testing.T) {
	// GIVEN: A fresh pool in week 1
	// WHEN: A purchase is made with no owner override
	// THEN: Unit 5 goes to Alice and its purchase entry cannot be deleted

	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodPost, "/api/units/purchase", nil, "carol")
	requireStatus(t, rec, http.StatusCreated)
	p := decode[PurchaseDTO](t, rec)

	assert.Equal(t, 5, p.Unit.ID)
	assert.Equal(t, "new", p.Unit.Kind)
	assert.Equal(t, "active", p.Unit.Status)
	assert.Equal(t, "alice", p.Unit.Owner)
	assert.Equal(t, 54, p.Unit.ExpiryWeek)
	assert.Equal(t, 1, p.Attempts)
	assert.True(t, p.Rotated)
	assert.True(t, p.Entry.Purchase)
	require.NotNil(t, p.Entry.UnitID)
	assert.Equal(t, 5, *p.Entry.UnitID)
	assert.Equal(t, "carol", p.Entry.Actor)
	assert.Equal(t, "-$5,000,000.00", p.Entry.AmountDisplay)

	rec = env.do(t, http.MethodDelete, "/api/entries/"+p.Entry.ID, nil, "carol")
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/rotation/next", nil, "")
	requireStatus(t, rec, http.StatusOK)
	rotation := decode[RotationDTO](t, rec)
	require.NotNil(t, rotation.NextOwner)
	assert.Equal(t, "bob", rotation.NextOwner.ID)
	assert.False(t, rotation.Exhausted)
	assert.Equal(t, 3, rotation.TargetShare)
	assert.Equal(t, map[string]int{"alice": 1, "bob": 0, "carol": 0, "dave": 0}, rotation.Owned)
}

func TestPurchaseUnit_OverrideAndErrors(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	rec := env.do(t, http.MethodPost, "/api/units/purchase", PurchaseRequest{Owner: "dave"}, "alice")
	requireStatus(t, rec, http.StatusCreated)
	p := decode[PurchaseDTO](t, rec)
	assert.Equal(t, "dave", p.Unit.Owner)
	assert.False(t, p.Rotated)

	rec = env.do(t, http.MethodPost, "/api/units/purchase", PurchaseRequest{Owner: "mallory"}, "alice")
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/units/purchase", nil, "")
	requireStatus(t, rec, http.StatusUnauthorized)
}

func TestListUnits_Filters(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)
	requireStatus(t, env.do(t, http.MethodPost, "/api/units/purchase", nil, "alice"), http.StatusCreated)

	rec := env.do(t, http.MethodGet, "/api/units", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decode[[]UnitDTO](t, rec), 5)

	rec = env.do(t, http.MethodGet, "/api/units?owner=alice", nil, "")
	owned := decode[[]UnitDTO](t, rec)
	require.Len(t, owned, 1)
	assert.Equal(t, 5, owned[0].ID)

	rec = env.do(t, http.MethodGet, "/api/units?status=expired&week=80", nil, "")
	assert.Len(t, decode[[]UnitDTO](t, rec), 5)

	rec = env.do(t, http.MethodGet, "/api/units?status=active&week=60", nil, "")
	active := decode[[]UnitDTO](t, rec)
	assert.Len(t, active, 4, "only the originals earn in week 60")
}

func TestListUnits_RejectsWeekBeforeStart(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)

	for _, week := range []string{"0", "-3"} {
		rec := env.do(t, http.MethodGet, "/api/units?status=active&week="+week, nil, "")
		requireStatus(t, rec, http.StatusBadRequest)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "validation", resp.Code, "week=%s", week)
		assert.Equal(t, map[string]any{"field": "week", "reason": "must be >= 1"}, resp.Details, "week=%s", week)
	}
}

// =============================================================================
// CALENDAR & PLUMBING
// =============================================================================

func TestGetCalendar(t *testing.T) {
	env := newTestEnv(t, testConfig(), 3)

	rec := env.do(t, http.MethodGet, "/api/calendar", nil, "")
	requireStatus(t, rec, http.StatusOK)
	cal := decode[CalendarDTO](t, rec)

	assert.Equal(t, 3, cal.CurrentWeek)
	assert.Equal(t, []int{10, 11, 62, 63, 114, 115}, cal.HolidayWeeks)
	assert.True(t, cal.WeekStartsAt.Equal(testConfig().StartDate.AddDate(0, 0, 14)))
	assert.Equal(t, "USD", cal.Currency)
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t, testConfig(), 1)
	pay(t, env, "alice", 1, "75000")

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")
	requireStatus(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "pool_ledger_contributions_logged_total")

	rec = env.do(t, http.MethodGet, "/healthz", nil, "")
	requireStatus(t, rec, http.StatusOK)
}

func TestWriteDomainError_StatusByKind(t *testing.T) {
	h := NewHandler(nil, nil, "USD", nil)

	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"validation", &pool.ValidationError{Field: "week", Reason: "must be >= 1"}, http.StatusBadRequest, false},
		{"not found", &pool.NotFoundError{Collection: "entries", ID: "x"}, http.StatusNotFound, false},
		{"sequence", &pool.SequenceError{Expected: 5, Got: 4}, http.StatusConflict, false},
		{"contention", &pool.ContentionError{Attempts: 3, Last: &pool.SequenceError{Expected: 6, Got: 5}}, http.StatusServiceUnavailable, true},
		{"timeout", &pool.TimeoutError{Op: "list_units", Err: errors.New("deadline")}, http.StatusGatewayTimeout, true},
		{"configuration", &pool.ConfigurationError{Message: "bad"}, http.StatusInternalServerError, false},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeDomainError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.retryable, resp.Retryable)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}
