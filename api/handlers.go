/*
handlers.go - HTTP API handlers for the pool engine

PURPOSE:
  Exposes the ledger and rotation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to pool.Engine.

ENDPOINTS:
  Stats & payments:
    GET    /api/stats?week=                       Dashboard stats
    GET    /api/payments?week=                    Expected payment per collaborator
    GET    /api/weeks/{week}                      Collected vs expected for a week
    GET    /api/weeks/closed                      Closures recorded by the week closer
    GET    /api/collaborators                     Roster
    GET    /api/collaborators/{id}/outstanding    Unpaid non-holiday weeks

  Ledger:
    GET    /api/entries?week=&actor=              Entries, newest first
    POST   /api/entries                           Log a contribution
    PUT    /api/entries/{id}                      Replace a contribution
    DELETE /api/entries/{id}                      Remove a contribution

  Units:
    GET    /api/units?status=&owner=&week=        Registry
    POST   /api/units/purchase                    Buy a New unit
    GET    /api/rotation/next                     Preview the next owner

  Calendar:
    GET    /api/calendar                          Start date, current week, holidays

IDENTITY:
  Writes take the acting collaborator from the X-Collaborator-ID header.
  Authentication happens upstream; the engine only checks roster membership.

ERROR HANDLING:
  Errors are returned as JSON with the status given by their kind:
  - 400: validation
  - 401: missing X-Collaborator-ID on a write
  - 404: not found
  - 409: unit id sequence conflict
  - 503: purchase contention (retryable, with Retry-After)
  - 504: operation timeout (retryable)
  - 500: configuration and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - scheduler.go: Week closer
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/pool"
)

// ActorHeader carries the acting collaborator's id.
const ActorHeader = "X-Collaborator-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes the backing store. Scenarios need it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine   *pool.Engine
	Store    Resetter
	Closer   *WeekCloser
	Currency string

	log *logging.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. store may be nil, in which case the
// scenario endpoints report an error.
func NewHandler(engine *pool.Engine, store Resetter, currency string, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Currency: currency,
		log:      log.WithComponent("api"),
	}
}

// =============================================================================
// STATS & PAYMENTS
// =============================================================================

// GetStats returns the dashboard stats.
// GET /api/stats?week=
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	week, ok := h.weekParam(w, r)
	if !ok {
		return
	}
	stats, err := h.Engine.GetStats(r.Context(), week)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats, h.Currency))
}

// GetPayments returns each collaborator's expected weekly payment.
// GET /api/payments?week=
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	week, ok := h.weekParam(w, r)
	if !ok {
		return
	}
	breakdowns, err := h.Engine.GetPaymentBreakdown(r.Context(), week)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]PaymentBreakdownDTO, 0, len(breakdowns))
	for _, b := range breakdowns {
		dtos = append(dtos, PaymentBreakdownDTO{
			Collaborator:           toCollaboratorDTO(b.Collaborator),
			BaseShare:              b.BaseShare,
			OwnedUnitsContribution: b.OwnedUnitsContribution,
			TotalExpected:          b.TotalExpected,
			TotalExpectedDisplay:   formatMoney(b.TotalExpected, h.Currency),
			OwnedUnitIDs:           unitIDsToInts(b.OwnedUnitIDs),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetWeek compares collected and expected money for one week.
// GET /api/weeks/{week}
func (h *Handler) GetWeek(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "week"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid week", err)
		return
	}
	week := pool.Week(n)

	summary, err := h.Engine.WeekSummary(r.Context(), week)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dto := WeekSummaryDTO{
		Week:             int(summary.Week),
		StartsAt:         h.Engine.Calendar().StartOf(week),
		Holiday:          summary.Holiday,
		Collected:        summary.Collected,
		CollectedDisplay: formatMoney(summary.Collected, h.Currency),
		Expected:         summary.Expected,
		ExpectedDisplay:  formatMoney(summary.Expected, h.Currency),
		Collaborators:    make([]CollaboratorWeekDTO, 0, len(summary.Collaborators)),
	}
	for _, row := range summary.Collaborators {
		dto.Collaborators = append(dto.Collaborators, CollaboratorWeekDTO{
			Collaborator: toCollaboratorDTO(row.Collaborator),
			Expected:     row.Expected,
			Paid:         row.Paid,
			Status:       string(row.Status),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListClosedWeeks returns the week closer's records, newest first.
// GET /api/weeks/closed
func (h *Handler) ListClosedWeeks(w http.ResponseWriter, r *http.Request) {
	dtos := []WeekClosureDTO{}
	if h.Closer == nil {
		writeJSON(w, http.StatusOK, dtos)
		return
	}
	for _, c := range h.Closer.Closures() {
		pending := make([]string, len(c.Pending))
		for i, id := range c.Pending {
			pending[i] = string(id)
		}
		dtos = append(dtos, WeekClosureDTO{
			Week:         int(c.Week),
			Holiday:      c.Holiday,
			Collected:    c.Collected,
			Expected:     c.Expected,
			Shortfall:    c.Shortfall,
			Pending:      pending,
			ExpiredUnits: unitIDsToInts(c.ExpiredUnits),
			ClosedAt:     c.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCollaborators returns the roster.
// GET /api/collaborators
func (h *Handler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	roster := h.Engine.Roster()
	dtos := make([]CollaboratorDTO, len(roster))
	for i, c := range roster {
		dtos[i] = toCollaboratorDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOutstanding lists the weeks a collaborator has not paid.
// GET /api/collaborators/{id}/outstanding?week=
func (h *Handler) GetOutstanding(w http.ResponseWriter, r *http.Request) {
	week, ok := h.weekParam(w, r)
	if !ok {
		return
	}
	id := pool.CollaboratorID(chi.URLParam(r, "id"))

	weeks, err := h.Engine.OutstandingWeeks(r.Context(), id, week)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OutstandingDTO{
		Collaborator: string(id),
		AsOfWeek:     int(week),
		Weeks:        weeksToInts(weeks),
	})
}

// =============================================================================
// LEDGER
// =============================================================================

// ListEntries returns ledger entries, newest first.
// GET /api/entries?week=&actor=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.ListEntries(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	q := r.URL.Query()
	if raw := q.Get("week"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid week", err)
			return
		}
		entries = entries.ForWeek(pool.Week(n))
	}
	if actor := q.Get("actor"); actor != "" {
		entries = entries.ByActor(pool.CollaboratorID(actor))
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e, h.Currency))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LogContribution appends a contribution for the calling collaborator.
// POST /api/entries
func (h *Handler) LogContribution(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req LogContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Engine.LogContribution(r.Context(), pool.Week(req.Week), req.Amount, actor, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry, h.Currency))
}

// CorrectContribution replaces a contribution with a new entry.
// PUT /api/entries/{id}
func (h *Handler) CorrectContribution(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req CorrectContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := pool.EntryID(chi.URLParam(r, "id"))
	entry, err := h.Engine.CorrectContribution(r.Context(), id, pool.Week(req.Week), req.Amount, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, h.Currency))
}

// DeleteEntry removes a contribution.
// DELETE /api/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id := pool.EntryID(chi.URLParam(r, "id"))
	if err := h.Engine.DeleteEntry(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// UNITS
// =============================================================================

// ListUnits returns the registry with each unit's status for the week.
// GET /api/units?status=active|expired&owner=&week=
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	week, ok := h.weekParam(w, r)
	if !ok {
		return
	}
	units, err := h.Engine.ListUnits(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	q := r.URL.Query()
	status := pool.UnitStatus(q.Get("status"))
	owner := pool.CollaboratorID(q.Get("owner"))

	dtos := []UnitDTO{}
	for _, u := range units {
		if status != "" && u.Status(week) != status {
			continue
		}
		if owner != "" && !u.IsOwnedBy(owner) {
			continue
		}
		dtos = append(dtos, toUnitDTO(u, week))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PurchaseUnit buys a New unit. An empty owner lets the rotation decide.
// POST /api/units/purchase
func (h *Handler) PurchaseUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.PurchaseUnit(r.Context(), actor, pool.CollaboratorID(req.Owner))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PurchaseDTO{
		Unit:     toUnitDTO(p.Unit, p.Unit.PurchaseWeek),
		Entry:    toEntryDTO(p.Entry, h.Currency),
		Attempts: p.Attempts,
		Rotated:  p.Rotated,
	})
}

// GetNextOwner previews the rotation.
// GET /api/rotation/next
func (h *Handler) GetNextOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	next, ok, err := h.Engine.NextOwner(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	units, err := h.Engine.ListUnits(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	roster := h.Engine.Roster()
	counts := pool.OwnershipCounts(units, roster)
	dto := RotationDTO{
		Exhausted:   !ok,
		TargetShare: h.Engine.Config().TargetShare(),
		Owned:       make(map[string]int, len(roster)),
	}
	for i, c := range roster {
		dto.Owned[string(c.ID)] = counts[i]
	}
	if ok {
		c := toCollaboratorDTO(next)
		dto.NextOwner = &c
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// CALENDAR
// =============================================================================

// GetCalendar describes the week calendar.
// GET /api/calendar
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	cal := h.Engine.Calendar()
	current := h.Engine.CurrentWeek()
	writeJSON(w, http.StatusOK, CalendarDTO{
		StartDate:    cal.Start(),
		CurrentWeek:  int(current),
		WeekStartsAt: cal.StartOf(current),
		HolidayWeeks: weeksToInts(cal.Holidays()),
		Currency:     h.Currency,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// weekParam reads ?week=, defaulting to the current week. It writes a 400
// and returns false when the value is not an integer or is below week 1.
func (h *Handler) weekParam(w http.ResponseWriter, r *http.Request) (pool.Week, bool) {
	raw := r.URL.Query().Get("week")
	if raw == "" {
		return h.Engine.CurrentWeek(), true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid week", err)
		return 0, false
	}
	if week := pool.Week(n); !week.Valid() {
		h.writeDomainError(w, &pool.ValidationError{Field: "week", Reason: "must be >= 1"})
		return 0, false
	}
	return pool.Week(n), true
}

func requireActor(w http.ResponseWriter, r *http.Request) (pool.CollaboratorID, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "Missing " + ActorHeader + " header",
			Code:  "unauthenticated",
		})
		return "", false
	}
	return pool.CollaboratorID(actor), true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind pool.ErrorKind) int {
	switch kind {
	case pool.KindValidation:
		return http.StatusBadRequest
	case pool.KindNotFound:
		return http.StatusNotFound
	case pool.KindSequence:
		return http.StatusConflict
	case pool.KindContention:
		return http.StatusServiceUnavailable
	case pool.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	kind := pool.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      string(kind),
		Retryable: pool.IsRetryable(err),
	}
	var verr *pool.ValidationError
	if errors.As(err, &verr) {
		resp.Details = map[string]string{"field": verr.Field, "reason": verr.Reason}
	}
	if kind == pool.KindContention {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
