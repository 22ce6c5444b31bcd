/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario starts from a wiped store with the
	Original units, then logs contributions and purchases through the
	engine so every invariant the engine enforces also holds for demo data.

AVAILABLE SCENARIOS:

	fresh-pool:        Original units only, nothing paid yet
	steady-payers:     Everyone pays their expected amount every working week
	first-purchase:    Steady payments followed by one rotation purchase
	full-rotation:     Purchases until every collaborator holds their share
	missed-payments:   Steady payments except the last collaborator skips weeks

HOW SCENARIOS WORK:
 1. Reset the store and the week closer
 2. Bootstrap the Original units
 3. Log each week's expected payments up to the current week
 4. Optionally purchase units in the current week

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "first-purchase"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with ID, name, description and loader
 2. Build the loader from payWeeks and purchaseN

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared helpers
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kingdom/pool-engine/pool"
)

// scenarioActor is recorded on purchase entries made by scenario loaders.
const scenarioActor pool.CollaboratorID = "scenario"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *pool.Engine) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fresh-pool",
			Name:        "Fresh Pool",
			Description: "Original units only, no contributions logged",
		},
		load: func(ctx context.Context, e *pool.Engine) error { return nil },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "steady-payers",
			Name:        "Steady Payers",
			Description: "Every collaborator pays their expected amount each working week",
		},
		load: func(ctx context.Context, e *pool.Engine) error {
			return payWeeks(ctx, e, 1, e.CurrentWeek(), nil)
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-purchase",
			Name:        "First Purchase",
			Description: "Steady payments, then the rotation buys the first New unit",
		},
		load: func(ctx context.Context, e *pool.Engine) error {
			if err := payWeeks(ctx, e, 1, e.CurrentWeek(), nil); err != nil {
				return err
			}
			_, err := purchaseN(ctx, e, 1)
			return err
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "full-rotation",
			Name:        "Full Rotation",
			Description: "Purchases until every collaborator owns their target share",
		},
		load: func(ctx context.Context, e *pool.Engine) error {
			if err := payWeeks(ctx, e, 1, e.CurrentWeek(), nil); err != nil {
				return err
			}
			_, err := purchaseN(ctx, e, -1)
			return err
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "missed-payments",
			Name:        "Missed Payments",
			Description: "The last collaborator only pays on odd weeks",
		},
		load: func(ctx context.Context, e *pool.Engine) error {
			roster := e.Roster()
			if len(roster) == 0 {
				return payWeeks(ctx, e, 1, e.CurrentWeek(), nil)
			}
			late := roster[len(roster)-1].ID
			return payWeeks(ctx, e, 1, e.CurrentWeek(), func(id pool.CollaboratorID, w pool.Week) bool {
				return id == late && w%2 == 0
			})
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario wipes the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.resetLocked(ctx); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := s.load(ctx, h.Engine); err != nil {
		h.writeDomainError(w, fmt.Errorf("load scenario %s: %w", s.ID, err))
		return
	}
	h.currentScenario = s.ID
	h.log.Info("scenario loaded", "scenario", s.ID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": s.ID})
}

// ResetPool wipes the store and recreates the Original units.
func (h *Handler) ResetPool(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetLocked(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resetLocked must be called with h.mu held.
func (h *Handler) resetLocked(ctx context.Context) error {
	if h.Store == nil {
		return errors.New("store does not support reset")
	}
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""
	if h.Closer != nil {
		h.Closer.Reset()
	}
	_, err := h.Engine.Bootstrap(ctx)
	return err
}

// =============================================================================
// LOADERS
// =============================================================================

// payWeeks logs each collaborator's expected payment for every non-holiday
// week in [from, to]. skip may veto individual payments.
func payWeeks(ctx context.Context, e *pool.Engine, from, to pool.Week, skip func(pool.CollaboratorID, pool.Week) bool) error {
	cal := e.Calendar()
	for w := from; w <= to; w++ {
		if cal.IsHoliday(w) {
			continue
		}
		breakdowns, err := e.GetPaymentBreakdown(ctx, w)
		if err != nil {
			return err
		}
		for _, b := range breakdowns {
			if skip != nil && skip(b.Collaborator.ID, w) {
				continue
			}
			if _, err := e.LogContribution(ctx, w, b.TotalExpected, b.Collaborator.ID, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// purchaseN buys up to n units through the rotation, or until it is
// exhausted when n < 0. It returns the number bought.
func purchaseN(ctx context.Context, e *pool.Engine, n int) (int, error) {
	bought := 0
	for n < 0 || bought < n {
		if _, ok, err := e.NextOwner(ctx); err != nil {
			return bought, err
		} else if !ok {
			if n < 0 {
				return bought, nil
			}
			return bought, &pool.ValidationError{Field: "owner", Reason: "rotation exhausted"}
		}
		if _, err := e.PurchaseUnit(ctx, scenarioActor, ""); err != nil {
			return bought, err
		}
		bought++
	}
	return bought, nil
}
