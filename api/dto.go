/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the pool domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal strings ("75000"), never floats. Each amount has a
  *_display sibling formatted for the configured currency ("$75,000.00"),
  so clients do not need to know the currency's fraction or separators.

TYPES:
  Stats:     StatsDTO
  Payments:  PaymentBreakdownDTO, WeekSummaryDTO, CollaboratorWeekDTO,
             OutstandingDTO
  Ledger:    EntryDTO, LogContributionRequest, CorrectContributionRequest
  Units:     UnitDTO, PurchaseRequest, PurchaseDTO, RotationDTO
  Calendar:  CalendarDTO, WeekClosureDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/kingdom/pool-engine/pool"
)

// =============================================================================
// STATS
// =============================================================================

// StatsDTO is the dashboard summary for one week.
type StatsDTO struct {
	Week                        int             `json:"week"`
	IsHolidayWeek               bool            `json:"is_holiday_week"`
	ActiveUnitCount             int             `json:"active_unit_count"`
	TotalUnits                  int             `json:"total_units"`
	TargetUnitCount             int             `json:"target_unit_count"`
	CumulativeSavings           decimal.Decimal `json:"cumulative_savings"`
	CumulativeSavingsDisplay    string          `json:"cumulative_savings_display"`
	CurrentWeeklyIncome         decimal.Decimal `json:"current_weekly_income"`
	CurrentWeeklyIncomeDisplay  string          `json:"current_weekly_income_display"`
	CollaboratorShare           decimal.Decimal `json:"collaborator_share"`
	NextPurchaseCost            decimal.Decimal `json:"next_purchase_cost"`
	NextPurchaseProgressPercent decimal.Decimal `json:"next_purchase_progress_percent"`
	CanPurchase                 bool            `json:"can_purchase"`
	NextOwner                   string          `json:"next_owner,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// CollaboratorDTO is a roster member.
type CollaboratorDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TargetShare int    `json:"target_share,omitempty"`
}

// PaymentBreakdownDTO is one collaborator's expected weekly payment.
type PaymentBreakdownDTO struct {
	Collaborator           CollaboratorDTO `json:"collaborator"`
	BaseShare              decimal.Decimal `json:"base_share"`
	OwnedUnitsContribution decimal.Decimal `json:"owned_units_contribution"`
	TotalExpected          decimal.Decimal `json:"total_expected"`
	TotalExpectedDisplay   string          `json:"total_expected_display"`
	OwnedUnitIDs           []int           `json:"owned_unit_ids"`
}

// CollaboratorWeekDTO is one row of a week summary.
type CollaboratorWeekDTO struct {
	Collaborator CollaboratorDTO `json:"collaborator"`
	Expected     decimal.Decimal `json:"expected"`
	Paid         decimal.Decimal `json:"paid"`
	Status       string          `json:"status"`
}

// WeekSummaryDTO compares collected and expected money for one week.
type WeekSummaryDTO struct {
	Week             int                   `json:"week"`
	StartsAt         time.Time             `json:"starts_at"`
	Holiday          bool                  `json:"holiday"`
	Collected        decimal.Decimal       `json:"collected"`
	CollectedDisplay string                `json:"collected_display"`
	Expected         decimal.Decimal       `json:"expected"`
	ExpectedDisplay  string                `json:"expected_display"`
	Collaborators    []CollaboratorWeekDTO `json:"collaborators"`
}

// OutstandingDTO lists the weeks a collaborator still owes.
type OutstandingDTO struct {
	Collaborator string `json:"collaborator"`
	AsOfWeek     int    `json:"as_of_week"`
	Weeks        []int  `json:"weeks"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO is a ledger entry.
type EntryDTO struct {
	ID            string          `json:"id"`
	Week          int             `json:"week"`
	Amount        decimal.Decimal `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	Actor         string          `json:"actor"`
	LoggedAt      time.Time       `json:"logged_at"`
	Holiday       bool            `json:"holiday"`
	Purchase      bool            `json:"purchase"`
	UnitID        *int            `json:"unit_id,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// LogContributionRequest is the body of POST /api/entries. The actor comes
// from the X-Collaborator-ID header.
type LogContributionRequest struct {
	Week   int             `json:"week"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// CorrectContributionRequest is the body of PUT /api/entries/{id}.
type CorrectContributionRequest struct {
	Week   int             `json:"week"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// =============================================================================
// UNITS
// =============================================================================

// UnitDTO is a registry unit with its status for the requested week.
type UnitDTO struct {
	ID              int             `json:"id"`
	Kind            string          `json:"kind"`
	Status          string          `json:"status"`
	PurchaseWeek    int             `json:"purchase_week"`
	PurchasedAt     time.Time       `json:"purchased_at"`
	ExpiryWeek      int             `json:"expiry_week"`
	EarningDuration int             `json:"earning_duration"`
	WeeklyReturn    decimal.Decimal `json:"weekly_return"`
	Cost            decimal.Decimal `json:"cost"`
	Owner           string          `json:"owner,omitempty"`
}

// PurchaseRequest is the body of POST /api/units/purchase. Owner may be
// empty to let the rotation choose.
type PurchaseRequest struct {
	Owner string `json:"owner"`
}

// PurchaseDTO is the committed purchase.
type PurchaseDTO struct {
	Unit     UnitDTO  `json:"unit"`
	Entry    EntryDTO `json:"entry"`
	Attempts int      `json:"attempts"`
	Rotated  bool     `json:"rotated"`
}

// RotationDTO previews the next owner.
type RotationDTO struct {
	NextOwner   *CollaboratorDTO `json:"next_owner"`
	Exhausted   bool             `json:"exhausted"`
	TargetShare int              `json:"target_share"`
	Owned       map[string]int   `json:"owned"`
}

// =============================================================================
// CALENDAR
// =============================================================================

// CalendarDTO describes the week calendar.
type CalendarDTO struct {
	StartDate    time.Time `json:"start_date"`
	CurrentWeek  int       `json:"current_week"`
	WeekStartsAt time.Time `json:"week_starts_at"`
	HolidayWeeks []int     `json:"holiday_weeks"`
	Currency     string    `json:"currency"`
}

// WeekClosureDTO is the record the week closer keeps for a finished week.
type WeekClosureDTO struct {
	Week         int             `json:"week"`
	Holiday      bool            `json:"holiday"`
	Collected    decimal.Decimal `json:"collected"`
	Expected     decimal.Decimal `json:"expected"`
	Shortfall    decimal.Decimal `json:"shortfall"`
	Pending      []string        `json:"pending"`
	ExpiredUnits []int           `json:"expired_units"`
	ClosedAt     time.Time       `json:"closed_at"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// formatMoney renders d in currency. Unknown currencies fall back to the
// plain decimal string.
func formatMoney(d decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return d.String()
	}
	minor := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

func toCollaboratorDTO(c pool.Collaborator) CollaboratorDTO {
	return CollaboratorDTO{ID: string(c.ID), Name: c.Name, TargetShare: c.TargetShare}
}

func toEntryDTO(e pool.LedgerEntry, currency string) EntryDTO {
	dto := EntryDTO{
		ID:            string(e.ID),
		Week:          int(e.Week),
		Amount:        e.Amount,
		AmountDisplay: formatMoney(e.Amount, currency),
		Actor:         string(e.Actor),
		LoggedAt:      e.LoggedAt,
		Holiday:       e.Holiday,
		Purchase:      e.Purchase,
		Note:          e.Note,
	}
	if e.Purchase {
		id := int(e.UnitID)
		dto.UnitID = &id
	}
	return dto
}

func toUnitDTO(u pool.Unit, asOf pool.Week) UnitDTO {
	return UnitDTO{
		ID:              int(u.ID),
		Kind:            string(u.Kind),
		Status:          string(u.Status(asOf)),
		PurchaseWeek:    int(u.PurchaseWeek),
		PurchasedAt:     u.PurchasedAt,
		ExpiryWeek:      int(u.ExpiryWeek),
		EarningDuration: u.EarningDuration,
		WeeklyReturn:    u.WeeklyReturn,
		Cost:            u.Cost,
		Owner:           string(u.Owner),
	}
}

func toStatsDTO(s pool.Stats, currency string) StatsDTO {
	return StatsDTO{
		Week:                        int(s.AsOfWeek),
		IsHolidayWeek:               s.IsHolidayWeek,
		ActiveUnitCount:             s.ActiveUnitCount,
		TotalUnits:                  s.TotalUnits,
		TargetUnitCount:             s.TargetUnitCount,
		CumulativeSavings:           s.CumulativeSavings,
		CumulativeSavingsDisplay:    formatMoney(s.CumulativeSavings, currency),
		CurrentWeeklyIncome:         s.CurrentWeeklyIncome,
		CurrentWeeklyIncomeDisplay:  formatMoney(s.CurrentWeeklyIncome, currency),
		CollaboratorShare:           s.CollaboratorShare,
		NextPurchaseCost:            s.NextPurchaseCost,
		NextPurchaseProgressPercent: s.NextPurchaseProgressPercent,
		CanPurchase:                 s.CanPurchase,
		NextOwner:                   string(s.NextOwner),
	}
}

func weeksToInts(ws []pool.Week) []int {
	out := make([]int, len(ws))
	for i, w := range ws {
		out[i] = int(w)
	}
	return out
}

func unitIDsToInts(ids []pool.UnitID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
