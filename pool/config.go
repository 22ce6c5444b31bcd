package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every option the engine recognizes.
type Config struct {
	StartDate                       time.Time
	HolidayWeeks                    []Week
	BaseContributionPerCollaborator decimal.Decimal
	NewUnitCost                     decimal.Decimal
	NewUnitWeeklyReturn             decimal.Decimal
	NewUnitEarningDuration          int
	TargetUnitCount                 int
	TargetSharePerCollaborator      int
	Roster                          Roster
	OriginalUnits                   OriginalUnits

	MaxPurchaseAttempts int
	OperationTimeout    time.Duration
}

// OriginalUnits describes the shared units the pool started with.
type OriginalUnits struct {
	Count           int
	WeeklyReturn    decimal.Decimal
	EarningDuration int
	Cost            decimal.Decimal
}

// DefaultConfig returns the settings of the original deployment.
func DefaultConfig() Config {
	return Config{
		StartDate:                       time.Date(2025, time.October, 20, 0, 0, 0, 0, time.UTC),
		HolidayWeeks:                    []Week{10, 11, 62, 63, 114, 115},
		BaseContributionPerCollaborator: decimal.NewFromInt(75_000),
		NewUnitCost:                     decimal.NewFromInt(5_000_000),
		NewUnitWeeklyReturn:             decimal.NewFromInt(125_000),
		NewUnitEarningDuration:          52,
		TargetUnitCount:                 12,
		OriginalUnits: OriginalUnits{
			Count:           4,
			WeeklyReturn:    decimal.NewFromInt(75_000),
			EarningDuration: 75,
			Cost:            decimal.NewFromInt(3_600_000),
		},
		MaxPurchaseAttempts: 5,
		OperationTimeout:    5 * time.Second,
	}
}

// TargetShare is the rotation target per collaborator. When not set
// explicitly it is the New units needed to reach TargetUnitCount, split
// evenly across the roster.
func (c Config) TargetShare() int {
	if c.TargetSharePerCollaborator > 0 {
		return c.TargetSharePerCollaborator
	}
	if len(c.Roster) == 0 {
		return 0
	}
	needed := c.TargetUnitCount - c.OriginalUnits.Count
	if needed <= 0 {
		return 0
	}
	return needed / len(c.Roster)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string

	if c.StartDate.IsZero() {
		problems = append(problems, "start date is required")
	}
	for _, w := range c.HolidayWeeks {
		if !w.Valid() {
			problems = append(problems, fmt.Sprintf("holiday week %d must be >= 1", w))
		}
	}
	if c.BaseContributionPerCollaborator.IsNegative() {
		problems = append(problems, "base contribution must not be negative")
	}
	if !c.NewUnitCost.IsPositive() {
		problems = append(problems, "new unit cost must be positive")
	}
	if !c.NewUnitWeeklyReturn.IsPositive() {
		problems = append(problems, "new unit weekly return must be positive")
	}
	if c.NewUnitEarningDuration < 1 {
		problems = append(problems, "new unit earning duration must be >= 1")
	}
	if c.OriginalUnits.Count < 0 {
		problems = append(problems, "original unit count must not be negative")
	}
	if c.OriginalUnits.Count > 0 {
		if !c.OriginalUnits.WeeklyReturn.IsPositive() {
			problems = append(problems, "original unit weekly return must be positive")
		}
		if c.OriginalUnits.EarningDuration < 1 {
			problems = append(problems, "original unit earning duration must be >= 1")
		}
	}
	if len(c.Roster) == 0 {
		problems = append(problems, "roster must list at least one collaborator")
	}
	seen := make(map[CollaboratorID]bool)
	for i, m := range c.Roster {
		if m.ID == "" {
			problems = append(problems, fmt.Sprintf("roster[%d] has no id", i))
			continue
		}
		if seen[m.ID] {
			problems = append(problems, fmt.Sprintf("roster id %q listed twice", m.ID))
		}
		seen[m.ID] = true
	}
	if c.MaxPurchaseAttempts < 1 {
		problems = append(problems, "max purchase attempts must be >= 1")
	}
	if c.OperationTimeout <= 0 {
		problems = append(problems, "operation timeout must be positive")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Message: strings.Join(problems, "; ")}
	}
	return nil
}
