/*
Package config loads the engine configuration from a TOML file.

FORMAT:
  start_date = 2025-10-20
  holiday_weeks = [10, 11, 62, 63, 114, 115]
  base_contribution_per_collaborator = 75000
  new_unit_cost = 5000000
  new_unit_weekly_return = 125000
  new_unit_earning_duration = 52
  target_unit_count = 12
  target_share_per_collaborator = 3     # optional, derived when 0
  currency = "COP"
  max_purchase_attempts = 5
  operation_timeout = "5s"

  [original_units]
  count = 4
  weekly_return = 75000
  earning_duration = 75
  cost = 3600000

  [[roster]]
  id = "alice"
  name = "Alice"
  target_share = 3                      # optional personal cap

Keys that are absent keep the defaults of the original deployment. Unknown
keys are rejected so a typo never silently falls back to a default.
Amounts may be written as integers, floats or decimal strings.

SEE ALSO:
  - pool/config.go: The engine-side Config and its validation
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/kingdom/pool-engine/pool"
)

// DefaultCurrency is used for display when the file does not name one.
const DefaultCurrency = "COP"

// File mirrors the TOML document.
type File struct {
	StartDate                       time.Time `toml:"start_date"`
	HolidayWeeks                    []int     `toml:"holiday_weeks"`
	BaseContributionPerCollaborator Amount    `toml:"base_contribution_per_collaborator"`
	NewUnitCost                     Amount    `toml:"new_unit_cost"`
	NewUnitWeeklyReturn             Amount    `toml:"new_unit_weekly_return"`
	NewUnitEarningDuration          int       `toml:"new_unit_earning_duration"`
	TargetUnitCount                 int       `toml:"target_unit_count"`
	TargetSharePerCollaborator      int       `toml:"target_share_per_collaborator"`
	Currency                        string    `toml:"currency"`
	MaxPurchaseAttempts             int       `toml:"max_purchase_attempts"`
	OperationTimeout                string    `toml:"operation_timeout"`

	OriginalUnits OriginalUnits `toml:"original_units"`
	Roster        []Member      `toml:"roster"`
}

// OriginalUnits is the [original_units] table.
type OriginalUnits struct {
	Count           int    `toml:"count"`
	WeeklyReturn    Amount `toml:"weekly_return"`
	EarningDuration int    `toml:"earning_duration"`
	Cost            Amount `toml:"cost"`
}

// Member is one [[roster]] entry.
type Member struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	TargetShare int    `toml:"target_share"`
}

// Amount decodes a TOML integer, float or string into a decimal.
type Amount struct {
	decimal.Decimal
}

// UnmarshalTOML implements toml.Unmarshaler.
func (a *Amount) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		a.Decimal = decimal.NewFromInt(x)
	case float64:
		a.Decimal = decimal.NewFromFloat(x)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", x, err)
		}
		a.Decimal = d
	default:
		return fmt.Errorf("invalid amount of type %T", v)
	}
	return nil
}

// Default returns the file that reproduces pool.DefaultConfig, with an
// empty roster.
func Default() File {
	d := pool.DefaultConfig()
	holidays := make([]int, len(d.HolidayWeeks))
	for i, w := range d.HolidayWeeks {
		holidays[i] = int(w)
	}
	return File{
		StartDate:                       d.StartDate,
		HolidayWeeks:                    holidays,
		BaseContributionPerCollaborator: Amount{d.BaseContributionPerCollaborator},
		NewUnitCost:                     Amount{d.NewUnitCost},
		NewUnitWeeklyReturn:             Amount{d.NewUnitWeeklyReturn},
		NewUnitEarningDuration:          d.NewUnitEarningDuration,
		TargetUnitCount:                 d.TargetUnitCount,
		TargetSharePerCollaborator:      d.TargetSharePerCollaborator,
		Currency:                        DefaultCurrency,
		MaxPurchaseAttempts:             d.MaxPurchaseAttempts,
		OperationTimeout:                d.OperationTimeout.String(),
		OriginalUnits: OriginalUnits{
			Count:           d.OriginalUnits.Count,
			WeeklyReturn:    Amount{d.OriginalUnits.WeeklyReturn},
			EarningDuration: d.OriginalUnits.EarningDuration,
			Cost:            Amount{d.OriginalUnits.Cost},
		},
	}
}

// Load reads path over the defaults. A missing file is an error; use
// LoadOptional for the "config is optional" case.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(string(data))
	if err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// LoadOptional is Load, except that a missing file yields the defaults.
func LoadOptional(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return f, err
}

// Parse decodes a TOML document over the defaults.
func Parse(doc string) (File, error) {
	f := Default()
	md, err := toml.Decode(doc, &f)
	if err != nil {
		return File{}, &pool.ConfigurationError{Message: err.Error()}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return File{}, &pool.ConfigurationError{Message: "unknown keys: " + strings.Join(keys, ", ")}
	}
	return f, nil
}

// PoolConfig converts the file into a validated engine configuration.
func (f File) PoolConfig() (pool.Config, error) {
	timeout, err := time.ParseDuration(f.OperationTimeout)
	if err != nil {
		return pool.Config{}, &pool.ConfigurationError{Message: fmt.Sprintf("operation_timeout %q: %v", f.OperationTimeout, err)}
	}

	holidays := f.holidayWeeks()
	roster := make(pool.Roster, len(f.Roster))
	for i, m := range f.Roster {
		roster[i] = pool.Collaborator{
			ID:          pool.CollaboratorID(m.ID),
			Name:        m.Name,
			TargetShare: m.TargetShare,
		}
	}

	cfg := pool.Config{
		StartDate:                       dateUTC(f.StartDate),
		HolidayWeeks:                    holidays,
		BaseContributionPerCollaborator: f.BaseContributionPerCollaborator.Decimal,
		NewUnitCost:                     f.NewUnitCost.Decimal,
		NewUnitWeeklyReturn:             f.NewUnitWeeklyReturn.Decimal,
		NewUnitEarningDuration:          f.NewUnitEarningDuration,
		TargetUnitCount:                 f.TargetUnitCount,
		TargetSharePerCollaborator:      f.TargetSharePerCollaborator,
		Roster:                          roster,
		OriginalUnits: pool.OriginalUnits{
			Count:           f.OriginalUnits.Count,
			WeeklyReturn:    f.OriginalUnits.WeeklyReturn.Decimal,
			EarningDuration: f.OriginalUnits.EarningDuration,
			Cost:            f.OriginalUnits.Cost.Decimal,
		},
		MaxPurchaseAttempts: f.MaxPurchaseAttempts,
		OperationTimeout:    timeout,
	}
	if err := cfg.Validate(); err != nil {
		return pool.Config{}, err
	}
	return cfg, nil
}

// Calendar builds the week calendar without validating the rest of the file.
func (f File) Calendar() *pool.Calendar {
	return pool.NewCalendar(dateUTC(f.StartDate), f.holidayWeeks())
}

func (f File) holidayWeeks() []pool.Week {
	out := make([]pool.Week, len(f.HolidayWeeks))
	for i, w := range f.HolidayWeeks {
		out[i] = pool.Week(w)
	}
	return out
}

// CurrencyCode is the ISO code used for display, upper-cased.
func (f File) CurrencyCode() string {
	if f.Currency == "" {
		return DefaultCurrency
	}
	return strings.ToUpper(f.Currency)
}

// dateUTC keeps the calendar date of t at midnight UTC. TOML local dates
// decode in time.Local.
func dateUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
