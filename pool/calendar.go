/*
calendar.go - Week index arithmetic and holiday-aware expiry

PURPOSE:
  The whole engine counts time in 1-based week indices from a fixed start
  date. A configured set of holiday weeks does not count toward a unit's
  earning duration, so expiry is a stepped walk rather than a subtraction.

WEEK INDEX:
  weekOf(t) = max(1, floor((t - start) / 7d) + 1)
  Week 1 is [start, start+7d). Instants before start clamp to week 1.

EXPIRY:
  Starting at the purchase week, walk forward one week at a time counting
  non-holiday weeks. The expiry week is the first week at which the count
  reaches the earning duration. A holiday purchase week does not count,
  but the unit is still purchased that week.

  Holidays {10,11,12}, purchase week 1, duration 75:
    weeks 1..9 earn 9, weeks 10..12 earn 0, weeks 13..78 earn 66
    expiry = 78

SEE ALSO:
  - registry.go: Units store the computed expiry
  - config/config.go: Where start date and holidays come from
*/
package pool

import (
	"fmt"
	"sort"
	"time"
)

// Week is a 1-based week index counted from the calendar start date.
type Week int

// Valid reports whether w is a real week index.
func (w Week) Valid() bool { return w >= 1 }

const weekDuration = 7 * 24 * time.Hour

// =============================================================================
// CALENDAR
// =============================================================================

// Calendar maps instants to week indices and answers holiday lookups.
// It is immutable after construction and safe for concurrent use.
type Calendar struct {
	start    time.Time
	holidays map[Week]struct{}
}

// NewCalendar creates a calendar anchored at start with the given holiday weeks.
func NewCalendar(start time.Time, holidays []Week) *Calendar {
	set := make(map[Week]struct{}, len(holidays))
	for _, w := range holidays {
		set[w] = struct{}{}
	}
	return &Calendar{start: start, holidays: set}
}

// Start returns the calendar epoch.
func (c *Calendar) Start() time.Time { return c.start }

// WeekOf returns the week containing t.
func (c *Calendar) WeekOf(t time.Time) Week {
	elapsed := t.Sub(c.start)
	n := elapsed / weekDuration
	if elapsed < 0 && elapsed%weekDuration != 0 {
		n--
	}
	w := Week(n) + 1
	if w < 1 {
		return 1
	}
	return w
}

// StartOf returns the first instant of week w.
func (c *Calendar) StartOf(w Week) time.Time {
	return c.start.Add(time.Duration(w-1) * weekDuration)
}

// IsHoliday is a pure lookup against the configured set.
func (c *Calendar) IsHoliday(w Week) bool {
	_, ok := c.holidays[w]
	return ok
}

// Holidays returns the configured holiday weeks in ascending order.
func (c *Calendar) Holidays() []Week {
	out := make([]Week, 0, len(c.holidays))
	for w := range c.holidays {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EarningWeeksBetween counts non-holiday weeks in [from, to].
func (c *Calendar) EarningWeeksBetween(from, to Week) int {
	n := 0
	for w := from; w <= to; w++ {
		if !c.IsHoliday(w) {
			n++
		}
	}
	return n
}

// =============================================================================
// EXPIRY CALCULATOR
// =============================================================================

// ExpiryWeek returns the week a unit purchased in purchaseWeek stops earning.
//
// The walk fails with a ConfigurationError if it goes more than
// 10*earningDuration consecutive weeks without counting an earning week.
func (c *Calendar) ExpiryWeek(purchaseWeek Week, earningDuration int) (Week, error) {
	if !purchaseWeek.Valid() {
		return 0, &ValidationError{Field: "purchase_week", Reason: "must be >= 1"}
	}
	if earningDuration < 1 {
		return 0, &ValidationError{Field: "earning_duration", Reason: "must be >= 1"}
	}

	limit := 10 * earningDuration
	cursor := purchaseWeek
	earned := 0
	stalled := 0
	for {
		if c.IsHoliday(cursor) {
			stalled++
			if stalled > limit {
				return 0, &ConfigurationError{Message: fmt.Sprintf(
					"no earning week within %d weeks starting at week %d", limit, cursor-Week(stalled)+1)}
			}
		} else {
			earned++
			stalled = 0
			if earned == earningDuration {
				return cursor, nil
			}
		}
		cursor++
	}
}
