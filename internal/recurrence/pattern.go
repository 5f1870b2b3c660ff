// Package recurrence answers which days a repeating calendar pattern claims.
// Everything here is pure calendar arithmetic; days are UTC midnight values
// and weekdays are numbered Monday = 0 through Sunday = 6.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks malformed patterns, days and times.
var ErrInvalid = errors.New("invalid input")

// Frequencies.
const (
	FreqDaily          = "daily"
	FreqWeekly         = "weekly"
	FreqBiweekly       = "biweekly"
	FreqMonthly        = "monthly"
	FreqMonthlyWeekday = "monthly_weekday"
	FreqYearly         = "yearly"
	FreqCustom         = "custom"
)

// Interval units.
const (
	UnitDays   = "days"
	UnitWeeks  = "weeks"
	UnitMonths = "months"
	UnitYears  = "years"
)

// Pattern is the day-selection part of a recurring rule.
type Pattern struct {
	Frequency      string
	Interval       int
	Unit           string
	Start          time.Time
	End            *time.Time
	DaysOfWeek     []int
	DayOfMonth     *int
	MonthOfYear    *int
	WeekOfMonth    *int
	WeekdayOfMonth *int
}

var namedUnits = map[string]string{
	FreqDaily:          UnitDays,
	FreqWeekly:         UnitWeeks,
	FreqBiweekly:       UnitWeeks,
	FreqMonthly:        UnitMonths,
	FreqMonthlyWeekday: UnitMonths,
	FreqYearly:         UnitYears,
}

// Normalize derives the interval unit from a named frequency and fills the
// default interval. Biweekly is weekly with an interval of two.
func (p *Pattern) Normalize() {
	if p.Interval < 1 {
		p.Interval = 1
	}
	if unit, ok := namedUnits[p.Frequency]; ok {
		p.Unit = unit
	}
	if p.Frequency == FreqBiweekly {
		p.Interval = 2
	}
}

// Validate checks every field against its allowed range.
func (p *Pattern) Validate() error {
	var errs []string
	if _, ok := namedUnits[p.Frequency]; !ok && p.Frequency != FreqCustom {
		errs = append(errs, fmt.Sprintf("frequency %q is not supported", p.Frequency))
	}
	switch p.Unit {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
	default:
		errs = append(errs, fmt.Sprintf("interval unit %q is not supported", p.Unit))
	}
	if p.Interval < 1 {
		errs = append(errs, "interval must be at least 1")
	}
	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			errs = append(errs, fmt.Sprintf("day of week %d outside 0-6", d))
		}
	}
	if p.DayOfMonth != nil && (*p.DayOfMonth < 1 || *p.DayOfMonth > 31) {
		errs = append(errs, fmt.Sprintf("day of month %d outside 1-31", *p.DayOfMonth))
	}
	if p.MonthOfYear != nil && (*p.MonthOfYear < 1 || *p.MonthOfYear > 12) {
		errs = append(errs, fmt.Sprintf("month of year %d outside 1-12", *p.MonthOfYear))
	}
	if p.WeekOfMonth != nil && (*p.WeekOfMonth < 1 || *p.WeekOfMonth > 5) {
		errs = append(errs, fmt.Sprintf("week of month %d outside 1-5", *p.WeekOfMonth))
	}
	if p.WeekdayOfMonth != nil && (*p.WeekdayOfMonth < 0 || *p.WeekdayOfMonth > 6) {
		errs = append(errs, fmt.Sprintf("weekday of month %d outside 0-6", *p.WeekdayOfMonth))
	}
	if p.Start.IsZero() {
		errs = append(errs, "start day is required")
	}
	if p.End != nil && p.End.Before(p.Start) {
		errs = append(errs, "end day is before start day")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Active reports whether day lies within the pattern's [Start, End] bounds.
func (p *Pattern) Active(day time.Time) bool {
	if day.Before(p.Start) {
		return false
	}
	return p.End == nil || !day.After(*p.End)
}

// Between returns every claimed day in [from, to], in order.
func (p *Pattern) Between(from, to time.Time) []time.Time {
	if from.Before(p.Start) {
		from = p.Start
	}
	if p.End != nil && to.After(*p.End) {
		to = *p.End
	}
	var days []time.Time
	for d := from; !d.After(to); d = AddDays(d, 1) {
		if OccursOn(p, d) {
			days = append(days, d)
		}
	}
	return days
}
