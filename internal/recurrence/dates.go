package recurrence

import (
	"fmt"
	"time"
)

const (
	// DayLayout is the storage and wire format for calendar days.
	DayLayout = "2006-01-02"
	// ClockLayout is the storage and wire format for times of day.
	ClockLayout = "15:04"
)

// ParseDay parses an ISO date into a UTC midnight time.
func ParseDay(s string) (time.Time, error) {
	d, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: day %q is not YYYY-MM-DD", ErrInvalid, s)
	}
	return d, nil
}

// FormatDay renders a day in DayLayout.
func FormatDay(d time.Time) string {
	return d.Format(DayLayout)
}

// DayOf truncates t to its calendar day in t's own location and returns it
// as a UTC midnight value.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a day by n calendar days.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)).Hours() / 24)
}

// ParseClock parses HH:MM into minutes after midnight. Hours must carry
// both digits: stored times are compared as text.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil || len(s) != len(ClockLayout) {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalid, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes after midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Weekday returns the Monday-based weekday index (Monday = 0 … Sunday = 6).
func Weekday(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
