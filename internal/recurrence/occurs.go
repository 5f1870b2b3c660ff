package recurrence

import "time"

// OccursOn reports whether the pattern claims day. Days outside the
// pattern's bounds never occur.
func OccursOn(p *Pattern, day time.Time) bool {
	if !p.Active(day) {
		return false
	}
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}
	start := p.Start

	if p.Frequency == FreqMonthlyWeekday {
		return occursMonthlyWeekday(p, day, interval)
	}

	switch p.Unit {
	case UnitDays:
		return DaysBetween(start, day)%interval == 0

	case UnitWeeks:
		weeksSince := DaysBetween(start, day) / 7
		if weeksSince%interval != 0 {
			return false
		}
		wd := Weekday(day)
		if len(p.DaysOfWeek) == 0 {
			return wd == Weekday(start)
		}
		for _, d := range p.DaysOfWeek {
			if d == wd {
				return true
			}
		}
		return false

	case UnitMonths:
		months := monthsSince(start, day)
		if months < 0 || months%interval != 0 {
			return false
		}
		dom := start.Day()
		if p.DayOfMonth != nil {
			dom = *p.DayOfMonth
		}
		return day.Day() == clampDay(day.Year(), day.Month(), dom)

	case UnitYears:
		years := day.Year() - start.Year()
		if years < 0 || years%interval != 0 {
			return false
		}
		month := start.Month()
		if p.MonthOfYear != nil {
			month = time.Month(*p.MonthOfYear)
		}
		dom := start.Day()
		if p.DayOfMonth != nil {
			dom = *p.DayOfMonth
		}
		return day.Month() == month && day.Day() == clampDay(day.Year(), month, dom)
	}
	return false
}

func occursMonthlyWeekday(p *Pattern, day time.Time, interval int) bool {
	months := monthsSince(p.Start, day)
	if months < 0 || months%interval != 0 {
		return false
	}
	weekday, n := p.MonthlyWeekdayTarget()
	target, ok := NthWeekdayOfMonth(day.Year(), day.Month(), weekday, n)
	return ok && target.Equal(DayOf(day))
}

// MonthlyWeekdayTarget resolves the weekday and ordinal of a monthly_weekday
// pattern, defaulting both from the start day.
func (p *Pattern) MonthlyWeekdayTarget() (weekday, n int) {
	weekday = Weekday(p.Start)
	if p.WeekdayOfMonth != nil {
		weekday = *p.WeekdayOfMonth
	}
	n = (p.Start.Day()-1)/7 + 1
	if p.WeekOfMonth != nil {
		n = *p.WeekOfMonth
	}
	return weekday, n
}

// NthWeekdayOfMonth returns the n-th occurrence of weekday (Monday = 0) in
// the month. An n beyond the number of such weekdays clamps to the last one.
// ok is false only for a weekday outside 0-6.
func NthWeekdayOfMonth(year int, month time.Month, weekday, n int) (time.Time, bool) {
	if weekday < 0 || weekday > 6 {
		return time.Time{}, false
	}
	if n < 1 {
		n = 1
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (weekday - Weekday(first) + 7) % 7
	dom := 1 + offset + (n-1)*7
	last := DaysIn(year, month)
	for dom > last {
		dom -= 7
	}
	return time.Date(year, month, dom, 0, 0, 0, 0, time.UTC), true
}

func monthsSince(start, day time.Time) int {
	return 12*(day.Year()-start.Year()) + int(day.Month()) - int(start.Month())
}

func clampDay(year int, month time.Month, dom int) int {
	if last := DaysIn(year, month); dom > last {
		return last
	}
	return dom
}
