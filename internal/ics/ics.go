// Package ics exports a user's calendar as iCalendar: recurring rules as
// RRULE series with EXDATE exceptions, and one-off items as single events.
package ics

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
)

const (
	productID     = "-//zulandar//almanac//EN"
	localLayout   = "20060102T150405"
	dateLayout    = "20060102"
	defaultLength = 30 * time.Minute
)

var weekdays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// Exporter renders calendars for users.
type Exporter struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

// NewExporter creates an Exporter that writes times in loc.
func NewExporter(db *gorm.DB, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{db: db, loc: loc, now: time.Now}
}

// Export writes the user's calendar to w.
func (x *Exporter) Export(ctx context.Context, userID uint, w io.Writer) error {
	cal, err := x.Calendar(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("ics: write: %w", err)
	}
	return nil
}

// Calendar builds the user's calendar. Headers are left out; detached
// instances of a rule are exported as one-off events.
func (x *Exporter) Calendar(ctx context.Context, userID uint) (*ical.Calendar, error) {
	db := x.db.WithContext(ctx)
	var rules []models.RecurringEventRule
	if err := db.Where("user_id = ?", userID).Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("ics: load rules: %w", err)
	}
	var exceptions []models.RecurrenceException
	if err := db.Where("user_id = ?", userID).Order("day").Find(&exceptions).Error; err != nil {
		return nil, fmt.Errorf("ics: load exceptions: %w", err)
	}
	var events []models.CalendarEvent
	if err := db.Where("user_id = ? AND recurrence_id IS NULL AND is_phase = ? AND is_group = ? AND status <> ?",
		userID, false, false, models.StatusLegacyPhase).
		Order("day, sort_order, id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("ics: load events: %w", err)
	}

	excepted := make(map[uint][]string)
	for _, ex := range exceptions {
		excepted[ex.RecurrenceID] = append(excepted[ex.RecurrenceID], ex.Day)
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("almanac")
	stamp := x.now().UTC()

	for i := range rules {
		rule := &rules[i]
		rr, err := RRule(rule, x.loc)
		if err != nil {
			return nil, fmt.Errorf("ics: rule %d: %w", rule.ID, err)
		}
		ve := cal.AddEvent(fmt.Sprintf("rule-%d@almanac", rule.ID))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(rule.Title)
		if rule.Description != "" {
			ve.SetDescription(rule.Description)
		}
		if err := x.setTimes(ve, rule.StartDay, rule.StartTime, rule.EndTime); err != nil {
			return nil, fmt.Errorf("ics: rule %d: %w", rule.ID, err)
		}
		line := rr.OrigOptions.RRuleString()
		if rule.StartTime == nil && rule.EndDay != nil {
			line = dateUntil(line, *rule.EndDay)
		}
		ve.AddRrule(line)
		for _, day := range excepted[rule.ID] {
			x.addExdate(ve, day, rule.StartTime)
		}
	}

	for i := range events {
		ev := &events[i]
		ve := cal.AddEvent(fmt.Sprintf("event-%d@almanac", ev.ID))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Status == models.StatusCanceled {
			ve.SetStatus(ical.ObjectStatusCancelled)
		}
		if err := x.setTimes(ve, ev.Day, ev.StartTime, ev.EndTime); err != nil {
			return nil, fmt.Errorf("ics: event %d: %w", ev.ID, err)
		}
	}
	return cal, nil
}

// setTimes writes DTSTART and DTEND: all-day for untimed items, local
// wall-clock times with a TZID otherwise.
func (x *Exporter) setTimes(ve *ical.VEvent, day string, start, end *string) error {
	d, err := recurrence.ParseDay(day)
	if err != nil {
		return err
	}
	if start == nil {
		ve.SetAllDayStartAt(d)
		ve.SetAllDayEndAt(recurrence.AddDays(d, 1))
		return nil
	}
	from, err := at(d, *start, x.loc)
	if err != nil {
		return err
	}
	until := from.Add(defaultLength)
	if end != nil {
		if until, err = at(d, *end, x.loc); err != nil {
			return err
		}
	}
	ve.SetProperty(ical.ComponentPropertyDtStart, x.stamp(from), x.tzid()...)
	ve.SetProperty(ical.ComponentPropertyDtEnd, x.stamp(until), x.tzid()...)
	return nil
}

func (x *Exporter) addExdate(ve *ical.VEvent, day string, start *string) {
	d, err := recurrence.ParseDay(day)
	if err != nil {
		return
	}
	if start == nil {
		ve.AddExdate(d.Format(dateLayout), &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}})
		return
	}
	t, err := at(d, *start, x.loc)
	if err != nil {
		return
	}
	ve.AddExdate(x.stamp(t), x.tzid()...)
}

// stamp formats t as UTC with a Z suffix, or as local wall-clock time to be
// paired with a TZID parameter.
func (x *Exporter) stamp(t time.Time) string {
	if x.loc == time.UTC {
		return t.UTC().Format(localLayout) + "Z"
	}
	return t.Format(localLayout)
}

func (x *Exporter) tzid() []ical.PropertyParameter {
	if x.loc == time.UTC {
		return nil
	}
	return []ical.PropertyParameter{
		&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{x.loc.String()}},
	}
}

// dateUntil rewrites UNTIL as a DATE value, which all-day series require.
func dateUntil(line, endDay string) string {
	parts := strings.Split(line, ";")
	for i, p := range parts {
		if strings.HasPrefix(p, "UNTIL=") {
			parts[i] = "UNTIL=" + strings.ReplaceAll(endDay, "-", "")
		}
	}
	return strings.Join(parts, ";")
}

// at combines a day and an HH:MM clock in loc.
func at(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	mins, err := recurrence.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, loc), nil
}

// RRule renders a rule's day selection as an RFC 5545 recurrence anchored
// at its first day in loc. Day-of-month targets past the 28th select the
// earlier of that day and the month's last day, which is how short months
// clamp. A fifth weekday of the month becomes the last one.
func RRule(rule *models.RecurringEventRule, loc *time.Location) (*rrule.RRule, error) {
	p, err := calendar.PatternOf(rule)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	dtstart := p.Start
	if rule.StartTime != nil {
		if dtstart, err = at(p.Start, *rule.StartTime, loc); err != nil {
			return nil, err
		}
	} else {
		dtstart = time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, loc)
	}
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: p.Interval,
		Wkst:     weekdays[recurrence.Weekday(p.Start)],
	}
	if p.End != nil {
		opt.Until = time.Date(p.End.Year(), p.End.Month(), p.End.Day(), 23, 59, 59, 0, loc)
	}

	switch {
	case p.Frequency == recurrence.FreqMonthlyWeekday:
		weekday, n := p.MonthlyWeekdayTarget()
		if n >= 5 {
			n = -1
		}
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = []rrule.Weekday{weekdays[weekday].Nth(n)}
	case p.Unit == recurrence.UnitDays:
		opt.Freq = rrule.DAILY
	case p.Unit == recurrence.UnitWeeks:
		opt.Freq = rrule.WEEKLY
		days := p.DaysOfWeek
		if len(days) == 0 {
			days = []int{recurrence.Weekday(p.Start)}
		}
		for _, d := range days {
			opt.Byweekday = append(opt.Byweekday, weekdays[d])
		}
	case p.Unit == recurrence.UnitMonths:
		opt.Freq = rrule.MONTHLY
		setMonthDay(&opt, dayOfMonth(p))
	case p.Unit == recurrence.UnitYears:
		opt.Freq = rrule.YEARLY
		month := int(p.Start.Month())
		if p.MonthOfYear != nil {
			month = *p.MonthOfYear
		}
		opt.Bymonth = []int{month}
		setMonthDay(&opt, dayOfMonth(p))
	default:
		return nil, fmt.Errorf("%w: unit %q", recurrence.ErrInvalid, p.Unit)
	}
	return rrule.NewRRule(opt)
}

func dayOfMonth(p *recurrence.Pattern) int {
	if p.DayOfMonth != nil {
		return *p.DayOfMonth
	}
	return p.Start.Day()
}

func setMonthDay(opt *rrule.ROption, dom int) {
	if dom <= 28 {
		opt.Bymonthday = []int{dom}
		return
	}
	opt.Bymonthday = []int{dom, -1}
	opt.Bysetpos = []int{1}
}
