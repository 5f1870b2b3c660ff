package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/almanac/internal/models"
	"gorm.io/gorm"
)

func TestCreateRule_Normalizes(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	rule, err := svc.CreateRule(context.Background(), 1, RuleOpts{
		Title:     "Payroll",
		StartDay:  "2024-01-05",
		Frequency: "biweekly",
		Interval:  5,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.Interval != 2 || rule.IntervalUnit != "weeks" {
		t.Errorf("biweekly normalized to interval %d unit %q, want 2 weeks", rule.Interval, rule.IntervalUnit)
	}
	if rule.Priority != PriorityMedium || rule.Status != models.StatusNotStarted {
		t.Errorf("defaults = %q/%q", rule.Priority, rule.Status)
	}
}

func TestCreateRule_Validation(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	base := func() RuleOpts {
		return RuleOpts{Title: "x", StartDay: "2024-01-01", Frequency: "daily"}
	}
	tests := []struct {
		name   string
		mutate func(*RuleOpts)
	}{
		{"missing title", func(o *RuleOpts) { o.Title = "" }},
		{"bad start day", func(o *RuleOpts) { o.StartDay = "01/01/2024" }},
		{"end before start", func(o *RuleOpts) { o.EndDay = strp("2023-12-31") }},
		{"unknown frequency", func(o *RuleOpts) { o.Frequency = "hourly" }},
		{"custom without unit", func(o *RuleOpts) { o.Frequency = "custom" }},
		{"custom bad unit", func(o *RuleOpts) { o.Frequency = "custom"; o.IntervalUnit = "fortnights" }},
		{"weekday out of range", func(o *RuleOpts) { o.Frequency = "weekly"; o.DaysOfWeek = []int{7} }},
		{"day of month out of range", func(o *RuleOpts) { o.Frequency = "monthly"; o.DayOfMonth = intp(32) }},
		{"week of month out of range", func(o *RuleOpts) { o.Frequency = "monthly_weekday"; o.WeekOfMonth = intp(6) }},
		{"bad start time", func(o *RuleOpts) { o.StartTime = strp("25:00") }},
		{"unpadded start time", func(o *RuleOpts) { o.StartTime = strp("7:30") }},
		{"end before start time", func(o *RuleOpts) { o.StartTime = strp("10:00"); o.EndTime = strp("09:00") }},
		{"end without start", func(o *RuleOpts) { o.EndTime = strp("09:00") }},
		{"bad status", func(o *RuleOpts) { o.Status = "blocked" }},
		{"bad priority", func(o *RuleOpts) { o.Priority = "urgent!" }},
		{"negative lead", func(o *RuleOpts) { o.ReminderMinutesBefore = intp(-5) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base()
			tt.mutate(&opts)
			_, err := svc.CreateRule(context.Background(), 1, opts)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestCreateRule_CustomUnit(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	ctx := context.Background()
	rule, err := svc.CreateRule(ctx, 1, RuleOpts{
		Title:        "Every 3 days",
		StartDay:     "2024-01-01",
		Frequency:    "custom",
		Interval:     3,
		IntervalUnit: "days",
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.IntervalUnit != "days" || rule.Interval != 3 {
		t.Errorf("rule = %d %s, want 3 days", rule.Interval, rule.IntervalUnit)
	}
	created, _ := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-10")
	if diff := cmp.Diff([]string{"2024-01-01", "2024-01-04", "2024-01-07", "2024-01-10"}, days(created)); diff != "" {
		t.Errorf("custom days mismatch (-want +got):\n%s", diff)
	}
}

func TestRules_ScopedToUser(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	ctx := context.Background()
	mine, _ := svc.CreateRule(ctx, 1, weeklyMonWedRule())
	svc.CreateRule(ctx, 2, weeklyMonWedRule())

	rules, err := svc.Rules(ctx, 1)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != mine.ID {
		t.Errorf("Rules(1) = %+v, want only rule %d", rules, mine.ID)
	}
	if _, err := svc.Rule(ctx, 2, mine.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("Rule(other user) err = %v, want ErrRecordNotFound", err)
	}
}

func TestUpdateRule_PropagatesAndPrunes(t *testing.T) {
	// Today is Friday 2024-01-05.
	svc, gdb, rec := testService(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	rule, _ := svc.CreateRule(ctx, 1, weeklyMonWedRule())
	svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-14")
	gdb.Create(&models.RecurrenceException{UserID: 1, RecurrenceID: rule.ID, Day: "2024-01-18"})

	var done models.CalendarEvent
	gdb.Where("recurrence_id = ? AND day = ?", rule.ID, "2024-01-09").First(&done)
	gdb.Model(&done).Update("status", models.StatusDone)

	opts := weeklyMonWedRule()
	opts.Title = "Gym (new)"
	opts.DaysOfWeek = []int{1}
	opts.StartTime = strp("18:00")
	opts.ReminderMinutesBefore = intp(10)
	if _, err := svc.UpdateRule(ctx, 1, rule.ID, opts); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}

	var remaining []models.CalendarEvent
	gdb.Where("recurrence_id = ?", rule.ID).Order("day").Find(&remaining)
	if diff := cmp.Diff([]string{"2024-01-02", "2024-01-09"}, days(remaining)); diff != "" {
		t.Errorf("remaining days mismatch (-want +got):\n%s", diff)
	}
	for _, ev := range remaining {
		if ev.Title != "Gym" {
			t.Errorf("%s title = %q; past and done instances keep their title", ev.Day, ev.Title)
		}
	}
	if n := countRows(t, gdb, &models.RecurrenceException{}, "recurrence_id = ?", rule.ID); n != 0 {
		t.Errorf("exceptions = %d, want stale Thursday exception pruned", n)
	}
	if len(rec.cancelled) != 2 {
		t.Errorf("cancelled reminders = %d, want 2 (pruned Thursdays)", len(rec.cancelled))
	}

	// Future open instances pick up the edit.
	created, _ := svc.EnsureInstances(ctx, 1, "2024-01-15", "2024-01-21")
	if len(created) != 1 || created[0].Title != "Gym (new)" || *created[0].StartTime != "18:00" {
		t.Errorf("new instance = %+v, want updated fields", created)
	}
}

func TestUpdateRule_StaticEditReschedules(t *testing.T) {
	svc, gdb, rec := testService(t, jan1)
	ctx := context.Background()
	opts := weeklyMonWedRule()
	rule, _ := svc.CreateRule(ctx, 1, opts)
	svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-07")
	rec.scheduled = nil

	opts.StartTime = strp("07:00")
	opts.ReminderMinutesBefore = intp(5)
	if _, err := svc.UpdateRule(ctx, 1, rule.ID, opts); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if len(rec.scheduled) != 2 {
		t.Errorf("rescheduled = %d, want 2", len(rec.scheduled))
	}
	var ev models.CalendarEvent
	gdb.Where("recurrence_id = ? AND day = ?", rule.ID, "2024-01-04").First(&ev)
	if ev.StartTime == nil || *ev.StartTime != "07:00" {
		t.Errorf("instance start = %v, want 07:00", ev.StartTime)
	}
}

func TestUpdateRule_StaticEditKeepsReminderState(t *testing.T) {
	svc, gdb, rec := testService(t, jan1)
	ctx := context.Background()
	opts := weeklyMonWedRule()
	opts.StartTime = strp("07:00")
	opts.ReminderMinutesBefore = intp(10)
	rule, _ := svc.CreateRule(ctx, 1, opts)
	svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-07")

	// The Thursday instance was moved to 08:00 on its own.
	var thursday models.CalendarEvent
	gdb.Where("recurrence_id = ? AND day = ?", rule.ID, "2024-01-04").First(&thursday)
	gdb.Model(&thursday).Update("start_time", "08:00")
	rec.scheduled, rec.cancelled = nil, nil

	opts.Title = "Gym (renamed)"
	if _, err := svc.UpdateRule(ctx, 1, rule.ID, opts); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if diff := cmp.Diff([]uint{thursday.ID}, rec.scheduled); diff != "" {
		t.Errorf("rescheduled mismatch (-want +got):\n%s", diff)
	}
	if len(rec.cancelled) != 0 {
		t.Errorf("cancelled = %v, want none", rec.cancelled)
	}
}

func TestDeleteRule(t *testing.T) {
	svc, gdb, rec := testService(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	rule, _ := svc.CreateRule(ctx, 1, weeklyMonWedRule())
	svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-14")
	gdb.Create(&models.RecurrenceException{UserID: 1, RecurrenceID: rule.ID, Day: "2024-01-16"})

	if err := svc.DeleteRule(ctx, 1, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}

	var left []models.CalendarEvent
	gdb.Order("day").Find(&left)
	if diff := cmp.Diff([]string{"2024-01-02", "2024-01-04"}, days(left)); diff != "" {
		t.Errorf("surviving instances mismatch (-want +got):\n%s", diff)
	}
	for _, ev := range left {
		if ev.RecurrenceID != nil {
			t.Errorf("past instance %s still references the rule", ev.Day)
		}
	}
	if len(rec.cancelled) != 2 {
		t.Errorf("cancelled reminders = %d, want 2", len(rec.cancelled))
	}
	if n := countRows(t, gdb, &models.RecurrenceException{}, "1 = 1"); n != 0 {
		t.Errorf("exceptions = %d, want 0", n)
	}
	if _, err := svc.Rule(ctx, 1, rule.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("rule still loadable: %v", err)
	}
	if err := svc.DeleteRule(ctx, 1, rule.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("second delete err = %v, want ErrRecordNotFound", err)
	}
}

func TestPruneInstances_EndDayShortened(t *testing.T) {
	svc, gdb, _ := testService(t, jan1)
	ctx := context.Background()
	rule, _ := svc.CreateRule(ctx, 1, RuleOpts{Title: "Daily", StartDay: "2024-01-01", Frequency: "daily"})
	svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-10")

	gdb.Model(rule).Update("end_day", "2024-01-05")
	n, err := svc.PruneInstances(ctx, rule.ID)
	if err != nil {
		t.Fatalf("PruneInstances: %v", err)
	}
	if n != 5 {
		t.Errorf("pruned = %d, want 5", n)
	}
	if got := countRows(t, gdb, &models.CalendarEvent{}, "recurrence_id = ?", rule.ID); got != 5 {
		t.Errorf("remaining = %d, want 5", got)
	}
}
