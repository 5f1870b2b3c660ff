package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/almanac/internal/models"
)

var jan1 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func weeklyMonWedRule() RuleOpts {
	return RuleOpts{
		Title:      "Gym",
		StartDay:   "2024-01-01",
		Frequency:  "weekly",
		Interval:   1,
		DaysOfWeek: []int{1, 3},
	}
}

func TestEnsureInstances_WeeklyScenario(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	ctx := context.Background()
	rule, err := svc.CreateRule(ctx, 1, weeklyMonWedRule())
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	created, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-07")
	if err != nil {
		t.Fatalf("EnsureInstances: %v", err)
	}
	if diff := cmp.Diff([]string{"2024-01-02", "2024-01-04"}, days(created)); diff != "" {
		t.Errorf("created days mismatch (-want +got):\n%s", diff)
	}
	for _, ev := range created {
		if ev.RecurrenceID == nil || *ev.RecurrenceID != rule.ID {
			t.Errorf("instance %s RecurrenceID = %v, want %d", ev.Day, ev.RecurrenceID, rule.ID)
		}
		if ev.Title != "Gym" || ev.Status != models.StatusNotStarted {
			t.Errorf("instance %s = %q/%q, want copied rule fields", ev.Day, ev.Title, ev.Status)
		}
	}
}

func TestEnsureInstances_Idempotent(t *testing.T) {
	svc, gdb, _ := testService(t, jan1)
	ctx := context.Background()
	svc.CreateRule(ctx, 1, weeklyMonWedRule())

	first, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("first EnsureInstances: %v", err)
	}
	second, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("second EnsureInstances: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second call created %d instances, want 0", len(second))
	}
	// Overlapping windows also add nothing new.
	third, _ := svc.EnsureInstances(ctx, 1, "2024-01-15", "2024-02-04")
	if diff := cmp.Diff([]string{"2024-02-01"}, days(third)); diff != "" {
		t.Errorf("overlapping window created (-want +got):\n%s", diff)
	}
	total := countRows(t, gdb, &models.CalendarEvent{}, "user_id = ?", 1)
	if want := int64(len(first) + 1); total != want {
		t.Errorf("instances = %d, want %d", total, want)
	}
}

func TestEnsureInstances_RespectsExceptions(t *testing.T) {
	svc, gdb, _ := testService(t, jan1)
	ctx := context.Background()
	rule, _ := svc.CreateRule(ctx, 1, weeklyMonWedRule())
	gdb.Create(&models.RecurrenceException{UserID: 1, RecurrenceID: rule.ID, Day: "2024-01-04"})

	created, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-07")
	if err != nil {
		t.Fatalf("EnsureInstances: %v", err)
	}
	if diff := cmp.Diff([]string{"2024-01-02"}, days(created)); diff != "" {
		t.Errorf("created days mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureInstances_MonthlyClamping(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	ctx := context.Background()
	_, err := svc.CreateRule(ctx, 1, RuleOpts{
		Title:      "Rent",
		StartDay:   "2024-01-31",
		Frequency:  "monthly",
		DayOfMonth: intp(31),
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	created, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-06-30")
	if err != nil {
		t.Fatalf("EnsureInstances: %v", err)
	}
	want := []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30", "2024-05-31", "2024-06-30"}
	if diff := cmp.Diff(want, days(created)); diff != "" {
		t.Errorf("monthly days mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureInstances_RuleBounds(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	ctx := context.Background()
	svc.CreateRule(ctx, 1, RuleOpts{Title: "Old", StartDay: "2023-01-01", EndDay: strp("2023-12-31"), Frequency: "daily"})
	svc.CreateRule(ctx, 1, RuleOpts{Title: "Later", StartDay: "2024-03-01", Frequency: "daily"})
	svc.CreateRule(ctx, 1, RuleOpts{Title: "Short", StartDay: "2023-12-30", EndDay: strp("2024-01-02"), Frequency: "daily"})
	svc.CreateRule(ctx, 2, RuleOpts{Title: "Other user", StartDay: "2024-01-01", Frequency: "daily"})

	created, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-07")
	if err != nil {
		t.Fatalf("EnsureInstances: %v", err)
	}
	if diff := cmp.Diff([]string{"2024-01-01", "2024-01-02"}, days(created)); diff != "" {
		t.Errorf("bounded rule days mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureInstances_WindowValidation(t *testing.T) {
	svc, _, _ := testService(t, jan1)
	tests := []struct {
		name, start, end string
	}{
		{"end before start", "2024-01-10", "2024-01-01"},
		{"too long", "2024-01-01", "2025-01-01"},
		{"malformed", "2024-1-1", "2024-01-07"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.EnsureInstances(context.Background(), 1, tt.start, tt.end)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
	// Exactly 366 days is the longest window accepted.
	if _, err := svc.EnsureInstances(context.Background(), 1, "2024-01-01", "2024-12-31"); err != nil {
		t.Errorf("366-day window rejected: %v", err)
	}
}

func TestEnsureInstances_SchedulesReminders(t *testing.T) {
	svc, _, rec := testService(t, jan1)
	ctx := context.Background()
	timed := weeklyMonWedRule()
	timed.StartTime = strp("09:00")
	timed.ReminderMinutesBefore = intp(15)
	svc.CreateRule(ctx, 1, timed)
	untimed := weeklyMonWedRule()
	untimed.Title = "Untimed"
	untimed.ReminderMinutesBefore = intp(15)
	svc.CreateRule(ctx, 1, untimed)

	created, err := svc.EnsureInstances(ctx, 1, "2024-01-01", "2024-01-07")
	if err != nil {
		t.Fatalf("EnsureInstances: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("created = %d, want 4", len(created))
	}
	if len(rec.scheduled) != 2 {
		t.Errorf("scheduled reminders = %d, want 2 (timed instances only)", len(rec.scheduled))
	}
}

func TestEvents_OrderAndCanonicalize(t *testing.T) {
	svc, gdb, _ := testService(t, jan1)
	ctx := context.Background()
	svc.CreateRule(ctx, 1, weeklyMonWedRule())

	legacy := models.CalendarEvent{UserID: 1, Title: "Morning", Day: "2024-01-02", Status: models.StatusLegacyPhase, SortOrder: -1}
	gdb.Create(&legacy)
	gdb.Create(&models.CalendarEvent{UserID: 1, Title: "Later", Day: "2024-01-02", Status: models.StatusNotStarted, SortOrder: 5})

	events, err := svc.Events(ctx, 1, "2024-01-01", "2024-01-03")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var titles []string
	for _, ev := range events {
		titles = append(titles, ev.Title)
	}
	if diff := cmp.Diff([]string{"Morning", "Gym", "Later"}, titles); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if !events[0].IsPhase || events[0].Status != models.StatusNotStarted {
		t.Errorf("legacy row = phase %v status %q, want canonical", events[0].IsPhase, events[0].Status)
	}

	var stored models.CalendarEvent
	gdb.First(&stored, legacy.ID)
	if !stored.IsPhase || stored.Status != models.StatusNotStarted {
		t.Errorf("stored legacy row not rewritten: phase %v status %q", stored.IsPhase, stored.Status)
	}
}

func TestCanonicalize(t *testing.T) {
	phaseID, groupID := uintp(1), uintp(2)
	tests := []struct {
		name string
		in   models.CalendarEvent
		want models.CalendarEvent
	}{
		{
			name: "legacy status",
			in:   models.CalendarEvent{Status: models.StatusLegacyPhase},
			want: models.CalendarEvent{Status: models.StatusNotStarted, IsPhase: true},
		},
		{
			name: "phase wins over group",
			in:   models.CalendarEvent{Status: models.StatusDone, IsPhase: true, IsGroup: true, PhaseID: phaseID, GroupID: groupID},
			want: models.CalendarEvent{Status: models.StatusDone, IsPhase: true},
		},
		{
			name: "group keeps phase",
			in:   models.CalendarEvent{IsGroup: true, PhaseID: phaseID, GroupID: groupID},
			want: models.CalendarEvent{IsGroup: true, PhaseID: phaseID},
		},
		{
			name: "plain item untouched",
			in:   models.CalendarEvent{Status: models.StatusInProgress, PhaseID: phaseID, GroupID: groupID},
			want: models.CalendarEvent{Status: models.StatusInProgress, PhaseID: phaseID, GroupID: groupID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Canonicalize(tt.in)); diff != "" {
				t.Errorf("Canonicalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
