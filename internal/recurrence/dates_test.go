package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if d.Location() != time.UTC || d.Hour() != 0 {
		t.Errorf("ParseDay returned %v, want UTC midnight", d)
	}
	for _, bad := range []string{"", "2024-2-29", "2023-02-29", "29/02/2024"} {
		if _, err := ParseDay(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("ParseDay(%q) error = %v, want ErrInvalid", bad, err)
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"00:00", 0},
		{"09:15", 555},
		{"23:59", 1439},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if FormatClock(got) != tt.in {
			t.Errorf("FormatClock(%d) = %q, want %q", got, FormatClock(got), tt.in)
		}
	}
	for _, bad := range []string{"24:00", "9am", "12:60", "", "9:00", " 9:00"} {
		if _, err := ParseClock(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("ParseClock(%q) error = %v, want ErrInvalid", bad, err)
		}
	}
}

func TestWeekday_MondayIsZero(t *testing.T) {
	mon, _ := ParseDay("2024-01-01")
	for i := 0; i < 7; i++ {
		if got := Weekday(AddDays(mon, i)); got != i {
			t.Errorf("Weekday(%s) = %d, want %d", FormatDay(AddDays(mon, i)), got, i)
		}
	}
}

func TestDayOf_UsesOwnLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 02:00 UTC on Jan 2 is still Jan 1 in New York.
	ts := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC).In(ny)
	if got := FormatDay(DayOf(ts)); got != "2024-01-01" {
		t.Errorf("DayOf = %s, want 2024-01-01", got)
	}
}

func TestDaysIn(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2024, time.April, 30},
		{2024, time.December, 31},
	}
	for _, tt := range tests {
		if got := DaysIn(tt.year, tt.month); got != tt.want {
			t.Errorf("DaysIn(%d, %s) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}
