package calendar

import (
	"context"
	"testing"

	"github.com/zulandar/almanac/internal/models"
)

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name                 string
		start                int
		end                  *int
		otherStart, otherEnd int
		want                 bool
	}{
		{"inside", 600, intp(630), 540, 720, true},
		{"straddles start", 500, intp(560), 540, 600, true},
		{"straddles end", 590, intp(650), 540, 600, true},
		{"covers", 500, intp(700), 540, 600, true},
		{"touches end", 600, intp(660), 540, 600, false},
		{"touches start", 480, intp(540), 540, 600, false},
		{"before", 400, intp(450), 540, 600, false},
		{"point inside", 570, nil, 540, 600, true},
		{"point at start", 540, nil, 540, 600, true},
		{"point at end", 600, nil, 540, 600, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.start, tt.end, tt.otherStart, tt.otherEnd); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlaps_Symmetric(t *testing.T) {
	for aStart := 0; aStart < 120; aStart += 15 {
		for aLen := 15; aLen <= 60; aLen += 15 {
			for bStart := 0; bStart < 120; bStart += 15 {
				for bLen := 15; bLen <= 60; bLen += 15 {
					aEnd, bEnd := aStart+aLen, bStart+bLen
					ab := Overlaps(aStart, &aEnd, bStart, bEnd)
					ba := Overlaps(bStart, &bEnd, aStart, aEnd)
					if ab != ba {
						t.Fatalf("[%d,%d) vs [%d,%d): %v one way, %v the other", aStart, aEnd, bStart, bEnd, ab, ba)
					}
				}
			}
		}
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		name       string
		start, end *string
		wantStart  int
		wantEnd    int
		wantOK     bool
	}{
		{"untimed", nil, nil, 0, 0, false},
		{"explicit end", strp("09:00"), strp("10:15"), 540, 615, true},
		{"default duration", strp("09:00"), nil, 540, 570, true},
		{"capped at midnight", strp("23:50"), nil, 1430, 1440, true},
		{"end not after start", strp("09:00"), strp("08:00"), 540, 570, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := models.CalendarEvent{StartTime: tt.start, EndTime: tt.end}
			start, end, ok := span(&ev)
			if ok != tt.wantOK || start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("span = %d, %d, %v; want %d, %d, %v", start, end, ok, tt.wantStart, tt.wantEnd, tt.wantOK)
			}
		})
	}
}

func TestFindConflict(t *testing.T) {
	svc, gdb, _ := testService(t, jan1)
	ctx := context.Background()
	open := models.CalendarEvent{UserID: 1, Title: "Coffee", Day: "2024-01-02", StartTime: strp("09:00"), Status: models.StatusNotStarted}
	canceled := models.CalendarEvent{UserID: 1, Title: "Dropped", Day: "2024-01-02", StartTime: strp("14:00"), EndTime: strp("15:00"), Status: models.StatusCanceled}
	done := models.CalendarEvent{UserID: 1, Title: "Gym", Day: "2024-01-02", StartTime: strp("17:00"), EndTime: strp("18:00"), Status: models.StatusDone}
	gdb.Create(&open)
	gdb.Create(&canceled)
	gdb.Create(&done)

	tests := []struct {
		name    string
		start   string
		end     *string
		exclude uint
		want    string
	}{
		{"inside default duration", "09:15", nil, 0, "Coffee"},
		{"after default duration", "09:30", nil, 0, ""},
		{"interval reaching into it", "08:30", strp("09:01"), 0, "Coffee"},
		{"canceled never blocks", "14:30", strp("14:45"), 0, ""},
		{"done still blocks", "17:30", nil, 0, "Gym"},
		{"excluded item", "09:10", nil, open.ID, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.FindConflict(ctx, 1, "2024-01-02", tt.start, tt.end, false, tt.exclude)
			if err != nil {
				t.Fatalf("FindConflict: %v", err)
			}
			title := ""
			if got != nil {
				title = got.Title
			}
			if title != tt.want {
				t.Errorf("conflict = %q, want %q", title, tt.want)
			}
		})
	}

	if _, err := svc.FindConflict(ctx, 1, "2024-01-02", "9am", nil, false, 0); err == nil {
		t.Error("expected error for malformed start")
	}
}
