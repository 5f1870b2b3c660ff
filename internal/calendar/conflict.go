package calendar

import (
	"context"
	"fmt"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
)

const (
	// defaultDuration is assumed for items without an end time.
	defaultDuration = 30
	endOfDay        = 24 * 60
)

// ConflictError reports the item a new or moved item would overlap. It is
// an outcome the caller may override, not a failure.
type ConflictError struct {
	EventID uint
	Title   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("calendar: conflicts with %q (event %d)", e.Title, e.EventID)
}

// Overlaps reports whether the candidate [start, end) intersects the
// existing [otherStart, otherEnd). A nil end makes the candidate a single
// instant that must fall inside the existing interval.
func Overlaps(start int, end *int, otherStart, otherEnd int) bool {
	if end == nil {
		return start >= otherStart && start < otherEnd
	}
	return !(*end <= otherStart || start >= otherEnd)
}

// span returns an item's interval in minutes, defaulting a missing end to
// thirty minutes after the start, capped at midnight.
func span(ev *models.CalendarEvent) (int, int, bool) {
	if ev.StartTime == nil {
		return 0, 0, false
	}
	start, err := recurrence.ParseClock(*ev.StartTime)
	if err != nil {
		return 0, 0, false
	}
	end := min(start+defaultDuration, endOfDay)
	if ev.EndTime != nil {
		if m, err := recurrence.ParseClock(*ev.EndTime); err == nil && m > start {
			end = m
		}
	}
	return start, end, true
}

// FindConflict returns the first timed item on day that the candidate
// would overlap, or nil. Tasks and events are checked alike. Overlap is
// tolerated only when both the candidate and the existing item allow it.
// Canceled items and headers never block; excludeID skips the item being
// edited.
func (s *Service) FindConflict(ctx context.Context, userID uint, day, start string, end *string, allowOverlap bool, excludeID uint) (*models.CalendarEvent, error) {
	candStart, err := recurrence.ParseClock(start)
	if err != nil {
		return nil, err
	}
	var candEnd *int
	if end != nil {
		m, err := recurrence.ParseClock(*end)
		if err != nil {
			return nil, err
		}
		candEnd = &m
	}

	var items []models.CalendarEvent
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND day = ? AND start_time IS NOT NULL", userID, day).
		Where("status <> ? AND is_phase = ? AND is_group = ? AND id <> ?", models.StatusCanceled, false, false, excludeID).
		Order("start_time, id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("calendar: find conflict on %s: %w", day, err)
	}

	for i := range items {
		other := &items[i]
		if allowOverlap && other.AllowOverlap {
			continue
		}
		if other.Status == models.StatusLegacyPhase {
			continue
		}
		oStart, oEnd, ok := span(other)
		if !ok {
			continue
		}
		if Overlaps(candStart, candEnd, oStart, oEnd) {
			return other, nil
		}
	}
	return nil, nil
}

// checkConflict turns a found conflict into a *ConflictError.
func (s *Service) checkConflict(ctx context.Context, userID uint, day string, start, end *string, allowOverlap bool, excludeID uint) error {
	if start == nil {
		return nil
	}
	other, err := s.FindConflict(ctx, userID, day, *start, end, allowOverlap, excludeID)
	if err != nil {
		return err
	}
	if other != nil {
		return &ConflictError{EventID: other.ID, Title: other.Title}
	}
	return nil
}
