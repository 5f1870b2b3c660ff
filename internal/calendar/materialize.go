package calendar

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// parseWindow validates an inclusive day window.
func parseWindow(start, end string) (time.Time, time.Time, error) {
	from, err := recurrence.ParseDay(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := recurrence.ParseDay(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, invalid("window end %s is before start %s", end, start)
	}
	if recurrence.DaysBetween(from, to) >= MaxWindowDays {
		return time.Time{}, time.Time{}, invalid("window %s..%s exceeds %d days", start, end, MaxWindowDays)
	}
	return from, to, nil
}

// EnsureInstances materializes every occurrence of the user's rules in the
// inclusive window [start, end] that is neither already present nor
// excepted. The whole window commits in one transaction; reminders for the
// new instances are scheduled afterwards. Calling it again for the same
// window creates nothing. It returns the instances it created.
func (s *Service) EnsureInstances(ctx context.Context, userID uint, start, end string) ([]models.CalendarEvent, error) {
	from, to, err := parseWindow(start, end)
	if err != nil {
		return nil, err
	}

	var created []models.CalendarEvent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rules []models.RecurringEventRule
		err := tx.Where("user_id = ? AND start_day <= ? AND (end_day IS NULL OR end_day >= ?)", userID, end, start).
			Order("id").
			Find(&rules).Error
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}

		for i := range rules {
			rule := &rules[i]
			p, err := PatternOf(rule)
			if err != nil {
				log.Printf("calendar: rule %d: %v", rule.ID, err)
				continue
			}
			days := p.Between(from, to)
			if len(days) == 0 {
				continue
			}

			skip, err := claimedDays(tx, rule.ID, start, end)
			if err != nil {
				return err
			}
			for _, d := range days {
				day := recurrence.FormatDay(d)
				if skip[day] {
					continue
				}
				ev := instanceOf(rule, day)
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
				if res.Error != nil {
					return fmt.Errorf("create instance of rule %d on %s: %w", rule.ID, day, res.Error)
				}
				if res.RowsAffected == 1 {
					created = append(created, ev)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: ensure instances %s..%s: %w", start, end, err)
	}

	s.scheduleAll(ctx, created)
	return created, nil
}

// claimedDays returns the days in [start, end] on which rule already has an
// instance or an exception.
func claimedDays(tx *gorm.DB, ruleID uint, start, end string) (map[string]bool, error) {
	var instanceDays, exceptionDays []string
	if err := tx.Model(&models.CalendarEvent{}).
		Where("recurrence_id = ? AND day >= ? AND day <= ?", ruleID, start, end).
		Pluck("day", &instanceDays).Error; err != nil {
		return nil, fmt.Errorf("load instances of rule %d: %w", ruleID, err)
	}
	if err := tx.Model(&models.RecurrenceException{}).
		Where("recurrence_id = ? AND day >= ? AND day <= ?", ruleID, start, end).
		Pluck("day", &exceptionDays).Error; err != nil {
		return nil, fmt.Errorf("load exceptions of rule %d: %w", ruleID, err)
	}
	skip := make(map[string]bool, len(instanceDays)+len(exceptionDays))
	for _, d := range instanceDays {
		skip[d] = true
	}
	for _, d := range exceptionDays {
		skip[d] = true
	}
	return skip, nil
}

// instanceOf copies a rule's static fields onto a new instance for day.
func instanceOf(rule *models.RecurringEventRule, day string) models.CalendarEvent {
	ruleID := rule.ID
	status := rule.Status
	if status == "" {
		status = models.StatusNotStarted
	}
	return models.CalendarEvent{
		UserID:                rule.UserID,
		Title:                 rule.Title,
		Description:           rule.Description,
		Day:                   day,
		StartTime:             rule.StartTime,
		EndTime:               rule.EndTime,
		Status:                status,
		Priority:              rule.Priority,
		IsEvent:               rule.IsEvent,
		AllowOverlap:          rule.AllowOverlap,
		ReminderMinutesBefore: rule.ReminderMinutesBefore,
		RolloverEnabled:       rule.RolloverEnabled,
		RecurrenceID:          &ruleID,
		ItemNote:              rule.ItemNote,
	}
}

// Events materializes the window and returns every item in it, ordered by
// day, position and start time. Rows still carrying the legacy phase status
// are canonicalized and written back.
func (s *Service) Events(ctx context.Context, userID uint, start, end string) ([]models.CalendarEvent, error) {
	if _, err := s.EnsureInstances(ctx, userID, start, end); err != nil {
		return nil, err
	}

	var events []models.CalendarEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day >= ? AND day <= ?", userID, start, end).
		Order("day, sort_order, start_time, id").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("calendar: list events %s..%s: %w", start, end, err)
	}

	for i := range events {
		fixed := Canonicalize(events[i])
		if fixed == events[i] {
			continue
		}
		err := s.db.WithContext(ctx).Model(&models.CalendarEvent{}).
			Where("id = ?", fixed.ID).
			Updates(map[string]interface{}{
				"status":   fixed.Status,
				"is_phase": fixed.IsPhase,
				"is_group": fixed.IsGroup,
				"phase_id": fixed.PhaseID,
				"group_id": fixed.GroupID,
			}).Error
		if err != nil {
			return nil, fmt.Errorf("calendar: canonicalize event %d: %w", fixed.ID, err)
		}
		events[i] = fixed
	}
	return events, nil
}

// Canonicalize rewrites the legacy phase status into the IsPhase flag and
// makes the role flags mutually exclusive: a phase header is never also a
// group header, and headers do not nest under other headers of their kind.
func Canonicalize(ev models.CalendarEvent) models.CalendarEvent {
	if ev.Status == models.StatusLegacyPhase {
		ev.IsPhase = true
		ev.Status = models.StatusNotStarted
	}
	if ev.IsPhase {
		ev.IsGroup = false
		ev.PhaseID = nil
		ev.GroupID = nil
	}
	if ev.IsGroup {
		ev.GroupID = nil
	}
	return ev
}
