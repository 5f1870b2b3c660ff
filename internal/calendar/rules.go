package calendar

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
)

// RuleOpts holds the fields of a recurring rule for create and update.
type RuleOpts struct {
	Title                 string
	Description           string
	StartDay              string
	EndDay                *string
	StartTime             *string
	EndTime               *string
	Status                string // default status of instances
	Priority              string
	IsEvent               bool
	AllowOverlap          bool
	ReminderMinutesBefore *int
	RolloverEnabled       bool
	ItemNote              string

	Frequency      string
	Interval       int
	IntervalUnit   string // required for custom frequency
	DaysOfWeek     []int  // Monday = 0
	DayOfMonth     *int
	MonthOfYear    *int
	WeekOfMonth    *int
	WeekdayOfMonth *int
}

// PatternOf builds the normalized day-selection pattern of a rule.
func PatternOf(r *models.RecurringEventRule) (*recurrence.Pattern, error) {
	start, err := recurrence.ParseDay(r.StartDay)
	if err != nil {
		return nil, err
	}
	p := &recurrence.Pattern{
		Frequency:      r.Frequency,
		Interval:       r.Interval,
		Unit:           r.IntervalUnit,
		Start:          start,
		DaysOfWeek:     r.Weekdays(),
		DayOfMonth:     r.DayOfMonth,
		MonthOfYear:    r.MonthOfYear,
		WeekOfMonth:    r.WeekOfMonth,
		WeekdayOfMonth: r.WeekdayOfMonth,
	}
	if r.EndDay != nil {
		end, err := recurrence.ParseDay(*r.EndDay)
		if err != nil {
			return nil, err
		}
		p.End = &end
	}
	p.Normalize()
	return p, nil
}

// buildRule validates opts and renders them as a rule row.
func buildRule(userID uint, opts RuleOpts) (*models.RecurringEventRule, error) {
	if opts.Title == "" {
		return nil, invalid("title is required")
	}
	if opts.Status == "" {
		opts.Status = models.StatusNotStarted
	}
	if !validStatus(opts.Status) {
		return nil, invalid("status %q is not supported", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = PriorityMedium
	}
	if !validPriority(opts.Priority) {
		return nil, invalid("priority %q is not supported", opts.Priority)
	}
	if err := validateTimes(opts.StartTime, opts.EndTime); err != nil {
		return nil, err
	}
	if opts.ReminderMinutesBefore != nil && *opts.ReminderMinutesBefore < 0 {
		return nil, invalid("reminder minutes must not be negative")
	}

	r := &models.RecurringEventRule{
		UserID:                userID,
		Title:                 opts.Title,
		Description:           opts.Description,
		StartDay:              opts.StartDay,
		EndDay:                opts.EndDay,
		StartTime:             opts.StartTime,
		EndTime:               opts.EndTime,
		Status:                opts.Status,
		Priority:              opts.Priority,
		IsEvent:               opts.IsEvent,
		AllowOverlap:          opts.AllowOverlap,
		ReminderMinutesBefore: opts.ReminderMinutesBefore,
		RolloverEnabled:       opts.RolloverEnabled,
		ItemNote:              opts.ItemNote,
		Frequency:             opts.Frequency,
		Interval:              opts.Interval,
		IntervalUnit:          opts.IntervalUnit,
		DayOfMonth:            opts.DayOfMonth,
		MonthOfYear:           opts.MonthOfYear,
		WeekOfMonth:           opts.WeekOfMonth,
		WeekdayOfMonth:        opts.WeekdayOfMonth,
	}
	r.SetWeekdays(opts.DaysOfWeek)

	p, err := PatternOf(r)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r.Interval = p.Interval
	r.IntervalUnit = p.Unit
	return r, nil
}

// CreateRule validates and stores a new recurring rule. Instances are
// materialized lazily when a window containing them is read.
func (s *Service) CreateRule(ctx context.Context, userID uint, opts RuleOpts) (*models.RecurringEventRule, error) {
	r, err := buildRule(userID, opts)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("calendar: create rule: %w", err)
	}
	return r, nil
}

// Rule loads one of the user's rules.
func (s *Service) Rule(ctx context.Context, userID, ruleID uint) (*models.RecurringEventRule, error) {
	return loadRule(s.db.WithContext(ctx), userID, ruleID)
}

// Rules lists the user's rules by id.
func (s *Service) Rules(ctx context.Context, userID uint) ([]models.RecurringEventRule, error) {
	var rules []models.RecurringEventRule
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("calendar: list rules: %w", err)
	}
	return rules, nil
}

// UpdateRule replaces a rule's fields. Static-field edits are copied onto
// today's and future unfinished instances. Instances whose start time or
// lead minutes change get their reminders rescheduled; the rest keep their
// reminder state. When the day selection changes, instances and exceptions
// that no longer match are pruned.
func (s *Service) UpdateRule(ctx context.Context, userID, ruleID uint, opts RuleOpts) (*models.RecurringEventRule, error) {
	existing, err := s.Rule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}
	updated, err := buildRule(userID, opts)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	reselect := selectionOf(existing) != selectionOf(updated)
	today := recurrence.FormatDay(s.Today())
	open := func(db *gorm.DB) *gorm.DB {
		return db.Where("recurrence_id = ? AND day >= ? AND status NOT IN ?", ruleID, today,
			[]string{models.StatusDone, models.StatusCanceled})
	}

	var previous []models.CalendarEvent
	if err := open(s.db.WithContext(ctx)).Find(&previous).Error; err != nil {
		return nil, fmt.Errorf("calendar: update rule %d: load instances: %w", ruleID, err)
	}
	before := make(map[uint]string, len(previous))
	for i := range previous {
		before[previous[i].ID] = reminderKey(&previous[i])
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(updated).Error; err != nil {
			return fmt.Errorf("save rule: %w", err)
		}
		return open(tx.Model(&models.CalendarEvent{})).
			Updates(map[string]interface{}{
				"title":                   updated.Title,
				"description":             updated.Description,
				"start_time":              updated.StartTime,
				"end_time":                updated.EndTime,
				"priority":                updated.Priority,
				"is_event":                updated.IsEvent,
				"allow_overlap":           updated.AllowOverlap,
				"reminder_minutes_before": updated.ReminderMinutesBefore,
				"rollover_enabled":        updated.RolloverEnabled,
				"item_note":               updated.ItemNote,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: update rule %d: %w", ruleID, err)
	}

	if reselect {
		if _, err := s.PruneInstances(ctx, ruleID); err != nil {
			return nil, err
		}
	}

	var touched []models.CalendarEvent
	if err := open(s.db.WithContext(ctx)).Find(&touched).Error; err != nil {
		return nil, fmt.Errorf("calendar: update rule %d: reload instances: %w", ruleID, err)
	}
	for i := range touched {
		ev := &touched[i]
		if key, ok := before[ev.ID]; ok && key == reminderKey(ev) {
			continue
		}
		if ev.StartTime == nil || ev.ReminderMinutesBefore == nil {
			err = s.reminders.Cancel(ctx, ev)
		} else {
			err = s.reminders.Schedule(ctx, ev)
		}
		if err != nil {
			log.Printf("calendar: reschedule reminder for event %d: %v", ev.ID, err)
		}
	}
	return updated, nil
}

// DeleteRule removes a rule with its exceptions and its instances from
// today onward. Past instances stay as history, detached from the rule.
func (s *Service) DeleteRule(ctx context.Context, userID, ruleID uint) error {
	if _, err := s.Rule(ctx, userID, ruleID); err != nil {
		return err
	}
	today := recurrence.FormatDay(s.Today())

	var future []models.CalendarEvent
	if err := s.db.WithContext(ctx).Where("recurrence_id = ? AND day >= ?", ruleID, today).Find(&future).Error; err != nil {
		return fmt.Errorf("calendar: delete rule %d: %w", ruleID, err)
	}
	for i := range future {
		if err := s.reminders.Cancel(ctx, &future[i]); err != nil {
			log.Printf("calendar: cancel reminder for event %d: %v", future[i].ID, err)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("recurrence_id = ? AND day >= ?", ruleID, today).Delete(&models.CalendarEvent{}).Error; err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
		if err := tx.Model(&models.CalendarEvent{}).Where("recurrence_id = ?", ruleID).
			Update("recurrence_id", nil).Error; err != nil {
			return fmt.Errorf("detach past instances: %w", err)
		}
		if err := tx.Where("recurrence_id = ?", ruleID).Delete(&models.RecurrenceException{}).Error; err != nil {
			return fmt.Errorf("delete exceptions: %w", err)
		}
		return tx.Delete(&models.RecurringEventRule{}, ruleID).Error
	})
	if err != nil {
		return fmt.Errorf("calendar: delete rule %d: %w", ruleID, err)
	}
	return nil
}

// PruneInstances deletes instances of a rule whose day the rule no longer
// claims, cancelling their reminders first, and drops exceptions for days
// that would not have matched anyway. It returns the number of instances
// removed.
func (s *Service) PruneInstances(ctx context.Context, ruleID uint) (int, error) {
	var rule models.RecurringEventRule
	if err := s.db.WithContext(ctx).First(&rule, ruleID).Error; err != nil {
		return 0, notFound("rule", ruleID, err)
	}
	p, err := PatternOf(&rule)
	if err != nil {
		return 0, err
	}

	var instances []models.CalendarEvent
	if err := s.db.WithContext(ctx).Where("recurrence_id = ?", ruleID).Find(&instances).Error; err != nil {
		return 0, fmt.Errorf("calendar: prune rule %d: %w", ruleID, err)
	}
	var staleIDs []uint
	for i := range instances {
		ev := &instances[i]
		if claims(p, ev.Day) {
			continue
		}
		if err := s.reminders.Cancel(ctx, ev); err != nil {
			log.Printf("calendar: cancel reminder for event %d: %v", ev.ID, err)
		}
		staleIDs = append(staleIDs, ev.ID)
	}

	var exceptions []models.RecurrenceException
	if err := s.db.WithContext(ctx).Where("recurrence_id = ?", ruleID).Find(&exceptions).Error; err != nil {
		return 0, fmt.Errorf("calendar: prune rule %d: %w", ruleID, err)
	}
	var staleExceptions []uint
	for _, ex := range exceptions {
		if !claims(p, ex.Day) {
			staleExceptions = append(staleExceptions, ex.ID)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(staleIDs) > 0 {
			if err := tx.Delete(&models.CalendarEvent{}, staleIDs).Error; err != nil {
				return err
			}
		}
		if len(staleExceptions) > 0 {
			if err := tx.Delete(&models.RecurrenceException{}, staleExceptions).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("calendar: prune rule %d: %w", ruleID, err)
	}
	return len(staleIDs), nil
}

// reminderKey captures the fields an instance's reminder fire time depends
// on besides its day.
func reminderKey(ev *models.CalendarEvent) string {
	if ev.StartTime == nil || ev.ReminderMinutesBefore == nil {
		return ""
	}
	return fmt.Sprintf("%s-%d", *ev.StartTime, *ev.ReminderMinutesBefore)
}

func claims(p *recurrence.Pattern, day string) bool {
	d, err := recurrence.ParseDay(day)
	if err != nil {
		return false
	}
	return recurrence.OccursOn(p, d)
}

func loadRule(db *gorm.DB, userID, ruleID uint) (*models.RecurringEventRule, error) {
	var r models.RecurringEventRule
	if err := db.Where("id = ? AND user_id = ?", ruleID, userID).First(&r).Error; err != nil {
		return nil, notFound("rule", ruleID, err)
	}
	return &r, nil
}

// selection captures the fields that decide which days a rule claims.
type selection struct {
	frequency, unit, daysOfWeek, start, end string
	interval, dom, moy, wom, wdom           int
}

func selectionOf(r *models.RecurringEventRule) selection {
	deref := func(p *int) int {
		if p == nil {
			return -1
		}
		return *p
	}
	end := ""
	if r.EndDay != nil {
		end = *r.EndDay
	}
	return selection{
		frequency:  r.Frequency,
		unit:       r.IntervalUnit,
		daysOfWeek: r.DaysOfWeek,
		start:      r.StartDay,
		end:        end,
		interval:   r.Interval,
		dom:        deref(r.DayOfMonth),
		moy:        deref(r.MonthOfYear),
		wom:        deref(r.WeekOfMonth),
		wdom:       deref(r.WeekdayOfMonth),
	}
}
