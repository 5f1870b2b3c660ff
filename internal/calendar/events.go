package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventOpts holds parameters for creating a calendar item directly.
type EventOpts struct {
	Title                 string
	Description           string
	Day                   string
	StartTime             *string
	EndTime               *string
	Status                string
	Priority              string
	IsPhase               bool
	IsEvent               bool
	IsGroup               bool
	AllowOverlap          bool
	PhaseID               *uint
	GroupID               *uint
	ReminderMinutesBefore *int
	RolloverEnabled       bool
	TodoItemID            *uint
	ItemNote              string
	Force                 bool // create despite a time conflict
}

// MoveOpts holds the new placement of an item.
type MoveOpts struct {
	Day       string
	StartTime *string
	EndTime   *string
	Force     bool
}

// Event loads one of the user's items.
func (s *Service) Event(ctx context.Context, userID, eventID uint) (*models.CalendarEvent, error) {
	return loadEvent(s.db.WithContext(ctx), userID, eventID)
}

// CreateEvent validates and stores a new item at the end of its day. A
// timed plain item that overlaps another returns *ConflictError unless
// opts.Force is set.
func (s *Service) CreateEvent(ctx context.Context, userID uint, opts EventOpts) (*models.CalendarEvent, error) {
	if opts.Title == "" {
		return nil, invalid("title is required")
	}
	if _, err := recurrence.ParseDay(opts.Day); err != nil {
		return nil, err
	}
	if err := validateTimes(opts.StartTime, opts.EndTime); err != nil {
		return nil, err
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
	if opts.IsPhase && opts.IsGroup {
		return nil, invalid("an item cannot be both a phase and a group header")
	}
	if opts.ReminderMinutesBefore != nil && *opts.ReminderMinutesBefore < 0 {
		return nil, invalid("reminder minutes must not be negative")
	}

	ev := Canonicalize(models.CalendarEvent{
		UserID:                userID,
		Title:                 opts.Title,
		Description:           opts.Description,
		Day:                   opts.Day,
		StartTime:             opts.StartTime,
		EndTime:               opts.EndTime,
		Status:                opts.Status,
		Priority:              opts.Priority,
		IsPhase:               opts.IsPhase,
		IsEvent:               opts.IsEvent,
		IsGroup:               opts.IsGroup,
		AllowOverlap:          opts.AllowOverlap,
		PhaseID:               opts.PhaseID,
		GroupID:               opts.GroupID,
		ReminderMinutesBefore: opts.ReminderMinutesBefore,
		RolloverEnabled:       opts.RolloverEnabled,
		TodoItemID:            opts.TodoItemID,
		ItemNote:              opts.ItemNote,
	})

	db := s.db.WithContext(ctx)
	if err := checkParents(db, &ev); err != nil {
		return nil, err
	}
	if ev.TodoItemID != nil {
		var todo models.TodoItem
		if err := db.Where("id = ? AND user_id = ?", *ev.TodoItemID, userID).First(&todo).Error; err != nil {
			return nil, notFound("todo item", *ev.TodoItemID, err)
		}
	}
	if !opts.Force && !ev.IsHeader() {
		if err := s.checkConflict(ctx, userID, ev.Day, ev.StartTime, ev.EndTime, ev.AllowOverlap, 0); err != nil {
			return nil, err
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		order, err := NextSortOrder(tx, userID, ev.Day)
		if err != nil {
			return err
		}
		ev.SortOrder = order
		return tx.Create(&ev).Error
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: create event: %w", err)
	}

	s.scheduleAll(ctx, []models.CalendarEvent{ev})
	return &ev, nil
}

// MoveEvent changes an item's day or times. Moving a recurring instance
// writes an exception for its old day and detaches it from the rule, so
// the rule does not materialize the occurrence again. Headers keep their
// day.
func (s *Service) MoveEvent(ctx context.Context, userID, eventID uint, opts MoveOpts) (*models.CalendarEvent, error) {
	ev, err := s.Event(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := recurrence.ParseDay(opts.Day); err != nil {
		return nil, err
	}
	if err := validateTimes(opts.StartTime, opts.EndTime); err != nil {
		return nil, err
	}
	dayChanged := opts.Day != ev.Day
	if dayChanged && ev.IsHeader() {
		return nil, invalid("headers cannot move to another day")
	}
	if !opts.Force && !ev.IsHeader() {
		if err := s.checkConflict(ctx, userID, opts.Day, opts.StartTime, opts.EndTime, ev.AllowOverlap, ev.ID); err != nil {
			return nil, err
		}
	}

	oldDay := ev.Day
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ev.RecurrenceID != nil {
			if err := AddException(tx, ev.UserID, *ev.RecurrenceID, oldDay); err != nil {
				return err
			}
			ev.RecurrenceID = nil
		}
		if dayChanged {
			order, err := NextSortOrder(tx, userID, opts.Day)
			if err != nil {
				return err
			}
			ev.SortOrder = order
			ev.PhaseID = nil
			ev.GroupID = nil
		}
		ev.Day = opts.Day
		ev.StartTime = opts.StartTime
		ev.EndTime = opts.EndTime
		return tx.Model(&models.CalendarEvent{}).Where("id = ?", ev.ID).Updates(map[string]interface{}{
			"day":           ev.Day,
			"start_time":    ev.StartTime,
			"end_time":      ev.EndTime,
			"sort_order":    ev.SortOrder,
			"phase_id":      ev.PhaseID,
			"group_id":      ev.GroupID,
			"recurrence_id": ev.RecurrenceID,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: move event %d: %w", eventID, err)
	}

	s.reschedule(ctx, ev)
	return ev, nil
}

// SetStatus changes an item's status and applies the reminder transition.
func (s *Service) SetStatus(ctx context.Context, userID, eventID uint, status string) (*models.CalendarEvent, error) {
	if !validStatus(status) {
		return nil, invalid("status %q is not supported", status)
	}
	ev, err := s.Event(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	previous := ev.Status
	if previous == status {
		return ev, nil
	}
	if err := s.db.WithContext(ctx).Model(ev).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("calendar: set status of event %d: %w", eventID, err)
	}
	ev.Status = status
	if err := s.reminders.StatusChanged(ctx, ev, previous); err != nil {
		log.Printf("calendar: reminder for event %d: %v", ev.ID, err)
	}
	return ev, nil
}

// SetReminder changes an item's lead minutes; nil removes the reminder.
func (s *Service) SetReminder(ctx context.Context, userID, eventID uint, minutes *int) (*models.CalendarEvent, error) {
	if minutes != nil && *minutes < 0 {
		return nil, invalid("reminder minutes must not be negative")
	}
	ev, err := s.Event(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(ev).Update("reminder_minutes_before", minutes).Error; err != nil {
		return nil, fmt.Errorf("calendar: set reminder of event %d: %w", eventID, err)
	}
	ev.ReminderMinutesBefore = minutes
	s.reschedule(ctx, ev)
	return ev, nil
}

// DeleteEvent removes an item. Deleting a recurring instance writes an
// exception so the rule skips that day; children of a deleted header are
// kept and lose the reference.
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID uint) error {
	ev, err := s.Event(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if err := s.reminders.Cancel(ctx, ev); err != nil {
		log.Printf("calendar: cancel reminder for event %d: %v", ev.ID, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ev.RecurrenceID != nil {
			if err := AddException(tx, ev.UserID, *ev.RecurrenceID, ev.Day); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.CalendarEvent{}).Where("phase_id = ?", ev.ID).Update("phase_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.CalendarEvent{}).Where("group_id = ?", ev.ID).Update("group_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.CalendarEvent{}, ev.ID).Error
	})
	if err != nil {
		return fmt.Errorf("calendar: delete event %d: %w", eventID, err)
	}
	return nil
}

// reschedule re-arms or cancels ev's reminder after an edit.
func (s *Service) reschedule(ctx context.Context, ev *models.CalendarEvent) {
	var err error
	if ev.StartTime == nil || ev.ReminderMinutesBefore == nil {
		err = s.reminders.Cancel(ctx, ev)
	} else {
		err = s.reminders.Schedule(ctx, ev)
	}
	if err != nil {
		log.Printf("calendar: reminder for event %d: %v", ev.ID, err)
	}
}

// NextSortOrder returns the position after the last item on day.
func NextSortOrder(tx *gorm.DB, userID uint, day string) (int, error) {
	var last struct{ LastOrder *int }
	err := tx.Model(&models.CalendarEvent{}).
		Select("MAX(sort_order) AS last_order").
		Where("user_id = ? AND day = ?", userID, day).
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("next sort order on %s: %w", day, err)
	}
	if last.LastOrder == nil {
		return 0, nil
	}
	return *last.LastOrder + 1, nil
}

// AddException records that ruleID must not materialize on day. An
// existing exception for the pair is left as is.
func AddException(tx *gorm.DB, userID, ruleID uint, day string) error {
	ex := models.RecurrenceException{UserID: userID, RecurrenceID: ruleID, Day: day}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ex).Error; err != nil {
		return fmt.Errorf("add exception for rule %d on %s: %w", ruleID, day, err)
	}
	return nil
}

// checkParents verifies that phase and group references point at headers
// of the right kind on the same day and owned by the same user.
func checkParents(db *gorm.DB, ev *models.CalendarEvent) error {
	check := func(id *uint, wantPhase bool, kind string) error {
		if id == nil {
			return nil
		}
		var parent models.CalendarEvent
		err := db.Where("id = ? AND user_id = ?", *id, ev.UserID).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid("%s %d does not exist", kind, *id)
		}
		if err != nil {
			return fmt.Errorf("calendar: load %s %d: %w", kind, *id, err)
		}
		parent = Canonicalize(parent)
		if wantPhase && !parent.IsPhase || !wantPhase && !parent.IsGroup {
			return invalid("event %d is not a %s header", *id, kind)
		}
		if parent.Day != ev.Day {
			return invalid("%s %d is on %s, not %s", kind, *id, parent.Day, ev.Day)
		}
		return nil
	}
	if err := check(ev.PhaseID, true, "phase"); err != nil {
		return err
	}
	return check(ev.GroupID, false, "group")
}

func loadEvent(db *gorm.DB, userID, eventID uint) (*models.CalendarEvent, error) {
	var ev models.CalendarEvent
	if err := db.Where("id = ? AND user_id = ?", eventID, userID).First(&ev).Error; err != nil {
		return nil, notFound("event", eventID, err)
	}
	return &ev, nil
}
