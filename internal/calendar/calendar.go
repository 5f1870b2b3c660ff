// Package calendar owns calendar items: it materializes recurring rules
// into per-day instances, validates and mutates events, and detects time
// conflicts between them.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
)

// ErrInvalid marks validation failures. It is the same sentinel the
// recurrence package uses, so callers test a single value.
var ErrInvalid = recurrence.ErrInvalid

// MaxWindowDays bounds one materialization window.
const MaxWindowDays = 366

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Reminders is the part of the reminder scheduler that event mutations drive.
type Reminders interface {
	Schedule(ctx context.Context, ev *models.CalendarEvent) error
	Cancel(ctx context.Context, ev *models.CalendarEvent) error
	StatusChanged(ctx context.Context, ev *models.CalendarEvent, previous string) error
}

// Opts holds parameters for creating a Service.
type Opts struct {
	DB        *gorm.DB
	Reminders Reminders      // optional
	Location  *time.Location // zone that decides "today"
	Now       func() time.Time
}

// Service implements the calendar operations for all users. Every method is
// scoped by user id.
type Service struct {
	db        *gorm.DB
	reminders Reminders
	loc       *time.Location
	now       func() time.Time
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("calendar: db is required")
	}
	s := &Service{
		db:        opts.DB,
		reminders: opts.Reminders,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if s.reminders == nil {
		s.reminders = noReminders{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Today returns the current day in the service's zone.
func (s *Service) Today() time.Time {
	return recurrence.DayOf(s.now().In(s.loc))
}

// invalid wraps a validation message in ErrInvalid.
func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("calendar: %w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validStatus(status string) bool {
	switch status {
	case models.StatusNotStarted, models.StatusInProgress, models.StatusDone, models.StatusCanceled:
		return true
	}
	return false
}

func validPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// validateTimes checks HH:MM values and that an end follows its start.
func validateTimes(start, end *string) error {
	var startMin int
	if start != nil {
		m, err := recurrence.ParseClock(*start)
		if err != nil {
			return err
		}
		startMin = m
	}
	if end != nil {
		if start == nil {
			return invalid("end time without start time")
		}
		m, err := recurrence.ParseClock(*end)
		if err != nil {
			return err
		}
		if m <= startMin {
			return invalid("end time %s is not after start time %s", *end, *start)
		}
	}
	return nil
}

// scheduleAll hands reminders for events to the scheduler after commit.
// A failure is logged and never undoes the write.
func (s *Service) scheduleAll(ctx context.Context, events []models.CalendarEvent) {
	for i := range events {
		ev := &events[i]
		if ev.StartTime == nil || ev.ReminderMinutesBefore == nil {
			continue
		}
		if err := s.reminders.Schedule(ctx, ev); err != nil {
			log.Printf("calendar: schedule reminder for event %d: %v", ev.ID, err)
		}
	}
}

func notFound(kind string, id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("calendar: %s %d: %w", kind, id, gorm.ErrRecordNotFound)
	}
	return fmt.Errorf("calendar: load %s %d: %w", kind, id, err)
}

type noReminders struct{}

func (noReminders) Schedule(context.Context, *models.CalendarEvent) error { return nil }
func (noReminders) Cancel(context.Context, *models.CalendarEvent) error   { return nil }
func (noReminders) StatusChanged(context.Context, *models.CalendarEvent, string) error {
	return nil
}
