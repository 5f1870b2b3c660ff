package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/recurrence"
	"github.com/zulandar/almanac/internal/users"
	"gorm.io/gorm"
)

// DefaultMaxSnooze bounds a single snooze.
const DefaultMaxSnooze = 24 * time.Hour

// UserLookup resolves the owner of an event.
type UserLookup interface {
	Get(ctx context.Context, id uint) (*models.User, error)
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	DB         *gorm.DB
	Registry   Registry
	Users      UserLookup        // defaults to a users.Store over DB
	Dispatcher notify.Dispatcher // defaults to notify.Discard
	Location   *time.Location    // zone event days and times are read in
	BaseURL    string            // prefix for notification links
	MaxSnooze  time.Duration
	Now        func() time.Time
}

// Scheduler drives the reminder state of calendar events:
// unscheduled, scheduled, fired, snoozed and dismissed.
//
// Every method that writes to the store uses its own statements; callers
// must not invoke it from inside an open transaction on the same database.
type Scheduler struct {
	db         *gorm.DB
	registry   Registry
	users      UserLookup
	dispatcher notify.Dispatcher
	loc        *time.Location
	baseURL    string
	maxSnooze  time.Duration
	now        func() time.Time
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reminder: db is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("reminder: registry is required")
	}
	s := &Scheduler{
		db:         opts.DB,
		registry:   opts.Registry,
		users:      opts.Users,
		dispatcher: opts.Dispatcher,
		loc:        opts.Location,
		baseURL:    opts.BaseURL,
		maxSnooze:  opts.MaxSnooze,
		now:        opts.Now,
	}
	if s.users == nil {
		s.users = users.NewStore(opts.DB)
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.Discard{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.maxSnooze <= 0 {
		s.maxSnooze = DefaultMaxSnooze
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// FireTime returns the instant the reminder for ev is due: the event's day
// and start time in loc, minus the lead minutes. ok is false when the event
// has no start time or no lead minutes.
func FireTime(ev *models.CalendarEvent, loc *time.Location) (at time.Time, ok bool, err error) {
	if ev.StartTime == nil || ev.ReminderMinutesBefore == nil {
		return time.Time{}, false, nil
	}
	day, err := recurrence.ParseDay(ev.Day)
	if err != nil {
		return time.Time{}, false, err
	}
	mins, err := recurrence.ParseClock(*ev.StartTime)
	if err != nil {
		return time.Time{}, false, err
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, loc)
	return start.Add(-time.Duration(*ev.ReminderMinutesBefore) * time.Minute), true, nil
}

// JobID names the timer for an event firing at at. Re-scheduling the same
// event for the same instant yields the same id.
func JobID(eventID uint, at time.Time) string {
	return fmt.Sprintf("reminder-%d-%d", eventID, at.Unix())
}

// Schedule registers the reminder timer for ev, replacing any earlier one.
// Events without a start time or lead minutes, and closed events, are left
// alone. A fire time already in the past is dropped without notifying.
func (s *Scheduler) Schedule(ctx context.Context, ev *models.CalendarEvent) error {
	at, ok, err := FireTime(ev, s.loc)
	if err != nil {
		return fmt.Errorf("reminder: schedule event %d: %w", ev.ID, err)
	}
	if !ok || ev.IsClosed() {
		return nil
	}

	s.unregister(ev)
	if !at.After(s.now()) {
		if ev.ReminderJobID != nil {
			return s.update(ctx, ev, map[string]interface{}{"reminder_job_id": nil})
		}
		return nil
	}

	jobID, err := s.register(ev.ID, at)
	if err != nil {
		return err
	}
	return s.update(ctx, ev, map[string]interface{}{
		"reminder_job_id":        jobID,
		"reminder_sent":          false,
		"reminder_snoozed_until": nil,
	})
}

// Cancel removes the pending timer for ev and clears its job id.
func (s *Scheduler) Cancel(ctx context.Context, ev *models.CalendarEvent) error {
	s.unregister(ev)
	if ev.ReminderJobID == nil {
		return nil
	}
	return s.update(ctx, ev, map[string]interface{}{"reminder_job_id": nil})
}

// Fire delivers the reminder for eventID. It is a no-op once the reminder
// has been sent, and re-arms itself while a snooze is still running. The
// sent flag is claimed with a conditional update before notifying, so
// overlapping timers in different processes send at most once.
func (s *Scheduler) Fire(ctx context.Context, eventID uint) error {
	return s.fire(ctx, eventID, "")
}

// fire is Fire for the timer registered as jobID. A timer that is no
// longer the event's current registration does nothing; it may be left
// over in another process that could not cancel it.
func (s *Scheduler) fire(ctx context.Context, eventID uint, jobID string) error {
	db := s.db.WithContext(ctx)

	var ev models.CalendarEvent
	if err := db.First(&ev, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("reminder: fire %d: %w", eventID, err)
	}
	if ev.ReminderSent {
		return nil
	}
	if jobID != "" && (ev.ReminderJobID == nil || *ev.ReminderJobID != jobID) {
		return nil
	}

	now := s.now()
	if ev.ReminderSnoozedUntil != nil && ev.ReminderSnoozedUntil.After(now) {
		next, err := s.register(ev.ID, *ev.ReminderSnoozedUntil)
		if err != nil {
			return err
		}
		return s.update(ctx, &ev, map[string]interface{}{"reminder_job_id": next})
	}

	claim := db.Model(&models.CalendarEvent{}).
		Where("id = ? AND reminder_sent = ?", ev.ID, false)
	if jobID != "" {
		claim = claim.Where("reminder_job_id = ?", jobID)
	}
	claim = claim.Updates(map[string]interface{}{
		"reminder_sent":          true,
		"reminder_job_id":        nil,
		"reminder_snoozed_until": nil,
	})
	if claim.Error != nil {
		return fmt.Errorf("reminder: fire %d: claim: %w", eventID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		return nil
	}
	if ev.IsClosed() {
		return nil
	}

	user, err := s.users.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("reminder: fire %d: %w", eventID, err)
	}
	if !users.WantsReminders(user) {
		return nil
	}
	if err := s.dispatcher.Send(ctx, user, s.notification(&ev)); err != nil {
		return fmt.Errorf("reminder: fire %d: %w", eventID, err)
	}
	return nil
}

// Snooze postpones the reminder for eventID by minutes from now.
func (s *Scheduler) Snooze(ctx context.Context, eventID uint, minutes int) (*models.CalendarEvent, error) {
	d := time.Duration(minutes) * time.Minute
	if minutes < 1 || d > s.maxSnooze {
		return nil, fmt.Errorf("reminder: snooze: %w: minutes must be between 1 and %d",
			recurrence.ErrInvalid, int(s.maxSnooze/time.Minute))
	}
	ev, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	until := s.now().Add(d)
	s.unregister(ev)
	jobID, err := s.register(ev.ID, until)
	if err != nil {
		return nil, err
	}
	err = s.update(ctx, ev, map[string]interface{}{
		"reminder_job_id":        jobID,
		"reminder_sent":          false,
		"reminder_snoozed_until": until,
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Dismiss acknowledges the reminder for eventID: it is marked sent, the
// snooze is cleared and any pending timer is cancelled.
func (s *Scheduler) Dismiss(ctx context.Context, eventID uint) (*models.CalendarEvent, error) {
	ev, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.suppress(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// StatusChanged applies the reminder side of a status edit. Closing an
// event suppresses its reminder; reopening one schedules it again.
func (s *Scheduler) StatusChanged(ctx context.Context, ev *models.CalendarEvent, previous string) error {
	was := models.CalendarEvent{Status: previous}
	switch {
	case ev.IsClosed():
		return s.suppress(ctx, ev)
	case was.IsClosed():
		return s.Schedule(ctx, ev)
	}
	return nil
}

// Restore re-registers timers for every open, unsent reminder from
// yesterday onward. Timers live in process memory, so this runs at start
// and again on every refresh. Rows are only written when their job id
// must change, and only if no one else changed the row since it was read.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	since := recurrence.FormatDay(recurrence.AddDays(recurrence.DayOf(s.now().In(s.loc)), -1))

	var events []models.CalendarEvent
	err := s.db.WithContext(ctx).
		Where("reminder_sent = ? AND start_time IS NOT NULL AND reminder_minutes_before IS NOT NULL", false).
		Where("day >= ? AND status NOT IN ?", since, []string{models.StatusDone, models.StatusCanceled}).
		Order("id").
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("reminder: restore: %w", err)
	}

	restored := 0
	for i := range events {
		ok, err := s.restore(ctx, &events[i])
		if err != nil {
			log.Printf("reminder: restore event %d: %v", events[i].ID, err)
			continue
		}
		if ok {
			restored++
		}
	}
	return restored, nil
}

// RestoreEvery runs Restore every interval until ctx is done, arming
// reminders that other processes wrote without a timer here.
func (s *Scheduler) RestoreEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Restore(ctx); err != nil && ctx.Err() == nil {
				log.Printf("reminder: refresh: %v", err)
			}
		}
	}
}

// restore arms the timer for one loaded row. A running snooze wins over
// the lead time; reminders already due are left alone.
func (s *Scheduler) restore(ctx context.Context, ev *models.CalendarEvent) (bool, error) {
	now := s.now()
	fields := map[string]interface{}{}
	at, ok, err := FireTime(ev, s.loc)
	if err != nil {
		return false, err
	}
	if ev.ReminderSnoozedUntil != nil {
		if ev.ReminderSnoozedUntil.After(now) {
			at, ok = *ev.ReminderSnoozedUntil, true
		} else {
			fields["reminder_snoozed_until"] = nil
		}
	}
	if !ok || !at.After(now) {
		return false, nil
	}

	jobID, err := s.register(ev.ID, at)
	if err != nil {
		return false, err
	}
	if ev.ReminderJobID != nil && *ev.ReminderJobID == jobID && len(fields) == 0 {
		return true, nil
	}

	fields["reminder_job_id"] = jobID
	q := s.db.WithContext(ctx).Model(&models.CalendarEvent{}).
		Where("id = ? AND reminder_sent = ?", ev.ID, false)
	if ev.ReminderJobID == nil {
		q = q.Where("reminder_job_id IS NULL")
	} else {
		q = q.Where("reminder_job_id = ?", *ev.ReminderJobID)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Changed since it was read; its new owner armed its own timer.
		if err := s.registry.Cancel(jobID); err != nil && !errors.Is(err, ErrJobNotFound) {
			log.Printf("reminder: cancel %s: %v", jobID, err)
		}
		return false, nil
	}
	ev.ReminderJobID = &jobID
	return true, nil
}

func (s *Scheduler) register(eventID uint, at time.Time) (string, error) {
	jobID := JobID(eventID, at)
	err := s.registry.Register(jobID, at, func() {
		if err := s.fire(context.Background(), eventID, jobID); err != nil {
			log.Printf("reminder: %v", err)
		}
	})
	if err != nil {
		return "", fmt.Errorf("reminder: register %s: %w", jobID, err)
	}
	return jobID, nil
}

// unregister cancels ev's timer. Unknown jobs are expected: the timer may
// have fired already or belong to another process.
func (s *Scheduler) unregister(ev *models.CalendarEvent) {
	if ev.ReminderJobID == nil {
		return
	}
	if err := s.registry.Cancel(*ev.ReminderJobID); err != nil && !errors.Is(err, ErrJobNotFound) {
		log.Printf("reminder: cancel %s: %v", *ev.ReminderJobID, err)
	}
}

func (s *Scheduler) suppress(ctx context.Context, ev *models.CalendarEvent) error {
	s.unregister(ev)
	return s.update(ctx, ev, map[string]interface{}{
		"reminder_job_id":        nil,
		"reminder_sent":          true,
		"reminder_snoozed_until": nil,
	})
}

func (s *Scheduler) load(ctx context.Context, eventID uint) (*models.CalendarEvent, error) {
	var ev models.CalendarEvent
	if err := s.db.WithContext(ctx).First(&ev, eventID).Error; err != nil {
		return nil, fmt.Errorf("reminder: event %d: %w", eventID, err)
	}
	return &ev, nil
}

// update writes fields to the event row and mirrors them onto ev.
func (s *Scheduler) update(ctx context.Context, ev *models.CalendarEvent, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).Model(&models.CalendarEvent{}).
		Where("id = ?", ev.ID).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("reminder: update event %d: %w", ev.ID, err)
	}
	for k, v := range fields {
		switch k {
		case "reminder_job_id":
			if id, ok := v.(string); ok {
				ev.ReminderJobID = &id
			} else {
				ev.ReminderJobID = nil
			}
		case "reminder_sent":
			ev.ReminderSent = v.(bool)
		case "reminder_snoozed_until":
			if t, ok := v.(time.Time); ok {
				ev.ReminderSnoozedUntil = &t
			} else {
				ev.ReminderSnoozedUntil = nil
			}
		}
	}
	return nil
}

func (s *Scheduler) notification(ev *models.CalendarEvent) notify.Notification {
	title := ev.Title
	if ev.StartTime != nil {
		title = fmt.Sprintf("%s at %s", ev.Title, *ev.StartTime)
	}
	body := ev.Day
	if ev.ReminderMinutesBefore != nil && *ev.ReminderMinutesBefore > 0 {
		body = fmt.Sprintf("Starts in %d minutes (%s)", *ev.ReminderMinutesBefore, ev.Day)
	}
	if ev.ItemNote != "" {
		body += "\n" + ev.ItemNote
	}
	n := notify.Notification{
		Title:   title,
		Body:    body,
		Actions: notify.ReminderActions(ev.ID),
	}
	if s.baseURL != "" {
		n.Link = fmt.Sprintf("%s/day/%s#event-%d", s.baseURL, ev.Day, ev.ID)
	}
	return n
}
