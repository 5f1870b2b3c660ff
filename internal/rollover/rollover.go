// Package rollover carries yesterday's unfinished calendar items forward
// into today, once per day per user.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/lock"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
	"github.com/zulandar/almanac/internal/todo"
	"github.com/zulandar/almanac/internal/users"
	"gorm.io/gorm"
)

// JobName is the advisory lock that guards a rollover run.
const JobName = "daily_rollover"

// TaskLinker re-points a linked todo item's due date inside the rollover
// transaction.
type TaskLinker interface {
	SetDueDate(tx *gorm.DB, taskID uint, day string) error
}

// UserLister enumerates the users to roll.
type UserLister interface {
	List(ctx context.Context) ([]models.User, error)
}

// Reminders is the part of the reminder scheduler rollover drives.
type Reminders interface {
	Schedule(ctx context.Context, ev *models.CalendarEvent) error
	Cancel(ctx context.Context, ev *models.CalendarEvent) error
}

// Opts holds parameters for creating an Engine.
type Opts struct {
	DB        *gorm.DB
	Locker    lock.Locker    // defaults to lock.New(DB)
	Users     UserLister     // defaults to users.NewStore(DB)
	Reminders Reminders      // optional
	Tasks     TaskLinker     // defaults to todo.NewLinker()
	Location  *time.Location // zone that decides "today"
	WorkerID  string
	Staleness time.Duration
	Now       func() time.Time
}

// Engine runs the daily rollover.
type Engine struct {
	db        *gorm.DB
	locker    lock.Locker
	users     UserLister
	reminders Reminders
	tasks     TaskLinker
	loc       *time.Location
	workerID  string
	staleness time.Duration
	now       func() time.Time
}

// Result summarizes one rollover run.
type Result struct {
	Day     string
	Ran     bool // false when another worker held the lock
	Users   int
	Cloned  int
	Removed int
	Failed  []UserError
}

// UserError records a user whose rollover failed.
type UserError struct {
	UserID uint
	Err    error
}

// UserResult summarizes the rollover of one user.
type UserResult struct {
	Cloned  int // new items in today, headers included
	Removed int // superseded sources and duplicate clones deleted
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("rollover: db is required")
	}
	e := &Engine{
		db:        opts.DB,
		locker:    opts.Locker,
		users:     opts.Users,
		reminders: opts.Reminders,
		tasks:     opts.Tasks,
		loc:       opts.Location,
		workerID:  opts.WorkerID,
		staleness: opts.Staleness,
		now:       opts.Now,
	}
	if e.locker == nil {
		e.locker = lock.New(opts.DB)
	}
	if e.users == nil {
		e.users = users.NewStore(opts.DB)
	}
	if e.reminders == nil {
		e.reminders = noReminders{}
	}
	if e.tasks == nil {
		e.tasks = todo.NewLinker()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.workerID == "" {
		e.workerID = lock.WorkerID()
	}
	if e.staleness <= 0 {
		e.staleness = lock.DefaultStaleness
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Today returns the day the next run rolls into.
func (e *Engine) Today() time.Time {
	return recurrence.DayOf(e.now().In(e.loc))
}

// Run takes the rollover lock and rolls every user. Contention is not an
// error: the result reports Ran false and the next trigger retries.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	var res *Result
	ran, err := lock.WithLock(ctx, e.locker, JobName, e.workerID, e.staleness, func(ctx context.Context) error {
		var err error
		res, err = e.RollAll(ctx)
		return err
	})
	if err != nil {
		return res, err
	}
	if !ran {
		log.Printf("rollover: %s is held by another worker, skipping", JobName)
		return &Result{Day: recurrence.FormatDay(e.Today())}, nil
	}
	return res, nil
}

// RollAll rolls every user into today without taking the lock. Callers
// that already hold JobName use it directly. A failing user is logged and
// recorded; the others still roll.
func (e *Engine) RollAll(ctx context.Context) (*Result, error) {
	today := e.Today()
	res := &Result{Day: recurrence.FormatDay(today), Ran: true}
	list, err := e.users.List(ctx)
	if err != nil {
		return res, fmt.Errorf("rollover: list users: %w", err)
	}
	for _, u := range list {
		ur, err := e.rollSafely(ctx, u.ID, today)
		if err != nil {
			log.Printf("rollover: user %d: %v", u.ID, err)
			res.Failed = append(res.Failed, UserError{UserID: u.ID, Err: err})
			continue
		}
		res.Users++
		res.Cloned += ur.Cloned
		res.Removed += ur.Removed
	}
	return res, nil
}

func (e *Engine) rollSafely(ctx context.Context, userID uint, today time.Time) (ur *UserResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollover: user %d: panic: %v", userID, r)
		}
	}()
	return e.RollUser(ctx, userID, today)
}

// RollUser clones the user's unfinished, rollover-enabled items of the day
// before today into today, in one transaction. Phase headers are cloned
// once, on demand, ahead of their first child. A group header that rolls
// keeps its children; a child whose group stays behind loses the link.
// Sources are deleted once cloned. Running it again for the same day finds
// nothing left to clone and repairs duplicate clones, keeping the oldest.
func (e *Engine) RollUser(ctx context.Context, userID uint, today time.Time) (*UserResult, error) {
	r := &roll{
		tasks:     e.tasks,
		userID:    userID,
		today:     recurrence.FormatDay(today),
		yesterday: recurrence.FormatDay(recurrence.AddDays(today, -1)),
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r.tx = tx
		return r.run()
	})
	if err != nil {
		return nil, fmt.Errorf("rollover: user %d: %w", userID, err)
	}

	for i := range r.removed {
		if err := e.reminders.Cancel(ctx, &r.removed[i]); err != nil {
			log.Printf("rollover: cancel reminder for event %d: %v", r.removed[i].ID, err)
		}
	}
	for i := range r.created {
		ev := &r.created[i]
		if ev.StartTime == nil || ev.ReminderMinutesBefore == nil {
			continue
		}
		if err := e.reminders.Schedule(ctx, ev); err != nil {
			log.Printf("rollover: schedule reminder for event %d: %v", ev.ID, err)
		}
	}
	return &UserResult{Cloned: len(r.created), Removed: len(r.removed)}, nil
}

// roll is the state of one user's rollover transaction.
type roll struct {
	tx        *gorm.DB
	tasks     TaskLinker
	userID    uint
	today     string
	yesterday string

	phases   map[uint]*models.CalendarEvent // yesterday's phase headers
	eligible map[uint]*models.CalendarEvent // yesterday's items that roll
	clones   map[uint]uint                  // source id -> today's clone id
	dups     map[uint]uint                  // duplicate clone id -> kept clone id

	created []models.CalendarEvent
	removed []models.CalendarEvent
}

func (r *roll) run() error {
	var prior []models.CalendarEvent
	if err := r.tx.Where("user_id = ? AND day = ?", r.userID, r.yesterday).
		Order("sort_order, id").Find(&prior).Error; err != nil {
		return fmt.Errorf("load %s: %w", r.yesterday, err)
	}
	r.phases = make(map[uint]*models.CalendarEvent)
	r.eligible = make(map[uint]*models.CalendarEvent)
	var order []*models.CalendarEvent
	for i := range prior {
		ev := calendar.Canonicalize(prior[i])
		prior[i] = ev
		switch {
		case ev.IsPhase:
			r.phases[ev.ID] = &prior[i]
		case ev.RolloverEnabled && ev.Status != models.StatusDone:
			r.eligible[ev.ID] = &prior[i]
			order = append(order, &prior[i])
		}
	}

	if err := r.loadClones(); err != nil {
		return err
	}
	for _, src := range order {
		if _, err := r.cloneItem(src); err != nil {
			return err
		}
	}
	return r.deleteSuperseded(order)
}

// loadClones indexes today's rolled items by source and queues every
// duplicate clone but the lowest id for deletion.
func (r *roll) loadClones() error {
	var rolled []models.CalendarEvent
	if err := r.tx.Where("user_id = ? AND day = ? AND rolled_from_id IS NOT NULL", r.userID, r.today).
		Order("id").Find(&rolled).Error; err != nil {
		return fmt.Errorf("load rolled items: %w", err)
	}
	r.clones = make(map[uint]uint, len(rolled))
	r.dups = make(map[uint]uint)
	for _, ev := range rolled {
		if kept, ok := r.clones[*ev.RolledFromID]; ok {
			r.dups[ev.ID] = kept
			r.removed = append(r.removed, ev)
			continue
		}
		r.clones[*ev.RolledFromID] = ev.ID
	}
	return nil
}

// cloneItem clones an eligible source into today unless it already has a
// clone, and returns the clone's id.
func (r *roll) cloneItem(src *models.CalendarEvent) (uint, error) {
	if id, ok := r.clones[src.ID]; ok {
		return id, nil
	}

	var phaseID, groupID *uint
	if src.PhaseID != nil {
		id, err := r.clonePhase(*src.PhaseID)
		if err != nil {
			return 0, err
		}
		phaseID = id
	}
	if src.GroupID != nil {
		if group, ok := r.eligible[*src.GroupID]; ok {
			id, err := r.cloneItem(group)
			if err != nil {
				return 0, err
			}
			groupID = &id
		}
	}

	if src.RecurrenceID != nil {
		if err := calendar.AddException(r.tx, r.userID, *src.RecurrenceID, r.yesterday); err != nil {
			return 0, err
		}
	}
	if src.TodoItemID != nil {
		err := r.tasks.SetDueDate(r.tx, *src.TodoItemID, r.today)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("rollover: event %d links to missing todo item %d", src.ID, *src.TodoItemID)
		} else if err != nil {
			return 0, err
		}
	}

	clone := cloneOf(src, r.today)
	clone.PhaseID = phaseID
	clone.GroupID = groupID
	if err := r.insert(&clone); err != nil {
		return 0, err
	}
	return clone.ID, nil
}

// clonePhase returns today's copy of yesterday's phase header, creating it
// on first use. A reference to a phase that is not yesterday's header is
// dropped.
func (r *roll) clonePhase(phaseID uint) (*uint, error) {
	if id, ok := r.clones[phaseID]; ok {
		return &id, nil
	}
	phase, ok := r.phases[phaseID]
	if !ok {
		return nil, nil
	}
	clone := cloneOf(phase, r.today)
	if err := r.insert(&clone); err != nil {
		return nil, err
	}
	return &clone.ID, nil
}

func (r *roll) insert(clone *models.CalendarEvent) error {
	order, err := calendar.NextSortOrder(r.tx, r.userID, r.today)
	if err != nil {
		return err
	}
	clone.SortOrder = order
	if err := r.tx.Create(clone).Error; err != nil {
		return fmt.Errorf("clone event %d: %w", *clone.RolledFromID, err)
	}
	r.clones[*clone.RolledFromID] = clone.ID
	r.created = append(r.created, *clone)
	return nil
}

// deleteSuperseded removes every source that now has a clone together with
// the duplicate clones. Children of a duplicate header move to the kept
// clone; anything else still pointing at a deleted row is unlinked.
func (r *roll) deleteSuperseded(order []*models.CalendarEvent) error {
	for dup, kept := range r.dups {
		for _, col := range []string{"phase_id", "group_id"} {
			if err := r.tx.Model(&models.CalendarEvent{}).Where(col+" = ?", dup).
				Update(col, kept).Error; err != nil {
				return fmt.Errorf("repoint %s from %d: %w", col, dup, err)
			}
		}
	}
	for _, src := range order {
		if _, ok := r.clones[src.ID]; ok {
			r.removed = append(r.removed, *src)
		}
	}
	if len(r.removed) == 0 {
		return nil
	}
	ids := make([]uint, len(r.removed))
	for i, ev := range r.removed {
		ids[i] = ev.ID
	}
	if err := r.tx.Model(&models.CalendarEvent{}).Where("group_id IN ?", ids).
		Update("group_id", nil).Error; err != nil {
		return fmt.Errorf("unlink groups: %w", err)
	}
	if err := r.tx.Model(&models.CalendarEvent{}).Where("phase_id IN ?", ids).
		Update("phase_id", nil).Error; err != nil {
		return fmt.Errorf("unlink phases: %w", err)
	}
	if err := r.tx.Delete(&models.CalendarEvent{}, ids).Error; err != nil {
		return fmt.Errorf("delete superseded items: %w", err)
	}
	return nil
}

// cloneOf copies src into day as a fresh, unstarted item rolled from src.
func cloneOf(src *models.CalendarEvent, day string) models.CalendarEvent {
	from := src.ID
	return models.CalendarEvent{
		UserID:                src.UserID,
		Title:                 src.Title,
		Description:           src.Description,
		Day:                   day,
		StartTime:             src.StartTime,
		EndTime:               src.EndTime,
		Status:                models.StatusNotStarted,
		Priority:              src.Priority,
		IsPhase:               src.IsPhase,
		IsEvent:               src.IsEvent,
		IsGroup:               src.IsGroup,
		AllowOverlap:          src.AllowOverlap,
		ReminderMinutesBefore: src.ReminderMinutesBefore,
		RolloverEnabled:       src.RolloverEnabled,
		RolledFromID:          &from,
		TodoItemID:            src.TodoItemID,
		ItemNote:              src.ItemNote,
	}
}

type noReminders struct{}

func (noReminders) Schedule(context.Context, *models.CalendarEvent) error { return nil }
func (noReminders) Cancel(context.Context, *models.CalendarEvent) error   { return nil }
