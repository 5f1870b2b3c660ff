// Package digest sends each user a morning agenda for one day.
package digest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/almanac/internal/lock"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/recurrence"
	"github.com/zulandar/almanac/internal/users"
	"gorm.io/gorm"
)

// JobName is the advisory lock that guards a digest run.
const JobName = "daily_digest"

// EventSource lists a user's items for a window, materializing recurring
// instances first.
type EventSource interface {
	Events(ctx context.Context, userID uint, start, end string) ([]models.CalendarEvent, error)
}

// UserLister enumerates digest recipients.
type UserLister interface {
	List(ctx context.Context) ([]models.User, error)
}

// Opts holds parameters for creating a Builder.
type Opts struct {
	DB         *gorm.DB
	Events     EventSource
	Users      UserLister        // defaults to users.NewStore(DB)
	Dispatcher notify.Dispatcher // defaults to notify.Discard
	Locker     lock.Locker       // defaults to lock.New(DB)
	Location   *time.Location
	BaseURL    string
	WorkerID   string
	Staleness  time.Duration
	Now        func() time.Time
}

// Builder builds and sends daily digests.
type Builder struct {
	events     EventSource
	users      UserLister
	dispatcher notify.Dispatcher
	locker     lock.Locker
	loc        *time.Location
	baseURL    string
	workerID   string
	staleness  time.Duration
	now        func() time.Time
}

// Entry is one line of an agenda.
type Entry struct {
	EventID uint
	Title   string
	Start   string // empty for untimed tasks
	End     string
	IsEvent bool
}

// Report is one user's agenda for a day.
type Report struct {
	Day     string
	Timed   []Entry // by start time
	Untimed []Entry // open tasks without a time
	Rolled  int     // items carried over from the day before
}

// Empty reports whether there is nothing worth sending.
func (r *Report) Empty() bool {
	return len(r.Timed) == 0 && len(r.Untimed) == 0
}

// Result summarizes one digest run.
type Result struct {
	Day     string
	Ran     bool
	Sent    int
	Skipped int // opted out or nothing scheduled
	Failed  []UserError
}

// UserError records a user whose digest failed.
type UserError struct {
	UserID uint
	Err    error
}

// New creates a Builder.
func New(opts Opts) (*Builder, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("digest: db is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("digest: event source is required")
	}
	b := &Builder{
		events:     opts.Events,
		users:      opts.Users,
		dispatcher: opts.Dispatcher,
		locker:     opts.Locker,
		loc:        opts.Location,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		workerID:   opts.WorkerID,
		staleness:  opts.Staleness,
		now:        opts.Now,
	}
	if b.users == nil {
		b.users = users.NewStore(opts.DB)
	}
	if b.dispatcher == nil {
		b.dispatcher = notify.Discard{}
	}
	if b.locker == nil {
		b.locker = lock.New(opts.DB)
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.workerID == "" {
		b.workerID = lock.WorkerID()
	}
	if b.staleness <= 0 {
		b.staleness = lock.DefaultStaleness
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

// Run takes the digest lock and sends every opted-in user the agenda for
// day. An empty day means today in the configured zone.
func (b *Builder) Run(ctx context.Context, day string) (*Result, error) {
	day = b.resolveDay(day)
	var res *Result
	ran, err := lock.WithLock(ctx, b.locker, JobName, b.workerID, b.staleness, func(ctx context.Context) error {
		var err error
		res, err = b.SendAll(ctx, day)
		return err
	})
	if err != nil {
		return res, err
	}
	if !ran {
		log.Printf("digest: %s is held by another worker, skipping", JobName)
		return &Result{Day: day}, nil
	}
	return res, nil
}

// SendAll sends the digest for day without taking the lock. Per-user
// failures are logged and recorded; the rest still receive theirs.
func (b *Builder) SendAll(ctx context.Context, day string) (*Result, error) {
	day = b.resolveDay(day)
	if _, err := recurrence.ParseDay(day); err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}
	res := &Result{Day: day, Ran: true}
	list, err := b.users.List(ctx)
	if err != nil {
		return res, fmt.Errorf("digest: list users: %w", err)
	}
	for i := range list {
		u := &list[i]
		if !users.WantsDigest(u) {
			res.Skipped++
			continue
		}
		sent, err := b.send(ctx, u, day)
		if err != nil {
			log.Printf("digest: user %d: %v", u.ID, err)
			res.Failed = append(res.Failed, UserError{UserID: u.ID, Err: err})
			continue
		}
		if sent {
			res.Sent++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

func (b *Builder) resolveDay(day string) string {
	if day == "" {
		return recurrence.FormatDay(recurrence.DayOf(b.now().In(b.loc)))
	}
	return day
}

func (b *Builder) send(ctx context.Context, u *models.User, day string) (bool, error) {
	report, err := b.BuildReport(ctx, u.ID, day)
	if err != nil {
		return false, err
	}
	// Suppress when nothing is scheduled.
	if report.Empty() {
		return false, nil
	}
	n := FormatReport(report)
	if b.baseURL != "" {
		n.Link = fmt.Sprintf("%s/day/%s", b.baseURL, day)
	}
	if err := b.dispatcher.Send(ctx, u, n); err != nil {
		return false, fmt.Errorf("send: %w", err)
	}
	return true, nil
}

// BuildReport collects the user's agenda for day.
func (b *Builder) BuildReport(ctx context.Context, userID uint, day string) (*Report, error) {
	events, err := b.events.Events(ctx, userID, day, day)
	if err != nil {
		return nil, fmt.Errorf("digest: load %s: %w", day, err)
	}
	report := &Report{Day: day}
	for _, ev := range events {
		if ev.IsHeader() || ev.Status == models.StatusCanceled {
			continue
		}
		if ev.RolledFromID != nil {
			report.Rolled++
		}
		entry := Entry{EventID: ev.ID, Title: ev.Title, IsEvent: ev.IsEvent}
		if ev.StartTime == nil {
			if !ev.IsEvent && ev.Status != models.StatusDone {
				report.Untimed = append(report.Untimed, entry)
			}
			continue
		}
		entry.Start = *ev.StartTime
		if ev.EndTime != nil {
			entry.End = *ev.EndTime
		}
		report.Timed = append(report.Timed, entry)
	}
	sort.SliceStable(report.Timed, func(i, j int) bool {
		return report.Timed[i].Start < report.Timed[j].Start
	})
	return report, nil
}

// FormatReport renders a report as a notification.
func FormatReport(r *Report) notify.Notification {
	title := "Agenda for " + r.Day
	if d, err := recurrence.ParseDay(r.Day); err == nil {
		title = "Agenda for " + d.Format("Mon Jan 2")
	}

	var lines []string
	if len(r.Timed) > 0 {
		lines = append(lines, "**Schedule**:")
		for _, e := range r.Timed {
			when := e.Start
			if e.End != "" {
				when += "-" + e.End
			}
			lines = append(lines, fmt.Sprintf("  %s %s", when, e.Title))
		}
	}
	if len(r.Untimed) > 0 {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "**Tasks**:")
		for _, e := range r.Untimed {
			lines = append(lines, "  - "+e.Title)
		}
	}
	if r.Rolled > 0 {
		lines = append(lines, "", fmt.Sprintf("**Rolled over**: %d", r.Rolled))
	}
	return notify.Notification{Title: title, Body: strings.Join(lines, "\n")}
}
