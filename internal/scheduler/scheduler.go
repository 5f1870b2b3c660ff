// Package scheduler runs the background jobs on fixed local-time cron
// triggers. Every run goes through the advisory lock, so several worker
// processes can host the same schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/almanac/internal/lock"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is one scheduled background task.
type Job struct {
	Name    string // also the advisory lock name
	Cron    string
	CatchUp bool // run once when the scheduler starts
	Run     func(ctx context.Context) error
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Jobs      []Job
	Locker    lock.Locker
	Location  *time.Location // zone the cron expressions are read in
	WorkerID  string
	Staleness time.Duration
	Now       func() time.Time
}

// Scheduler fires jobs on their cron triggers.
type Scheduler struct {
	jobs      []*entry
	byName    map[string]*entry
	locker    lock.Locker
	loc       *time.Location
	workerID  string
	staleness time.Duration
	now       func() time.Time
}

type entry struct {
	job   Job
	sched cron.Schedule
}

// New validates the jobs and creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Locker == nil {
		return nil, fmt.Errorf("scheduler: locker is required")
	}
	s := &Scheduler{
		byName:    make(map[string]*entry, len(opts.Jobs)),
		locker:    opts.Locker,
		loc:       opts.Location,
		workerID:  opts.WorkerID,
		staleness: opts.Staleness,
		now:       opts.Now,
	}
	for _, job := range opts.Jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("scheduler: job name is required")
		}
		if job.Run == nil {
			return nil, fmt.Errorf("scheduler: job %s: run func is required", job.Name)
		}
		if _, dup := s.byName[job.Name]; dup {
			return nil, fmt.Errorf("scheduler: duplicate job %s", job.Name)
		}
		sched, err := cronParser.Parse(job.Cron)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %s: cron %q: %w", job.Name, job.Cron, err)
		}
		e := &entry{job: job, sched: sched}
		s.jobs = append(s.jobs, e)
		s.byName[job.Name] = e
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.workerID == "" {
		s.workerID = lock.WorkerID()
	}
	if s.staleness <= 0 {
		s.staleness = lock.DefaultStaleness
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Next returns the first trigger of job name strictly after t, evaluated
// in the scheduler's zone.
func (s *Scheduler) Next(name string, t time.Time) (time.Time, error) {
	e, ok := s.byName[name]
	if !ok {
		return time.Time{}, fmt.Errorf("scheduler: unknown job %s", name)
	}
	return e.sched.Next(t.In(s.loc)), nil
}

// Run performs the catch-up runs, then fires every job on its trigger
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, e := range s.jobs {
		if e.job.CatchUp {
			s.Trigger(ctx, e.job.Name)
		}
	}

	var wg sync.WaitGroup
	for _, e := range s.jobs {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	timer := time.NewTimer(s.untilNext(e))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Trigger(ctx, e.job.Name)
			timer.Reset(s.untilNext(e))
		}
	}
}

func (s *Scheduler) untilNext(e *entry) time.Duration {
	now := s.now()
	d := e.sched.Next(now.In(s.loc)).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Trigger runs job name now under its lock. It reports whether the job
// ran; contention is logged and skipped. Job errors and panics are logged
// and returned, never propagated as a crash.
func (s *Scheduler) Trigger(ctx context.Context, name string) (ran bool, err error) {
	e, ok := s.byName[name]
	if !ok {
		return false, fmt.Errorf("scheduler: unknown job %s", name)
	}
	ran, err = lock.WithLock(ctx, s.locker, name, s.workerID, s.staleness, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return e.job.Run(ctx)
	})
	if err != nil {
		log.Printf("scheduler: job %s: %v", name, err)
		return ran, fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	if !ran {
		log.Printf("scheduler: job %s is held by another worker, skipping", name)
	}
	return ran, nil
}
