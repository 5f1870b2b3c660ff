// Package reminder schedules one-shot reminder notifications for calendar
// items and tracks their snooze and dismiss state.
package reminder

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrJobNotFound is returned when cancelling a job that is not registered,
// typically because it already fired.
var ErrJobNotFound = errors.New("reminder: job not found")

// Registry is a process-local store of one-shot timers keyed by job id.
// Registering an id that is already present replaces the old timer.
type Registry interface {
	Register(jobID string, at time.Time, fn func()) error
	Cancel(jobID string) error
}

// TimerRegistry implements Registry with time.AfterFunc.
type TimerRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewTimerRegistry creates an empty TimerRegistry.
func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{timers: make(map[string]*time.Timer)}
}

// Register implements Registry. A time in the past fires immediately.
func (r *TimerRegistry) Register(jobID string, at time.Time, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("reminder: registry stopped")
	}
	if old, ok := r.timers[jobID]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(time.Until(at), func() {
		r.mu.Lock()
		if r.timers[jobID] != t {
			r.mu.Unlock()
			return
		}
		delete(r.timers, jobID)
		r.mu.Unlock()
		fn()
	})
	r.timers[jobID] = t
	return nil
}

// Cancel implements Registry.
func (r *TimerRegistry) Cancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[jobID]
	if !ok {
		return ErrJobNotFound
	}
	t.Stop()
	delete(r.timers, jobID)
	return nil
}

// Pending returns the registered job ids in sorted order.
func (r *TimerRegistry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every pending timer and rejects further registrations.
func (r *TimerRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.closed = true
}
