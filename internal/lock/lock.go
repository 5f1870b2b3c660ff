// Package lock provides advisory, row-based mutual exclusion for named
// background jobs shared by several worker processes.
package lock

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultStaleness is the age after which a held lock is treated as
// abandoned and may be taken over.
const DefaultStaleness = 5 * time.Minute

// Locker acquires and releases named job locks.
//
// Acquire returns false with a nil error when another worker holds a fresh
// lock; contention is the normal outcome in a multi-worker deployment.
// Release deletes the row only when workerID still owns it.
type Locker interface {
	Acquire(ctx context.Context, jobName, workerID string, staleness time.Duration) (bool, error)
	Release(ctx context.Context, jobName, workerID string) error
}

// New returns the Locker suited to the store behind db: SQLite has no row
// locks, so it gets the optimistic insert strategy.
func New(db *gorm.DB) Locker {
	if db.Dialector.Name() == "sqlite" {
		return NewInsertLocker(db)
	}
	return NewRowLocker(db)
}

// WorkerID builds a process identifier of the form host-pid-suffix.
func WorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// WithLock runs fn while holding jobName. It reports whether fn ran. The
// lock is released on every exit path, including a panic in fn.
func WithLock(ctx context.Context, l Locker, jobName, workerID string, staleness time.Duration, fn func(context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx, jobName, workerID, staleness)
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", jobName, err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// Release with a fresh context so a cancelled job still frees the row.
		if relErr := l.Release(context.Background(), jobName, workerID); relErr != nil {
			log.Printf("lock: release %s: %v", jobName, relErr)
		}
	}()
	return true, fn(ctx)
}

func staleCutoff(now time.Time, staleness time.Duration) time.Time {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return now.Add(-staleness)
}
