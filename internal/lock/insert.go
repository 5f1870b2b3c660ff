package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"gorm.io/gorm"
)

// InsertLocker acquires by inserting the job row. On a uniqueness
// violation it re-reads the row and takes over a stale lock with a
// compare-and-swap update, so two workers racing for the same stale row
// cannot both win.
type InsertLocker struct {
	db  *gorm.DB
	now func() time.Time
}

// NewInsertLocker creates an InsertLocker.
func NewInsertLocker(db *gorm.DB) *InsertLocker {
	return &InsertLocker{db: db, now: time.Now}
}

// Acquire implements Locker.
func (l *InsertLocker) Acquire(ctx context.Context, jobName, workerID string, staleness time.Duration) (bool, error) {
	db := l.db.WithContext(ctx)
	now := l.now().UTC()

	row := models.JobLock{JobName: jobName, LockedAt: now, LockedBy: workerID}
	insertErr := db.Create(&row).Error
	if insertErr == nil {
		return true, nil
	}

	var existing models.JobLock
	if err := db.Where("job_name = ?", jobName).Take(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Insert failed for a reason other than an existing row.
			return false, fmt.Errorf("lock: acquire %s: %w", jobName, insertErr)
		}
		return false, fmt.Errorf("lock: acquire %s: re-read: %w", jobName, err)
	}

	cutoff := staleCutoff(now, staleness)
	if existing.LockedAt.After(cutoff) {
		return false, nil
	}

	result := db.Model(&models.JobLock{}).
		Where("job_name = ? AND locked_by = ? AND locked_at < ?", jobName, existing.LockedBy, cutoff).
		Updates(map[string]interface{}{
			"locked_at": now,
			"locked_by": workerID,
		})
	if result.Error != nil {
		return false, fmt.Errorf("lock: acquire %s: takeover: %w", jobName, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Release implements Locker.
func (l *InsertLocker) Release(ctx context.Context, jobName, workerID string) error {
	return release(ctx, l.db, jobName, workerID)
}
