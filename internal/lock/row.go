package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/almanac/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mysqlLockNowait is ER_LOCK_NOWAIT: the row is locked by another
// transaction and NOWAIT was requested.
const mysqlLockNowait = 3572

// errNotAcquired aborts the transaction when the lock is held elsewhere.
var errNotAcquired = errors.New("lock held")

// RowLocker locks the job row with SELECT ... FOR UPDATE NOWAIT inside a
// transaction, inserting it when absent and overwriting it when stale.
type RowLocker struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRowLocker creates a RowLocker.
func NewRowLocker(db *gorm.DB) *RowLocker {
	return &RowLocker{db: db, now: time.Now}
}

// Acquire implements Locker.
func (l *RowLocker) Acquire(ctx context.Context, jobName, workerID string, staleness time.Duration) (bool, error) {
	now := l.now().UTC()
	cutoff := staleCutoff(now, staleness)

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.JobLock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
			Where("job_name = ?", jobName).
			Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.JobLock{JobName: jobName, LockedAt: now, LockedBy: workerID}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errNotAcquired
				}
				return fmt.Errorf("insert: %w", err)
			}
			return nil
		case err != nil:
			if isLockNowait(err) {
				return errNotAcquired
			}
			return fmt.Errorf("select for update: %w", err)
		}

		if row.LockedAt.After(cutoff) {
			return errNotAcquired
		}
		return tx.Model(&models.JobLock{}).
			Where("job_name = ?", jobName).
			Updates(map[string]interface{}{
				"locked_at": now,
				"locked_by": workerID,
			}).Error
	})
	if errors.Is(err, errNotAcquired) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", jobName, err)
	}
	return true, nil
}

// Release implements Locker.
func (l *RowLocker) Release(ctx context.Context, jobName, workerID string) error {
	return release(ctx, l.db, jobName, workerID)
}

func isLockNowait(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlLockNowait
}

func release(ctx context.Context, db *gorm.DB, jobName, workerID string) error {
	err := db.WithContext(ctx).
		Where("job_name = ? AND locked_by = ?", jobName, workerID).
		Delete(&models.JobLock{}).Error
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", jobName, err)
	}
	return nil
}
