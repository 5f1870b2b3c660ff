package models

import "time"

// JobLock is the advisory lock row for one named background job.
type JobLock struct {
	JobName  string    `gorm:"primaryKey;size:64"`
	LockedAt time.Time `gorm:"not null"`
	LockedBy string    `gorm:"size:128;not null"`
}
