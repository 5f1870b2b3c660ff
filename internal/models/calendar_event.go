package models

import "time"

// Event statuses.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCanceled   = "canceled"

	// StatusLegacyPhase predates the IsPhase flag and is rewritten on read.
	StatusLegacyPhase = "phase"
)

// CalendarEvent is one concrete calendar item on one day: a plain task or
// event, a phase header, or a group header.
type CalendarEvent struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	UserID       uint    `gorm:"not null;index:idx_event_user_day"`
	Title        string  `gorm:"size:256;not null"`
	Description  string  `gorm:"type:text"`
	Day          string  `gorm:"size:10;not null;index:idx_event_user_day;uniqueIndex:idx_event_recurrence_day"`
	StartTime    *string `gorm:"size:5"`
	EndTime      *string `gorm:"size:5"`
	Status       string  `gorm:"size:16;default:not_started"`
	Priority     string  `gorm:"size:16;default:medium"`
	IsPhase      bool
	IsEvent      bool
	IsGroup      bool
	AllowOverlap bool
	PhaseID      *uint `gorm:"index"`
	GroupID      *uint `gorm:"index"`
	SortOrder    int

	ReminderMinutesBefore *int
	ReminderJobID         *string `gorm:"size:128"`
	ReminderSent          bool
	ReminderSnoozedUntil  *time.Time

	RolloverEnabled bool
	RolledFromID    *uint `gorm:"index"`
	RecurrenceID    *uint `gorm:"uniqueIndex:idx_event_recurrence_day"`
	TodoItemID      *uint
	ItemNote        string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClosed reports whether the item no longer needs attention.
func (e *CalendarEvent) IsClosed() bool {
	return e.Status == StatusDone || e.Status == StatusCanceled
}

// IsHeader reports whether the item is a phase or group header.
func (e *CalendarEvent) IsHeader() bool {
	return e.IsPhase || e.IsGroup
}
