package models

import (
	"encoding/json"
	"time"
)

// RecurringEventRule is the template a recurring calendar item is
// materialized from. Days are ISO dates, times are HH:MM.
type RecurringEventRule struct {
	ID                    uint    `gorm:"primaryKey;autoIncrement"`
	UserID                uint    `gorm:"not null;index"`
	Title                 string  `gorm:"size:256;not null"`
	Description           string  `gorm:"type:text"`
	StartDay              string  `gorm:"size:10;not null;index"`
	EndDay                *string `gorm:"size:10"`
	StartTime             *string `gorm:"size:5"`
	EndTime               *string `gorm:"size:5"`
	Status                string  `gorm:"size:16;default:not_started"`
	Priority              string  `gorm:"size:16;default:medium"`
	IsEvent               bool
	AllowOverlap          bool
	ReminderMinutesBefore *int
	RolloverEnabled       bool
	ItemNote              string `gorm:"type:text"`

	Frequency      string `gorm:"size:20;not null"`
	Interval       int    `gorm:"default:1"`
	IntervalUnit   string `gorm:"size:10"`
	DaysOfWeek     string `gorm:"size:32"` // JSON list, Monday = 0
	DayOfMonth     *int
	MonthOfYear    *int
	WeekOfMonth    *int
	WeekdayOfMonth *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Weekdays decodes DaysOfWeek. A malformed column reads as empty.
func (r *RecurringEventRule) Weekdays() []int {
	if r.DaysOfWeek == "" {
		return nil
	}
	var days []int
	if err := json.Unmarshal([]byte(r.DaysOfWeek), &days); err != nil {
		return nil
	}
	return days
}

// SetWeekdays encodes days into DaysOfWeek.
func (r *RecurringEventRule) SetWeekdays(days []int) {
	if len(days) == 0 {
		r.DaysOfWeek = ""
		return
	}
	data, _ := json.Marshal(days)
	r.DaysOfWeek = string(data)
}

// RecurrenceException suppresses materialization of one (rule, day) pair.
type RecurrenceException struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       uint   `gorm:"not null;index"`
	RecurrenceID uint   `gorm:"not null;uniqueIndex:idx_exception_rule_day"`
	Day          string `gorm:"size:10;not null;uniqueIndex:idx_exception_rule_day"`
	CreatedAt    time.Time
}
