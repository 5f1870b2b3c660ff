package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/digest"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/rollover"
	"gorm.io/gorm"
)

type eventView struct {
	ID                    uint       `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description,omitempty"`
	Day                   string     `json:"day"`
	StartTime             *string    `json:"start_time"`
	EndTime               *string    `json:"end_time"`
	Status                string     `json:"status"`
	Priority              string     `json:"priority"`
	IsPhase               bool       `json:"is_phase"`
	IsEvent               bool       `json:"is_event"`
	IsGroup               bool       `json:"is_group"`
	AllowOverlap          bool       `json:"allow_overlap"`
	PhaseID               *uint      `json:"phase_id"`
	GroupID               *uint      `json:"group_id"`
	SortOrder             int        `json:"sort_order"`
	ReminderMinutesBefore *int       `json:"reminder_minutes_before"`
	ReminderSent          bool       `json:"reminder_sent"`
	ReminderSnoozedUntil  *time.Time `json:"reminder_snoozed_until"`
	RolloverEnabled       bool       `json:"rollover_enabled"`
	RolledFromID          *uint      `json:"rolled_from_id"`
	RecurrenceID          *uint      `json:"recurrence_id"`
	TodoItemID            *uint      `json:"todo_item_id"`
	ItemNote              string     `json:"item_note"`
}

func viewEvent(ev *models.CalendarEvent) eventView {
	return eventView{
		ID:                    ev.ID,
		Title:                 ev.Title,
		Description:           ev.Description,
		Day:                   ev.Day,
		StartTime:             ev.StartTime,
		EndTime:               ev.EndTime,
		Status:                ev.Status,
		Priority:              ev.Priority,
		IsPhase:               ev.IsPhase,
		IsEvent:               ev.IsEvent,
		IsGroup:               ev.IsGroup,
		AllowOverlap:          ev.AllowOverlap,
		PhaseID:               ev.PhaseID,
		GroupID:               ev.GroupID,
		SortOrder:             ev.SortOrder,
		ReminderMinutesBefore: ev.ReminderMinutesBefore,
		ReminderSent:          ev.ReminderSent,
		ReminderSnoozedUntil:  ev.ReminderSnoozedUntil,
		RolloverEnabled:       ev.RolloverEnabled,
		RolledFromID:          ev.RolledFromID,
		RecurrenceID:          ev.RecurrenceID,
		TodoItemID:            ev.TodoItemID,
		ItemNote:              ev.ItemNote,
	}
}

func viewEvents(events []models.CalendarEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for i := range events {
		out = append(out, viewEvent(&events[i]))
	}
	return out
}

type ruleView struct {
	ID                    uint    `json:"id"`
	Title                 string  `json:"title"`
	Description           string  `json:"description,omitempty"`
	StartDay              string  `json:"start_day"`
	EndDay                *string `json:"end_day"`
	StartTime             *string `json:"start_time"`
	EndTime               *string `json:"end_time"`
	Status                string  `json:"status"`
	Priority              string  `json:"priority"`
	IsEvent               bool    `json:"is_event"`
	AllowOverlap          bool    `json:"allow_overlap"`
	ReminderMinutesBefore *int    `json:"reminder_minutes_before"`
	RolloverEnabled       bool    `json:"rollover_enabled"`
	ItemNote              string  `json:"item_note"`
	Frequency             string  `json:"frequency"`
	Interval              int     `json:"interval"`
	IntervalUnit          string  `json:"interval_unit"`
	DaysOfWeek            []int   `json:"days_of_week"`
	DayOfMonth            *int    `json:"day_of_month"`
	MonthOfYear           *int    `json:"month_of_year"`
	WeekOfMonth           *int    `json:"week_of_month"`
	WeekdayOfMonth        *int    `json:"weekday_of_month"`
}

func viewRule(r *models.RecurringEventRule) ruleView {
	days := r.Weekdays()
	if days == nil {
		days = []int{}
	}
	return ruleView{
		ID:                    r.ID,
		Title:                 r.Title,
		Description:           r.Description,
		StartDay:              r.StartDay,
		EndDay:                r.EndDay,
		StartTime:             r.StartTime,
		EndTime:               r.EndTime,
		Status:                r.Status,
		Priority:              r.Priority,
		IsEvent:               r.IsEvent,
		AllowOverlap:          r.AllowOverlap,
		ReminderMinutesBefore: r.ReminderMinutesBefore,
		RolloverEnabled:       r.RolloverEnabled,
		ItemNote:              r.ItemNote,
		Frequency:             r.Frequency,
		Interval:              r.Interval,
		IntervalUnit:          r.IntervalUnit,
		DaysOfWeek:            days,
		DayOfMonth:            r.DayOfMonth,
		MonthOfYear:           r.MonthOfYear,
		WeekOfMonth:           r.WeekOfMonth,
		WeekdayOfMonth:        r.WeekdayOfMonth,
	}
}

type eventRequest struct {
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	Day                   string  `json:"day"`
	StartTime             *string `json:"start_time"`
	EndTime               *string `json:"end_time"`
	Status                string  `json:"status"`
	Priority              string  `json:"priority"`
	IsPhase               bool    `json:"is_phase"`
	IsEvent               bool    `json:"is_event"`
	IsGroup               bool    `json:"is_group"`
	AllowOverlap          bool    `json:"allow_overlap"`
	PhaseID               *uint   `json:"phase_id"`
	GroupID               *uint   `json:"group_id"`
	ReminderMinutesBefore *int    `json:"reminder_minutes_before"`
	RolloverEnabled       bool    `json:"rollover_enabled"`
	TodoItemID            *uint   `json:"todo_item_id"`
	ItemNote              string  `json:"item_note"`
}

func (r eventRequest) opts(force bool) calendar.EventOpts {
	return calendar.EventOpts{
		Title:                 r.Title,
		Description:           r.Description,
		Day:                   r.Day,
		StartTime:             r.StartTime,
		EndTime:               r.EndTime,
		Status:                r.Status,
		Priority:              r.Priority,
		IsPhase:               r.IsPhase,
		IsEvent:               r.IsEvent,
		IsGroup:               r.IsGroup,
		AllowOverlap:          r.AllowOverlap,
		PhaseID:               r.PhaseID,
		GroupID:               r.GroupID,
		ReminderMinutesBefore: r.ReminderMinutesBefore,
		RolloverEnabled:       r.RolloverEnabled,
		TodoItemID:            r.TodoItemID,
		ItemNote:              r.ItemNote,
		Force:                 force,
	}
}

type ruleRequest struct {
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	StartDay              string  `json:"start_day"`
	EndDay                *string `json:"end_day"`
	StartTime             *string `json:"start_time"`
	EndTime               *string `json:"end_time"`
	Status                string  `json:"status"`
	Priority              string  `json:"priority"`
	IsEvent               bool    `json:"is_event"`
	AllowOverlap          bool    `json:"allow_overlap"`
	ReminderMinutesBefore *int    `json:"reminder_minutes_before"`
	RolloverEnabled       bool    `json:"rollover_enabled"`
	ItemNote              string  `json:"item_note"`
	Frequency             string  `json:"frequency"`
	Interval              int     `json:"interval"`
	IntervalUnit          string  `json:"interval_unit"`
	DaysOfWeek            []int   `json:"days_of_week"`
	DayOfMonth            *int    `json:"day_of_month"`
	MonthOfYear           *int    `json:"month_of_year"`
	WeekOfMonth           *int    `json:"week_of_month"`
	WeekdayOfMonth        *int    `json:"weekday_of_month"`
}

func (r ruleRequest) opts() calendar.RuleOpts {
	return calendar.RuleOpts{
		Title:                 r.Title,
		Description:           r.Description,
		StartDay:              r.StartDay,
		EndDay:                r.EndDay,
		StartTime:             r.StartTime,
		EndTime:               r.EndTime,
		Status:                r.Status,
		Priority:              r.Priority,
		IsEvent:               r.IsEvent,
		AllowOverlap:          r.AllowOverlap,
		ReminderMinutesBefore: r.ReminderMinutesBefore,
		RolloverEnabled:       r.RolloverEnabled,
		ItemNote:              r.ItemNote,
		Frequency:             r.Frequency,
		Interval:              r.Interval,
		IntervalUnit:          r.IntervalUnit,
		DaysOfWeek:            r.DaysOfWeek,
		DayOfMonth:            r.DayOfMonth,
		MonthOfYear:           r.MonthOfYear,
		WeekOfMonth:           r.WeekOfMonth,
		WeekdayOfMonth:        r.WeekdayOfMonth,
	}
}

type moveRequest struct {
	Day       string  `json:"day"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Force     bool    `json:"force"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

type actionRequest struct {
	Action  string `json:"action"`
	Minutes *int   `json:"minutes"`
}

type reminderRequest struct {
	Minutes *int `json:"minutes"`
}

type failureView struct {
	UserID uint   `json:"user_id"`
	Error  string `json:"error"`
}

func viewRollover(r *rollover.Result) gin.H {
	failed := make([]failureView, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, failureView{UserID: f.UserID, Error: f.Err.Error()})
	}
	return gin.H{
		"day":     r.Day,
		"ran":     r.Ran,
		"users":   r.Users,
		"cloned":  r.Cloned,
		"removed": r.Removed,
		"failed":  failed,
	}
}

func viewDigest(r *digest.Result) gin.H {
	failed := make([]failureView, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, failureView{UserID: f.UserID, Error: f.Err.Error()})
	}
	return gin.H{
		"day":     r.Day,
		"ran":     r.Ran,
		"sent":    r.Sent,
		"skipped": r.Skipped,
		"failed":  failed,
	}
}

// respondError maps domain errors onto status codes. Anything unrecognized
// is logged and reported as a 500 without detail.
func respondError(c *gin.Context, err error) {
	var conflict *calendar.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":    err.Error(),
			"conflict": gin.H{"id": conflict.EventID, "title": conflict.Title},
		})
	case errors.Is(err, calendar.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
