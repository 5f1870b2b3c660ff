package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/recurrence"
	"gorm.io/gorm"
)

const userKey = "almanac.user"

type handlers struct {
	opts Opts
}

// registerRoutes sets up every API route on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", h.requireUser)

	api.GET("/events", h.listEvents)
	api.POST("/events", h.createEvent)
	api.GET("/events/:id", h.getEvent)
	api.PATCH("/events/:id/status", h.setStatus)
	api.POST("/events/:id/move", h.moveEvent)
	api.PUT("/events/:id/reminder", h.setReminder)
	api.DELETE("/events/:id", h.deleteEvent)

	api.GET("/rules", h.listRules)
	api.POST("/rules", h.createRule)
	api.PUT("/rules/:id", h.updateRule)
	api.DELETE("/rules/:id", h.deleteRule)

	api.POST("/reminders/action", h.reminderAction)
	api.POST("/reminders/:id/snooze", h.snooze)
	api.POST("/reminders/:id/dismiss", h.dismiss)

	api.POST("/jobs/rollover", h.runRollover)
	api.POST("/jobs/digest", h.runDigest)

	api.GET("/calendar.ics", h.exportCalendar)
}

// requireUser resolves the acting user from UserHeader.
func (h *handlers) requireUser(c *gin.Context) {
	raw := c.GetHeader(UserHeader)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed " + UserHeader})
		return
	}
	if h.opts.Users != nil {
		if _, err := h.opts.Users.Get(c.Request.Context(), uint(id)); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			respondError(c, err)
			c.Abort()
			return
		}
	}
	c.Set(userKey, uint(id))
	c.Next()
}

func userID(c *gin.Context) uint {
	return c.GetUint(userKey)
}

// pathID parses the :id parameter, responding 400 when it is malformed.
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, fmt.Errorf("%w: id %q", recurrence.ErrInvalid, c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, fmt.Errorf("%w: body: %v", recurrence.ErrInvalid, err))
		return false
	}
	return true
}

func (h *handlers) listEvents(c *gin.Context) {
	start := c.Query("start")
	if start == "" {
		start = recurrence.FormatDay(h.opts.Calendar.Today())
	}
	end := c.DefaultQuery("end", start)
	events, err := h.opts.Calendar.Events(c.Request.Context(), userID(c), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvents(events))
}

func (h *handlers) createEvent(c *gin.Context) {
	var req eventRequest
	if !bind(c, &req) {
		return
	}
	force := c.Query("force") == "true"
	ev, err := h.opts.Calendar.CreateEvent(c.Request.Context(), userID(c), req.opts(force))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewEvent(ev))
}

func (h *handlers) getEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ev, err := h.opts.Calendar.Event(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

func (h *handlers) setStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bind(c, &req) {
		return
	}
	ev, err := h.opts.Calendar.SetStatus(c.Request.Context(), userID(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

func (h *handlers) moveEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req moveRequest
	if !bind(c, &req) {
		return
	}
	ev, err := h.opts.Calendar.MoveEvent(c.Request.Context(), userID(c), id, calendar.MoveOpts{Day: req.Day, StartTime: req.StartTime, EndTime: req.EndTime, Force: req.Force})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

func (h *handlers) setReminder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reminderRequest
	if !bind(c, &req) {
		return
	}
	ev, err := h.opts.Calendar.SetReminder(c.Request.Context(), userID(c), id, req.Minutes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

func (h *handlers) deleteEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.opts.Calendar.DeleteEvent(c.Request.Context(), userID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listRules(c *gin.Context) {
	rules, err := h.opts.Calendar.Rules(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]ruleView, 0, len(rules))
	for i := range rules {
		out = append(out, viewRule(&rules[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) createRule(c *gin.Context) {
	var req ruleRequest
	if !bind(c, &req) {
		return
	}
	rule, err := h.opts.Calendar.CreateRule(c.Request.Context(), userID(c), req.opts())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewRule(rule))
}

func (h *handlers) updateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ruleRequest
	if !bind(c, &req) {
		return
	}
	rule, err := h.opts.Calendar.UpdateRule(c.Request.Context(), userID(c), id, req.opts())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRule(rule))
}

func (h *handlers) deleteRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.opts.Calendar.DeleteRule(c.Request.Context(), userID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) snooze(c *gin.Context) {
	id, ok := h.ownedEvent(c)
	if !ok {
		return
	}
	var req snoozeRequest
	if !bind(c, &req) {
		return
	}
	ev, err := h.opts.Reminders.Snooze(c.Request.Context(), id, req.Minutes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

func (h *handlers) dismiss(c *gin.Context) {
	id, ok := h.ownedEvent(c)
	if !ok {
		return
	}
	ev, err := h.opts.Reminders.Dismiss(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

// reminderAction handles a pressed notification button. The action id is
// the one sent with the reminder, "<verb>:<event id>".
func (h *handlers) reminderAction(c *gin.Context) {
	var req actionRequest
	if !bind(c, &req) {
		return
	}
	verb, id, err := notify.ParseAction(req.Action)
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", recurrence.ErrInvalid, err))
		return
	}
	if !h.owns(c, id) {
		return
	}

	ctx := c.Request.Context()
	var ev *models.CalendarEvent
	switch verb {
	case notify.ActionSnooze:
		minutes := notify.SnoozeMinutes
		if req.Minutes != nil {
			minutes = *req.Minutes
		}
		ev, err = h.opts.Reminders.Snooze(ctx, id, minutes)
	case notify.ActionDismiss:
		ev, err = h.opts.Reminders.Dismiss(ctx, id)
	default:
		err = fmt.Errorf("%w: unknown action %q", recurrence.ErrInvalid, verb)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEvent(ev))
}

// ownedEvent checks that :id names one of the acting user's items.
func (h *handlers) ownedEvent(c *gin.Context) (uint, bool) {
	id, ok := pathID(c)
	if !ok || !h.owns(c, id) {
		return 0, false
	}
	return id, true
}

func (h *handlers) owns(c *gin.Context, id uint) bool {
	if _, err := h.opts.Calendar.Event(c.Request.Context(), userID(c), id); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

func (h *handlers) runRollover(c *gin.Context) {
	res, err := h.opts.Rollover.Run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRollover(res))
}

func (h *handlers) runDigest(c *gin.Context) {
	res, err := h.opts.Digest.Run(c.Request.Context(), c.Query("day"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewDigest(res))
}

func (h *handlers) exportCalendar(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.opts.Exporter.Export(c.Request.Context(), userID(c), &buf); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="almanac.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}
