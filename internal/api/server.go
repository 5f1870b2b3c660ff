// Package api exposes the calendar over JSON HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/digest"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/rollover"
)

// UserHeader carries the id of the acting user.
const UserHeader = "X-User-ID"

// ReminderActions are the user-initiated reminder transitions.
type ReminderActions interface {
	Snooze(ctx context.Context, eventID uint, minutes int) (*models.CalendarEvent, error)
	Dismiss(ctx context.Context, eventID uint) (*models.CalendarEvent, error)
}

// RolloverRunner triggers a locked rollover of every user.
type RolloverRunner interface {
	Run(ctx context.Context) (*rollover.Result, error)
}

// DigestRunner triggers a locked digest run for a day.
type DigestRunner interface {
	Run(ctx context.Context, day string) (*digest.Result, error)
}

// Exporter writes a user's calendar as iCalendar.
type Exporter interface {
	Export(ctx context.Context, userID uint, w io.Writer) error
}

// UserLookup resolves the acting user.
type UserLookup interface {
	Get(ctx context.Context, id uint) (*models.User, error)
}

// Opts holds the collaborators behind the routes.
type Opts struct {
	Calendar  *calendar.Service
	Reminders ReminderActions
	Rollover  RolloverRunner
	Digest    DigestRunner
	Exporter  Exporter
	Users     UserLookup // optional; unknown users are rejected when set
}

// NewRouter builds the gin engine serving the API.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Calendar == nil {
		return nil, fmt.Errorf("api: calendar is required")
	}
	if opts.Reminders == nil {
		return nil, fmt.Errorf("api: reminders is required")
	}
	if opts.Rollover == nil {
		return nil, fmt.Errorf("api: rollover is required")
	}
	if opts.Digest == nil {
		return nil, fmt.Errorf("api: digest is required")
	}
	if opts.Exporter == nil {
		return nil, fmt.Errorf("api: exporter is required")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &handlers{opts: opts})
	return router, nil
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Handler http.Handler
	Port    int
	Out     io.Writer
}

// Start serves the API. It blocks until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Handler == nil {
		return fmt.Errorf("api: handler is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(opts.Port),
		Handler: opts.Handler,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
