package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/db"
	"github.com/zulandar/almanac/internal/digest"
	"github.com/zulandar/almanac/internal/ics"
	"github.com/zulandar/almanac/internal/lock"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/reminder"
	"github.com/zulandar/almanac/internal/rollover"
	"github.com/zulandar/almanac/internal/todo"
	"github.com/zulandar/almanac/internal/users"
	"gorm.io/gorm"
)

const defaultConfig = "almanac.yaml"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfig, "path to Almanac config file")
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// app is the wired set of services one command works with.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	loc       *time.Location
	workerID  string
	locker    lock.Locker
	users     *users.Store
	reminders *reminder.Scheduler
	calendar  *calendar.Service
	rollover  *rollover.Engine
	digest    *digest.Builder
	exporter  *ics.Exporter
}

// newApp wires every service over the configured store. Reminder timers
// are registered with registry; one-shot commands pass an offlineRegistry
// and leave timers to the servers' periodic restore.
func newApp(configPath string, out io.Writer, registry reminder.Registry) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	dispatcher, err := notify.New(cfg.Notify, out)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       gormDB,
		loc:      loc,
		workerID: cfg.WorkerID,
		locker:   lock.New(gormDB),
		users:    users.NewStore(gormDB),
		exporter: ics.NewExporter(gormDB, loc),
	}
	if a.workerID == "" {
		a.workerID = lock.WorkerID()
	}

	a.reminders, err = reminder.New(reminder.Opts{
		DB:         gormDB,
		Registry:   registry,
		Users:      a.users,
		Dispatcher: dispatcher,
		Location:   loc,
		BaseURL:    cfg.API.BaseURL,
		MaxSnooze:  time.Duration(cfg.Reminders.MaxSnoozeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	a.calendar, err = calendar.New(calendar.Opts{
		DB:        gormDB,
		Reminders: a.reminders,
		Location:  loc,
	})
	if err != nil {
		return nil, err
	}
	a.rollover, err = rollover.New(rollover.Opts{
		DB:        gormDB,
		Locker:    a.locker,
		Users:     a.users,
		Reminders: a.reminders,
		Tasks:     todo.NewLinker(),
		Location:  loc,
		WorkerID:  a.workerID,
		Staleness: cfg.LockStaleness(),
	})
	if err != nil {
		return nil, err
	}
	a.digest, err = digest.New(digest.Opts{
		DB:         gormDB,
		Events:     a.calendar,
		Users:      a.users,
		Dispatcher: dispatcher,
		Locker:     a.locker,
		Location:   loc,
		BaseURL:    cfg.API.BaseURL,
		WorkerID:   a.workerID,
		Staleness:  cfg.LockStaleness(),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// user resolves a --user flag value by name.
func (a *app) user(ctx context.Context, name string) (*models.User, error) {
	if name == "" {
		return nil, errors.New("--user is required")
	}
	u, err := a.users.ByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %q not found", name)
		}
		return nil, err
	}
	return u, nil
}

// offlineRegistry accepts registrations without arming timers. Running
// servers arm them on their next reminder refresh.
type offlineRegistry struct{}

func (offlineRegistry) Register(string, time.Time, func()) error { return nil }
func (offlineRegistry) Cancel(string) error                      { return reminder.ErrJobNotFound }
