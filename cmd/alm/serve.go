package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/api"
	"github.com/zulandar/almanac/internal/digest"
	"github.com/zulandar/almanac/internal/reminder"
	"github.com/zulandar/almanac/internal/rollover"
	"github.com/zulandar/almanac/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, reminder timers and background jobs",
		Long: `Starts the JSON API, restores pending reminder timers, and runs the daily
rollover and digest jobs on their configured triggers. Several servers may
share one database; the advisory job lock keeps each daily job to one run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides api.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	registry := reminder.NewTimerRegistry()
	defer registry.Stop()

	a, err := newApp(configPath, out, registry)
	if err != nil {
		return err
	}
	if port <= 0 {
		port = a.cfg.API.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	restored, err := a.reminders.Restore(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Restored %d reminder timers, refreshing every %s\n", restored, a.cfg.ReminderRefresh())
	go a.reminders.RestoreEvery(ctx, a.cfg.ReminderRefresh())

	sched, err := scheduler.New(scheduler.Opts{
		Jobs: []scheduler.Job{
			{
				Name:    rollover.JobName,
				Cron:    a.cfg.Schedule.RolloverCron,
				CatchUp: a.cfg.CatchUpEnabled(),
				Run: func(ctx context.Context) error {
					res, err := a.rollover.RollAll(ctx)
					if err == nil {
						log.Printf("rollover: %s: %d users, %d cloned, %d removed, %d failed",
							res.Day, res.Users, res.Cloned, res.Removed, len(res.Failed))
					}
					return err
				},
			},
			{
				Name: digest.JobName,
				Cron: a.cfg.Schedule.DigestCron,
				Run: func(ctx context.Context) error {
					res, err := a.digest.SendAll(ctx, "")
					if err == nil {
						log.Printf("digest: %s: %d sent, %d skipped, %d failed",
							res.Day, res.Sent, res.Skipped, len(res.Failed))
					}
					return err
				},
			},
		},
		Locker:    a.locker,
		Location:  a.loc,
		WorkerID:  a.workerID,
		Staleness: a.cfg.LockStaleness(),
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewRouter(api.Opts{
		Calendar:  a.calendar,
		Reminders: a.reminders,
		Rollover:  a.rollover,
		Digest:    a.digest,
		Exporter:  a.exporter,
		Users:     a.users,
	})
	if err != nil {
		return err
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()
	fmt.Fprintf(out, "Worker %s scheduling %s (%s) and %s (%s) in %s\n",
		a.workerID, rollover.JobName, a.cfg.Schedule.RolloverCron,
		digest.JobName, a.cfg.Schedule.DigestCron, a.loc)

	err = api.Start(ctx, api.StartOpts{Handler: router, Port: port, Out: out})
	cancel()
	<-schedDone
	return err
}
