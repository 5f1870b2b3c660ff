package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/recurrence"
)

func newEventsCmd() *cobra.Command {
	var (
		configPath string
		user       string
		start      string
		end        string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List calendar items for a day range",
		Long:  "Materializes recurring instances for the range and lists every item in order. The range defaults to today.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, configPath, user, start, end)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user name (required)")
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD, default start)")
	return cmd
}

func runEvents(cmd *cobra.Command, configPath, userName, start, end string) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()
	a, err := newApp(configPath, out, offlineRegistry{})
	if err != nil {
		return err
	}
	u, err := a.user(ctx, userName)
	if err != nil {
		return err
	}
	if start == "" {
		start = recurrence.FormatDay(a.calendar.Today())
	}
	if end == "" {
		end = start
	}

	events, err := a.calendar.Events(ctx, u.ID, start, end)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No items found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDAY\tTIME\tKIND\tSTATUS\tTITLE")
	for i := range events {
		ev := &events[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.Day, clockRange(ev.StartTime, ev.EndTime), kind(ev), ev.Status, truncate(ev.Title, 40))
	}
	w.Flush()
	return nil
}

func kind(ev *models.CalendarEvent) string {
	switch {
	case ev.IsPhase:
		return "phase"
	case ev.IsGroup:
		return "group"
	case ev.IsEvent:
		return "event"
	case ev.RecurrenceID != nil:
		return "recurring"
	}
	return "task"
}
