package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRemindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Reminder actions",
		Long: `Snoozes or dismisses the reminder of a calendar item. A running server
arms the resulting timer when it next restores reminders.`,
	}

	cmd.AddCommand(newRemindSnoozeCmd())
	cmd.AddCommand(newRemindDismissCmd())
	return cmd
}

func newRemindSnoozeCmd() *cobra.Command {
	var (
		configPath string
		user       string
		minutes    int
	)

	cmd := &cobra.Command{
		Use:   "snooze <event-id>",
		Short: "Postpone a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemind(cmd, configPath, user, args[0], minutes)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user name (required)")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 10, "minutes to snooze")
	return cmd
}

func newRemindDismissCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "dismiss <event-id>",
		Short: "Acknowledge a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemind(cmd, configPath, user, args[0], 0)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user name (required)")
	return cmd
}

// runRemind snoozes the reminder for minutes, or dismisses it when minutes
// is zero.
func runRemind(cmd *cobra.Command, configPath, userName, rawID string, minutes int) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	a, err := newApp(configPath, out, offlineRegistry{})
	if err != nil {
		return err
	}
	u, err := a.user(ctx, userName)
	if err != nil {
		return err
	}
	if _, err := a.calendar.Event(ctx, u.ID, id); err != nil {
		return err
	}

	if minutes == 0 {
		if _, err := a.reminders.Dismiss(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Dismissed reminder for item %d\n", id)
		return nil
	}
	ev, err := a.reminders.Snooze(ctx, id, minutes)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Snoozed item %d until %s\n", id, ev.ReminderSnoozedUntil.In(a.loc).Format("2006-01-02 15:04"))
	return nil
}
