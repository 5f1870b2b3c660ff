package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/users"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management",
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		configPath string
		u          models.User
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u.Name = args[0]
			return runUserAdd(cmd, configPath, &u)
		},
	}

	addConfigFlag(cmd, &configPath)
	f := cmd.Flags()
	f.StringVar(&u.Timezone, "timezone", "", "IANA timezone")
	f.BoolVar(&u.PushEnabled, "push", true, "allow notifications")
	f.BoolVar(&u.RemindersEnabled, "reminders", true, "send event reminders")
	f.BoolVar(&u.DigestEnabled, "digest", false, "send the daily agenda digest")
	f.StringVar(&u.SlackChannelID, "slack-channel", "", "Slack channel for this user's notifications")
	f.StringVar(&u.DiscordChannelID, "discord-channel", "", "Discord channel for this user's notifications")
	return cmd
}

func runUserAdd(cmd *cobra.Command, configPath string, u *models.User) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if u.Timezone != "" {
		if _, err := (&config.Config{Timezone: u.Timezone}).Location(); err != nil {
			return err
		}
	}

	if err := users.NewStore(gormDB).Create(context.Background(), u); err != nil {
		return err
	}
	fmt.Fprintf(out, "Added user %d: %s\n", u.ID, u.Name)
	return nil
}

func newUserListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users and their notification preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runUserList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	list, err := users.NewStore(gormDB).List(context.Background())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No users found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIMEZONE\tREMINDERS\tDIGEST")
	for i := range list {
		u := &list[i]
		tz := u.Timezone
		if tz == "" {
			tz = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			u.ID, u.Name, tz, onOff(users.WantsReminders(u)), onOff(users.WantsDigest(u)))
	}
	w.Flush()
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
