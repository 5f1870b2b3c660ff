package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/calendar"
	"github.com/zulandar/almanac/internal/recurrence"
)

func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Recurring rule management",
	}

	cmd.AddCommand(newRuleCreateCmd())
	cmd.AddCommand(newRuleListCmd())
	cmd.AddCommand(newRuleDeleteCmd())
	return cmd
}

func newRuleCreateCmd() *cobra.Command {
	var (
		configPath string
		user       string
		startTime  string
		endTime    string
		endDay     string
		dom        int
		month      int
		week       int
		weekday    int
		remind     int
		opts       calendar.RuleOpts
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring rule",
		Long: `Creates a recurring rule. Weekdays are numbered Monday = 0 through Sunday = 6.
Frequencies: daily, weekly, biweekly, monthly, monthly_weekday, yearly, custom
(custom needs --unit).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			opts.StartTime = optString(startTime)
			opts.EndTime = optString(endTime)
			opts.EndDay = optString(endDay)
			opts.DayOfMonth = optInt(f.Changed("day-of-month"), dom)
			opts.MonthOfYear = optInt(f.Changed("month"), month)
			opts.WeekOfMonth = optInt(f.Changed("week-of-month"), week)
			opts.WeekdayOfMonth = optInt(f.Changed("weekday-of-month"), weekday)
			opts.ReminderMinutesBefore = optInt(f.Changed("remind"), remind)
			return runRuleCreate(cmd, configPath, user, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	f := cmd.Flags()
	f.StringVarP(&user, "user", "u", "", "owning user name (required)")
	f.StringVar(&opts.Title, "title", "", "title (required)")
	f.StringVar(&opts.Description, "description", "", "description")
	f.StringVar(&opts.StartDay, "start", "", "first day (YYYY-MM-DD, required)")
	f.StringVar(&endDay, "end", "", "last day (YYYY-MM-DD)")
	f.StringVar(&startTime, "start-time", "", "start time (HH:MM)")
	f.StringVar(&endTime, "end-time", "", "end time (HH:MM)")
	f.StringVarP(&opts.Frequency, "frequency", "f", recurrence.FreqWeekly, "repeat frequency")
	f.IntVar(&opts.Interval, "interval", 1, "repeat every N units")
	f.StringVar(&opts.IntervalUnit, "unit", "", "interval unit for custom frequency: days, weeks, months, years")
	f.IntSliceVar(&opts.DaysOfWeek, "days", nil, "weekdays for weekly rules (comma separated, Monday = 0)")
	f.IntVar(&dom, "day-of-month", 0, "day of month for monthly and yearly rules")
	f.IntVar(&month, "month", 0, "month for yearly rules (1-12)")
	f.IntVar(&week, "week-of-month", 0, "ordinal week for monthly_weekday rules (1-5, 5 = last)")
	f.IntVar(&weekday, "weekday-of-month", 0, "weekday for monthly_weekday rules (Monday = 0)")
	f.StringVar(&opts.Priority, "priority", "", "priority: low, medium, high")
	f.BoolVar(&opts.IsEvent, "event", false, "instances are events rather than tasks")
	f.BoolVar(&opts.AllowOverlap, "allow-overlap", false, "instances may overlap other timed items")
	f.BoolVar(&opts.RolloverEnabled, "rollover", false, "carry unfinished instances into the next day")
	f.IntVar(&remind, "remind", 0, "reminder lead time in minutes")
	return cmd
}

func runRuleCreate(cmd *cobra.Command, configPath, userName string, opts calendar.RuleOpts) error {
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

	rule, err := a.calendar.CreateRule(ctx, u.ID, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Created rule %d: %s\n", rule.ID, rule.Title)
	fmt.Fprintf(out, "Repeats: %s\n", describeRule(rule.Frequency, rule.Interval, rule.IntervalUnit))
	return nil
}

func newRuleListCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's recurring rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleList(cmd, configPath, user)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user name (required)")
	return cmd
}

func runRuleList(cmd *cobra.Command, configPath, userName string) error {
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

	rules, err := a.calendar.Rules(ctx, u.ID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(out, "No rules found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tREPEATS\tFROM\tUNTIL\tTIME")
	for _, r := range rules {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, truncate(r.Title, 40), describeRule(r.Frequency, r.Interval, r.IntervalUnit),
			r.StartDay, orDash(r.EndDay), clockRange(r.StartTime, r.EndTime))
	}
	w.Flush()
	return nil
}

func newRuleDeleteCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recurring rule",
		Long:  "Deletes a rule and its open future instances. Past and completed instances are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleDelete(cmd, configPath, user, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user name (required)")
	return cmd
}

func runRuleDelete(cmd *cobra.Command, configPath, userName, rawID string) error {
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

	if err := a.calendar.DeleteRule(ctx, u.ID, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted rule %d\n", id)
	return nil
}

func describeRule(frequency string, interval int, unit string) string {
	if frequency != recurrence.FreqCustom {
		return frequency
	}
	return fmt.Sprintf("every %d %s", interval, unit)
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}
