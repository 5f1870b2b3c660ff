package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/digest"
	"github.com/zulandar/almanac/internal/rollover"
)

func newRolloverCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Roll unfinished items into today",
		Long: `Runs the daily rollover once for every user: unfinished items from yesterday
are carried into today. Skips when another worker holds the rollover lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollover(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runRollover(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	a, err := newApp(configPath, out, offlineRegistry{})
	if err != nil {
		return err
	}

	res, err := a.rollover.Run(context.Background())
	if err != nil {
		return err
	}
	if !res.Ran {
		fmt.Fprintf(out, "Rollover for %s skipped: %s is held by another worker\n", res.Day, rollover.JobName)
		return nil
	}
	fmt.Fprintf(out, "Rolled %d users into %s: %d cloned, %d removed\n", res.Users, res.Day, res.Cloned, res.Removed)
	printFailures(out, len(res.Failed), func(i int) (uint, error) { return res.Failed[i].UserID, res.Failed[i].Err })
	return nil
}

func newDigestCmd() *cobra.Command {
	var (
		configPath string
		day        string
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the daily agenda digest",
		Long:  "Builds and sends the agenda digest for a day (default today) to every user who opted in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(cmd, configPath, day)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&day, "day", "", "day to send (YYYY-MM-DD, default today)")
	return cmd
}

func runDigest(cmd *cobra.Command, configPath, day string) error {
	out := cmd.OutOrStdout()
	a, err := newApp(configPath, out, offlineRegistry{})
	if err != nil {
		return err
	}

	res, err := a.digest.Run(context.Background(), day)
	if err != nil {
		return err
	}
	if !res.Ran {
		fmt.Fprintf(out, "Digest for %s skipped: %s is held by another worker\n", res.Day, digest.JobName)
		return nil
	}
	fmt.Fprintf(out, "Digest for %s: %d sent, %d skipped\n", res.Day, res.Sent, res.Skipped)
	printFailures(out, len(res.Failed), func(i int) (uint, error) { return res.Failed[i].UserID, res.Failed[i].Err })
	return nil
}

func printFailures(out io.Writer, n int, at func(i int) (uint, error)) {
	for i := 0; i < n; i++ {
		id, err := at(i)
		fmt.Fprintf(out, "  user %d failed: %v\n", id, err)
	}
}
