package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		configPath string
		user       string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's calendar as iCalendar",
		Long:  "Writes recurring rules as RRULE series and one-off items as single events. Output goes to stdout unless --output is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, configPath, user, output)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user name (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, configPath, userName, output string) error {
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

	if output == "" {
		return a.exporter.Export(ctx, u.ID, out)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	if err := a.exporter.Export(ctx, u.ID, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", output, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", output)
	return nil
}
