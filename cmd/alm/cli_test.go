package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testConfig writes a config for a fresh SQLite file and migrates it.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "almanac.yaml")
	data := fmt.Sprintf("timezone: UTC\nworker_id: test\ndatabase:\n  driver: sqlite\n  path: %s\n",
		filepath.Join(dir, "almanac.db"))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if out, err := run(t, "db", "migrate", "-c", path); err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, want string, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	if !strings.Contains(out, want) {
		t.Fatalf("%s: output missing %q:\n%s", strings.Join(args, " "), want, out)
	}
	return out
}

func TestDBMigrate_MissingConfig(t *testing.T) {
	if _, err := run(t, "db", "migrate", "-c", "/nonexistent/almanac.yaml"); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestCLI_Workflow(t *testing.T) {
	cfg := testConfig(t)

	mustRun(t, "Added user 1: ada", "user", "add", "ada", "--digest", "-c", cfg)
	mustRun(t, "Added user 2: grace", "user", "add", "grace", "--timezone", "Europe/Berlin", "-c", cfg)
	if _, err := run(t, "user", "add", "ada", "-c", cfg); err == nil {
		t.Error("expected duplicate user to fail")
	}
	if _, err := run(t, "user", "add", "linus", "--timezone", "Mars/Olympus", "-c", cfg); err == nil {
		t.Error("expected bad timezone to fail")
	}
	out := mustRun(t, "Europe/Berlin", "user", "list", "-c", cfg)
	if !strings.Contains(out, "ada") {
		t.Errorf("user list missing ada:\n%s", out)
	}

	mustRun(t, "Created rule 1: Gym", "rule", "create", "-u", "ada", "--title", "Gym",
		"--start", "2024-01-01", "--start-time", "07:00", "--days", "0,2", "-c", cfg)
	mustRun(t, "every 3 days", "rule", "create", "-u", "ada", "--title", "Water plants",
		"--start", "2024-01-01", "--frequency", "custom", "--interval", "3", "--unit", "days", "-c", cfg)
	if _, err := run(t, "rule", "create", "-u", "ada", "--title", "Bad", "--start", "2024-01-01", "--frequency", "hourly", "-c", cfg); err == nil {
		t.Error("expected unsupported frequency to fail")
	}
	mustRun(t, "Water plants", "rule", "list", "-u", "ada", "-c", cfg)
	mustRun(t, "No rules found.", "rule", "list", "-u", "grace", "-c", cfg)

	out = mustRun(t, "Gym", "events", "-u", "ada", "--start", "2024-01-01", "--end", "2024-01-07", "-c", cfg)
	for _, day := range []string{"2024-01-01", "2024-01-03", "2024-01-04", "2024-01-07"} {
		if !strings.Contains(out, day) {
			t.Errorf("events missing %s:\n%s", day, out)
		}
	}
	if strings.Contains(out, "2024-01-02") {
		t.Errorf("events include an unclaimed day:\n%s", out)
	}

	out = mustRun(t, "BEGIN:VCALENDAR", "export", "-u", "ada", "-c", cfg)
	if !strings.Contains(out, "RRULE:") {
		t.Errorf("export missing RRULE:\n%s", out)
	}
	file := filepath.Join(t.TempDir(), "ada.ics")
	mustRun(t, "Wrote "+file, "export", "-u", "ada", "-o", file, "-c", cfg)
	if data, err := os.ReadFile(file); err != nil || !bytes.Contains(data, []byte("SUMMARY:Gym")) {
		t.Errorf("exported file: %v\n%s", err, data)
	}

	mustRun(t, "Deleted rule 1", "rule", "delete", "1", "-u", "ada", "-c", cfg)
	if _, err := run(t, "rule", "delete", "1", "-u", "ada", "-c", cfg); err == nil {
		t.Error("expected second delete to fail")
	}

	mustRun(t, "Rolled 2 users", "rollover", "-c", cfg)
	mustRun(t, "Digest for 2024-01-03", "digest", "--day", "2024-01-03", "-c", cfg)
	if _, err := run(t, "digest", "--day", "January", "-c", cfg); err == nil {
		t.Error("expected malformed day to fail")
	}
}

func TestCLI_RequiresUser(t *testing.T) {
	cfg := testConfig(t)
	tests := [][]string{
		{"events", "-c", cfg},
		{"rule", "list", "-c", cfg},
		{"events", "-u", "nobody", "-c", cfg},
		{"export", "-u", "nobody", "-c", cfg},
	}
	for _, args := range tests {
		if _, err := run(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestCLI_Remind(t *testing.T) {
	cfg := testConfig(t)
	mustRun(t, "Added user 1", "user", "add", "ada", "-c", cfg)
	mustRun(t, "Added user 2", "user", "add", "grace", "-c", cfg)
	mustRun(t, "Created rule 1", "rule", "create", "-u", "ada", "--title", "Standup",
		"--start", "2030-01-01", "--start-time", "09:00", "--frequency", "daily", "--remind", "15", "-c", cfg)
	mustRun(t, "Standup", "events", "-u", "ada", "--start", "2030-01-01", "-c", cfg)

	mustRun(t, "Snoozed item 1 until", "remind", "snooze", "1", "-u", "ada", "-m", "30", "-c", cfg)
	if _, err := run(t, "remind", "snooze", "1", "-u", "ada", "-m", "100000", "-c", cfg); err == nil {
		t.Error("expected oversized snooze to fail")
	}
	if _, err := run(t, "remind", "dismiss", "1", "-u", "grace", "-c", cfg); err == nil {
		t.Error("expected dismiss of another user's item to fail")
	}
	mustRun(t, "Dismissed reminder for item 1", "remind", "dismiss", "1", "-u", "ada", "-c", cfg)
	if _, err := run(t, "remind", "dismiss", "x", "-u", "ada", "-c", cfg); err == nil {
		t.Error("expected malformed id to fail")
	}
}
