// Package config provides YAML-based configuration loading for Almanac.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Almanac configuration, loaded from almanac.yaml.
type Config struct {
	Timezone  string          `yaml:"timezone"`
	WorkerID  string          `yaml:"worker_id"`
	Database  DatabaseConfig  `yaml:"database"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	API       APIConfig       `yaml:"api"`
	Notify    NotifyConfig    `yaml:"notify"`
	Reminders RemindersConfig `yaml:"reminders"`
}

// DatabaseConfig selects and addresses the shared relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ScheduleConfig holds the fixed local-time triggers for background jobs.
type ScheduleConfig struct {
	RolloverCron     string `yaml:"rollover_cron"`
	DigestCron       string `yaml:"digest_cron"`
	LockStalenessSec int    `yaml:"lock_staleness_sec"`
	CatchUp          *bool  `yaml:"catch_up"`
}

// APIConfig configures the JSON HTTP surface.
type APIConfig struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

// NotifyConfig lists the delivery backends for reminders and digests.
type NotifyConfig struct {
	Log     bool          `yaml:"log"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// RemindersConfig bounds reminder actions and sets how often a server
// re-arms timers from the store.
type RemindersConfig struct {
	MaxSnoozeMinutes int `yaml:"max_snooze_minutes"`
	RefreshMinutes   int `yaml:"refresh_minutes"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the configured server timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LockStaleness returns the advisory lock takeover window.
func (c *Config) LockStaleness() time.Duration {
	return time.Duration(c.Schedule.LockStalenessSec) * time.Second
}

// ReminderRefresh returns how often a server re-arms reminder timers.
func (c *Config) ReminderRefresh() time.Duration {
	return time.Duration(c.Reminders.RefreshMinutes) * time.Minute
}

// CatchUpEnabled reports whether jobs run once at process start.
func (c *Config) CatchUpEnabled() bool {
	return c.Schedule.CatchUp == nil || *c.Schedule.CatchUp
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "almanac.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "almanac"
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Schedule.RolloverCron == "" {
		c.Schedule.RolloverCron = "5 0 * * *"
	}
	if c.Schedule.DigestCron == "" {
		c.Schedule.DigestCron = "0 7 * * *"
	}
	if c.Schedule.LockStalenessSec == 0 {
		c.Schedule.LockStalenessSec = 300
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Reminders.MaxSnoozeMinutes == 0 {
		c.Reminders.MaxSnoozeMinutes = 24 * 60
	}
	if c.Reminders.RefreshMinutes == 0 {
		c.Reminders.RefreshMinutes = 5
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is not a valid IANA zone", c.Timezone))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if _, err := cronParser.Parse(c.Schedule.RolloverCron); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.rollover_cron: %v", err))
	}
	if _, err := cronParser.Parse(c.Schedule.DigestCron); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.digest_cron: %v", err))
	}
	if c.Schedule.LockStalenessSec < 0 {
		errs = append(errs, "schedule.lock_staleness_sec must be positive")
	}
	if c.Reminders.MaxSnoozeMinutes < 0 {
		errs = append(errs, "reminders.max_snooze_minutes must be positive")
	}
	if c.Reminders.RefreshMinutes < 0 {
		errs = append(errs, "reminders.refresh_minutes must be positive")
	}
	if c.Notify.Slack.BotToken != "" && c.Notify.Slack.ChannelID == "" {
		errs = append(errs, "notify.slack.channel_id is required with a bot token")
	}
	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required with a bot token")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
