// Package notify delivers reminders and digests to users. Transport
// mechanics live behind Dispatcher; the core only decides what to send.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/models"
)

// Action is a button offered with a notification. ID is routed back to the
// API as "<verb>:<event id>".
type Action struct {
	ID    string
	Label string
}

// Notification is one message for one user.
type Notification struct {
	Title   string
	Body    string
	Link    string
	Actions []Action
}

// Dispatcher sends notifications to a user.
type Dispatcher interface {
	Send(ctx context.Context, user *models.User, n Notification) error
}

// Reminder action verbs.
const (
	ActionSnooze  = "snooze"
	ActionDismiss = "dismiss"
)

// SnoozeMinutes is how long the snooze button postpones a reminder.
const SnoozeMinutes = 10

// ReminderActions returns the snooze and dismiss buttons for an event.
func ReminderActions(eventID uint) []Action {
	return []Action{
		{ID: fmt.Sprintf("%s:%d", ActionSnooze, eventID), Label: fmt.Sprintf("Snooze %dm", SnoozeMinutes)},
		{ID: fmt.Sprintf("%s:%d", ActionDismiss, eventID), Label: "Dismiss"},
	}
}

// ErrMalformedAction is returned by ParseAction for ids it cannot split.
var ErrMalformedAction = errors.New("notify: malformed action")

// ParseAction splits an action id into its verb and event id.
func ParseAction(id string) (verb string, eventID uint, err error) {
	verb, rest, ok := strings.Cut(id, ":")
	if !ok || verb == "" {
		return "", 0, fmt.Errorf("%w %q", ErrMalformedAction, id)
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("%w %q", ErrMalformedAction, id)
	}
	return verb, uint(n), nil
}

// Writer prints notifications as plain text lines. It backs the "log"
// notifier and tests.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Send implements Dispatcher.
func (w *Writer) Send(_ context.Context, user *models.User, n Notification) error {
	line := fmt.Sprintf("notify: [%s] %s", user.Name, n.Title)
	if n.Body != "" {
		line += ": " + strings.ReplaceAll(n.Body, "\n", " | ")
	}
	if n.Link != "" {
		line += " <" + n.Link + ">"
	}
	if _, err := fmt.Fprintln(w.out, line); err != nil {
		return fmt.Errorf("notify: write: %w", err)
	}
	return nil
}

// Multi fans a notification out to every dispatcher. All are attempted;
// failures are joined.
type Multi []Dispatcher

// Send implements Dispatcher.
func (m Multi) Send(ctx context.Context, user *models.User, n Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Send(ctx, user, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
type Discard struct{}

// Send implements Dispatcher.
func (Discard) Send(context.Context, *models.User, Notification) error { return nil }

// New builds the dispatcher described by cfg. With no backend configured,
// notifications are written to out.
func New(cfg config.NotifyConfig, out io.Writer) (Dispatcher, error) {
	var multi Multi
	if cfg.Log {
		multi = append(multi, NewWriter(out))
	}
	if cfg.Slack.BotToken != "" {
		s, err := NewSlack(SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, s)
	}
	if cfg.Discord.BotToken != "" {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, d)
	}
	switch len(multi) {
	case 0:
		return NewWriter(out), nil
	case 1:
		return multi[0], nil
	}
	return multi, nil
}
