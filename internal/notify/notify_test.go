package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/models"
)

// --- Mock clients ---

type mockSlack struct {
	channels []string
	options  [][]slackapi.MsgOption
	errs     []error
}

func (m *mockSlack) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.channels = append(m.channels, channelID)
	m.options = append(m.options, options)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	return channelID, "1700000000.000100", nil
}

type mockDiscord struct {
	channels []string
	sent     []*discordgo.MessageSend
	errs     []error
}

func (m *mockDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.channels = append(m.channels, channelID)
	m.sent = append(m.sent, data)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &discordgo.Message{ID: "m1"}, nil
}

type failing struct{ err error }

func (f failing) Send(context.Context, *models.User, Notification) error { return f.err }

var alice = &models.User{ID: 1, Name: "alice"}

func TestReminderActions_RoundTrip(t *testing.T) {
	actions := ReminderActions(42)
	if len(actions) != 2 {
		t.Fatalf("len(actions) = %d, want 2", len(actions))
	}
	wantVerbs := []string{"snooze", "dismiss"}
	for i, a := range actions {
		verb, id, err := ParseAction(a.ID)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", a.ID, err)
		}
		if verb != wantVerbs[i] || id != 42 {
			t.Errorf("ParseAction(%q) = %q, %d; want %q, 42", a.ID, verb, id, wantVerbs[i])
		}
	}
}

func TestParseAction_Malformed(t *testing.T) {
	for _, id := range []string{"", "snooze", ":5", "snooze:", "snooze:x", "snooze:0", "snooze:12abc", "dismiss:-3"} {
		if _, _, err := ParseAction(id); !errors.Is(err, ErrMalformedAction) {
			t.Errorf("ParseAction(%q) error = %v, want ErrMalformedAction", id, err)
		}
	}
}

func TestWriter_Send(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.Send(context.Background(), alice, Notification{
		Title: "Standup in 15 minutes",
		Body:  "09:00 Standup\nRoom 4",
		Link:  "http://cal/day/2024-01-02",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"[alice]", "Standup in 15 minutes", "09:00 Standup | Room 4", "<http://cal/day/2024-01-02>"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestMulti_AttemptsAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	errA := errors.New("a down")
	m := Multi{failing{errA}, NewWriter(&buf)}

	err := m.Send(context.Background(), alice, Notification{Title: "x"})
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want to wrap %v", err, errA)
	}
	if buf.Len() == 0 {
		t.Error("second dispatcher was not attempted")
	}
}

func TestNewSlack_RequiresToken(t *testing.T) {
	if _, err := NewSlack(SlackOpts{}); err == nil {
		t.Fatal("expected error without bot token")
	}
}

func TestSlack_Send_UserChannelOverridesDefault(t *testing.T) {
	mock := &mockSlack{}
	s, err := NewSlack(SlackOpts{ChannelID: "C-default", Client: mock})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}

	s.Send(context.Background(), alice, Notification{Title: "a"})
	s.Send(context.Background(), &models.User{Name: "bob", SlackChannelID: "D-bob"}, Notification{Title: "b"})

	if len(mock.channels) != 2 || mock.channels[0] != "C-default" || mock.channels[1] != "D-bob" {
		t.Errorf("channels = %v, want [C-default D-bob]", mock.channels)
	}
}

func TestSlack_Send_NoChannel(t *testing.T) {
	s, _ := NewSlack(SlackOpts{Client: &mockSlack{}})
	if err := s.Send(context.Background(), alice, Notification{Title: "x"}); err == nil {
		t.Fatal("expected error with no channel")
	}
}

func TestSlack_Send_Error(t *testing.T) {
	mock := &mockSlack{errs: []error{errors.New("channel_not_found")}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: mock})
	err := s.Send(context.Background(), alice, Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("err = %v, want channel_not_found", err)
	}
	if len(mock.channels) != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on non rate-limit errors)", len(mock.channels))
	}
}

func TestSlack_Send_RetriesRateLimit(t *testing.T) {
	mock := &mockSlack{errs: []error{&slackapi.RateLimitedError{RetryAfter: 1}}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: mock})
	if err := s.Send(context.Background(), alice, Notification{Title: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.channels) != 2 {
		t.Errorf("attempts = %d, want 2", len(mock.channels))
	}
}

func TestSlackMessageOptions_Buttons(t *testing.T) {
	opts := slackMessageOptions(Notification{Title: "t", Body: "b", Actions: ReminderActions(7)})
	if len(opts) != 2 {
		t.Fatalf("len(options) = %d, want text + blocks", len(opts))
	}
	opts = slackMessageOptions(Notification{Title: "t"})
	if len(opts) != 2 {
		t.Fatalf("len(options) = %d, want text + blocks", len(opts))
	}
}

func TestDiscord_Send_Components(t *testing.T) {
	mock := &mockDiscord{}
	d, err := NewDiscord(DiscordOpts{ChannelID: "chan-1", Session: mock})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}

	err = d.Send(context.Background(), alice, Notification{
		Title:   "Dentist in 30 minutes",
		Body:    "14:00",
		Actions: ReminderActions(9),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(mock.sent))
	}
	msg := mock.sent[0]
	if msg.Embeds[0].Title != "Dentist in 30 minutes" {
		t.Errorf("embed title = %q", msg.Embeds[0].Title)
	}
	if len(msg.Components) != 1 {
		t.Fatalf("components = %d, want 1 action row", len(msg.Components))
	}
	row, ok := msg.Components[0].(discordgo.ActionsRow)
	if !ok {
		t.Fatalf("component = %T, want ActionsRow", msg.Components[0])
	}
	if len(row.Components) != 2 {
		t.Fatalf("buttons = %d, want 2", len(row.Components))
	}
	btn := row.Components[0].(discordgo.Button)
	if btn.CustomID != "snooze:9" {
		t.Errorf("first button CustomID = %q, want snooze:9", btn.CustomID)
	}
}

func TestDiscord_Send_NoActionsNoComponents(t *testing.T) {
	mock := &mockDiscord{}
	d, _ := NewDiscord(DiscordOpts{ChannelID: "chan-1", Session: mock})
	d.Send(context.Background(), alice, Notification{Title: "Agenda"})
	if len(mock.sent[0].Components) != 0 {
		t.Errorf("components = %d, want 0", len(mock.sent[0].Components))
	}
}

func TestDiscord_Send_RetriesRateLimit(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	mock := &mockDiscord{errs: []error{rateLimited}}
	d, _ := NewDiscord(DiscordOpts{ChannelID: "chan-1", Session: mock})
	d.baseBackoff = 0

	if err := d.Send(context.Background(), alice, Notification{Title: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(mock.sent) != 2 {
		t.Errorf("attempts = %d, want 2", len(mock.sent))
	}
}

func TestDiscord_Send_UserChannel(t *testing.T) {
	mock := &mockDiscord{}
	d, _ := NewDiscord(DiscordOpts{Session: mock})
	d.Send(context.Background(), &models.User{Name: "bob", DiscordChannelID: "dm-bob"}, Notification{Title: "x"})
	if mock.channels[0] != "dm-bob" {
		t.Errorf("channel = %q, want dm-bob", mock.channels[0])
	}
}

func TestNew_FromConfig(t *testing.T) {
	var buf bytes.Buffer

	d, err := New(config.NotifyConfig{}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := d.(*Writer); !ok {
		t.Errorf("New(empty) = %T, want *Writer", d)
	}

	d, err = New(config.NotifyConfig{
		Log:     true,
		Slack:   config.SlackConfig{BotToken: "xoxb-test", ChannelID: "C1"},
		Discord: config.DiscordConfig{BotToken: "abc", ChannelID: "1"},
	}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, ok := d.(Multi)
	if !ok || len(m) != 3 {
		t.Errorf("New(all) = %T (%v), want Multi of 3", d, d)
	}
}
