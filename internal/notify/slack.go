package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/almanac/internal/models"
)

// maxRetries bounds retries of rate-limited chat API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts notifications as Block Kit messages with action buttons.
type Slack struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a Slack dispatcher.
type SlackOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // used when the user has no channel of their own
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack dispatcher.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

// Send implements Dispatcher.
func (s *Slack) Send(ctx context.Context, user *models.User, n Notification) error {
	channelID := user.SlackChannelID
	if channelID == "" {
		channelID = s.channelID
	}
	if channelID == "" {
		return fmt.Errorf("notify: slack: no channel for user %s", user.Name)
	}

	options := slackMessageOptions(n)
	err := retrySlack(ctx, func() error {
		_, _, postErr := s.client.PostMessage(channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("notify: slack: post message: %w", err)
	}
	return nil
}

// slackMessageOptions renders the title and body as a section block and
// the actions as buttons. The plain text doubles as the push fallback.
func slackMessageOptions(n Notification) []slackapi.MsgOption {
	text := "*" + n.Title + "*"
	if n.Body != "" {
		text += "\n" + n.Body
	}
	if n.Link != "" {
		text += "\n<" + n.Link + "|Open>"
	}

	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil),
	}
	if len(n.Actions) > 0 {
		var buttons []slackapi.BlockElement
		for _, a := range n.Actions {
			buttons = append(buttons, slackapi.NewButtonBlockElement(a.ID, a.ID,
				slackapi.NewTextBlockObject(slackapi.PlainTextType, a.Label, false, false)))
		}
		blocks = append(blocks, slackapi.NewActionBlock("almanac_actions", buttons...))
	}

	return []slackapi.MsgOption{
		slackapi.MsgOptionText(n.Title, false),
		slackapi.MsgOptionBlocks(blocks...),
	}
}

// retrySlack calls fn and retries with backoff on Slack rate limit errors.
func retrySlack(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
