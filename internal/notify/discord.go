package notify

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/almanac/internal/models"
)

// discordSession abstracts the discordgo methods we use.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications as embeds with button components. It only
// uses the REST API; no gateway connection is opened.
type Discord struct {
	sess        discordSession
	channelID   string
	baseBackoff time.Duration
}

// DiscordOpts holds parameters for creating a Discord dispatcher.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord dispatcher.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = s
	}
	return &Discord{sess: sess, channelID: opts.ChannelID, baseBackoff: 2 * time.Second}, nil
}

// Send implements Dispatcher.
func (d *Discord) Send(ctx context.Context, user *models.User, n Notification) error {
	channelID := user.DiscordChannelID
	if channelID == "" {
		channelID = d.channelID
	}
	if channelID == "" {
		return fmt.Errorf("notify: discord: no channel for user %s", user.Name)
	}

	data := discordMessage(n)
	err := d.retry(ctx, func() error {
		_, sendErr := d.sess.ChannelMessageSendComplex(channelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("notify: discord: send message: %w", err)
	}
	return nil
}

func discordMessage(n Notification) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		URL:         n.Link,
	}
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}

	if len(n.Actions) > 0 {
		var buttons []discordgo.MessageComponent
		for i, a := range n.Actions {
			style := discordgo.SecondaryButton
			if i == 0 {
				style = discordgo.PrimaryButton
			}
			buttons = append(buttons, discordgo.Button{
				Label:    a.Label,
				Style:    style,
				CustomID: a.ID,
			})
		}
		data.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		}
	}
	return data
}

// retry calls fn and retries with exponential backoff on HTTP 429.
func (d *Discord) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * d.baseBackoff
		log.Printf("notify: discord rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
