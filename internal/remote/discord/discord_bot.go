package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jnjlab/warok/internal/bot"
	"github.com/jnjlab/warok/internal/config"
)

// CaptureFunc grabs the current display frame of a target as PNG bytes,
// used to attach screenshots to alerts.
type CaptureFunc func(ctx context.Context, target string) ([]byte, error)

type Bot struct {
	discordSession *discordgo.Session
	channelID      string
	manager        *bot.SupervisorManager
	useWebhook     bool
	webhookClient  *webhookClient
	capture        CaptureFunc
}

func NewBot(token, channelID string, manager *bot.SupervisorManager, useWebhook bool, webhookURL string) (*Bot, error) {
	botInstance := &Bot{
		channelID:     channelID,
		manager:       manager,
		useWebhook:    useWebhook,
		webhookClient: nil,
	}

	if useWebhook {
		if webhookURL == "" {
			return nil, fmt.Errorf("webhook URL is required when using webhook mode")
		}
		botInstance.webhookClient = newWebhookClient(webhookURL)
		return botInstance, nil
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	botInstance.discordSession = dg

	return botInstance, nil
}

// SetCapture enables screenshot attachments on alerts and the !screenshot
// command.
func (b *Bot) SetCapture(capture CaptureFunc) {
	b.capture = capture
}

func (b *Bot) Start(ctx context.Context) error {
	if b.useWebhook {
		<-ctx.Done()
		return nil
	}

	b.discordSession.AddHandler(b.onMessageCreated)
	// MESSAGE_CONTENT intent is required by Discord to read message content
	b.discordSession.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	err := b.discordSession.Open()
	if err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	<-ctx.Done()

	return b.discordSession.Close()
}

func (b *Bot) onMessageCreated(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself
	if m.Author.ID == s.State.User.ID {
		return
	}

	if !slices.Contains(config.Warok.Discord.BotAdmins, m.Author.ID) {
		return
	}

	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	prefix := strings.Split(m.Content, " ")[0]
	switch prefix {
	case "!start":
		b.handleStartRequest(s, m)
	case "!restart":
		b.handleRestartRequest(s, m)
	case "!stop":
		b.handleStopRequest(s, m)
	case "!status":
		b.handleStatusRequest(s, m)
	case "!screenshot":
		b.handleScreenshotRequest(s, m)
	case "!list":
		b.handleListRequest(s, m)
	case "!help":
		b.handleHelpRequest(s, m)
	default:
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Unknown command: `%s`. Type `!help` for available commands.", prefix))
	}
}
