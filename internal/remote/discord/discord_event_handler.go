package discord

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jnjlab/warok/internal/config"
	"github.com/jnjlab/warok/internal/event"
)

// Handle is registered on the event listener and relays recovery events to
// the configured channel. Routine events are filtered by config, alerts
// always go out.
func (b *Bot) Handle(ctx context.Context, e event.Event) error {
	cfg := config.Warok.Discord

	switch evt := e.(type) {
	case event.RecoveryStartedEvent:
		if !cfg.EnableRecoveryMessages {
			return nil
		}
		kind := "Recovery"
		if evt.Restart {
			kind = "Restart"
		}
		return b.send(ctx, fmt.Sprintf(":arrows_counterclockwise: [%s] %s started", e.Target(), kind), nil)

	case event.RecoveryFinishedEvent:
		if evt.Err != "" {
			if !cfg.EnableErrorMessages {
				return nil
			}
			return b.send(ctx, fmt.Sprintf(":warning: [%s] Recovery failed after %d cycles: %s", e.Target(), evt.Cycles, evt.Err), nil)
		}
		if !cfg.EnableRecoveryMessages {
			return nil
		}
		return b.send(ctx, fmt.Sprintf(":white_check_mark: [%s] Game loaded after %d cycles", e.Target(), evt.Cycles), nil)

	case event.RecoveryExhaustedEvent:
		var screenshot []byte
		if b.capture != nil && !cfg.DisableStateScreenshots {
			captureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			screenshot, _ = b.capture(captureCtx, e.Target())
			cancel()
		}
		return b.send(ctx, fmt.Sprintf(":rotating_light: [%s] Recovery exhausted, last screen state: %s", e.Target(), evt.LastState), screenshot)

	case event.TunnelEstablishedEvent:
		return b.send(ctx, ":link: Remote access: "+evt.URL, nil)
	}

	return nil
}

func (b *Bot) send(ctx context.Context, content string, screenshot []byte) error {
	fileName := ""
	if len(screenshot) > 0 {
		fileName = fmt.Sprintf("screen-%d.png", time.Now().Unix())
	}

	if b.useWebhook {
		return b.webhookClient.Send(ctx, content, fileName, screenshot)
	}

	if len(screenshot) > 0 {
		_, err := b.discordSession.ChannelMessageSendComplex(b.channelID, &discordgo.MessageSend{
			Content: content,
			Files: []*discordgo.File{{
				Name:        fileName,
				ContentType: "image/png",
				Reader:      bytes.NewReader(screenshot),
			}},
		})
		return err
	}
	_, err := b.discordSession.ChannelMessageSend(b.channelID, content)
	return err
}
