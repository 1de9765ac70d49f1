package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jnjlab/warok/internal/bot"
	"github.com/jnjlab/warok/internal/config"
	"github.com/jnjlab/warok/internal/event"
)

type Bot struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	manager *bot.SupervisorManager
	logger  *slog.Logger
}

func (b *Bot) Start(ctx context.Context) error {
	offset, err := b.getLatestOffset()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(offset)
	u.Timeout = 5
	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			for range updates {
			}
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil && update.Message.Chat != nil && update.Message.Chat.ID == b.chatID {
				b.handleCommand(update.Message.Text)
			}
		}
	}
}

func (b *Bot) handleCommand(text string) {
	parts := strings.Fields(strings.ToLower(text))
	if len(parts) == 0 {
		return
	}

	target := ""
	if len(parts) > 1 {
		target = parts[1]
	}
	if target == "" {
		targets := config.GetTargets()
		if len(targets) == 1 {
			for name := range targets {
				target = name
			}
		}
	}

	switch parts[0] {
	case "status":
		if target == "" {
			b.reply("Usage: status <target>")
			return
		}
		stats := b.manager.Status(target)
		msg := fmt.Sprintf("%s\nStatus: %s\nScreen: %s\nRecoveries: %d",
			target, stats.SupervisorStatus, stats.ScreenState, stats.RecoveryCount)
		if stats.LastError != "" {
			msg += "\nLast error: " + stats.LastError
		}
		b.reply(msg)
	case "restart":
		if target == "" {
			b.reply("Usage: restart <target>")
			return
		}
		b.reply("Restarting " + target)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := b.manager.Restart(ctx, target); err != nil {
				b.reply(fmt.Sprintf("Restart of %s failed: %s", target, err.Error()))
				return
			}
			b.reply(target + " restarted and back in game")
		}()
	case "list":
		names := b.manager.AvailableSupervisors()
		if len(names) == 0 {
			b.reply("No targets configured")
			return
		}
		var sb strings.Builder
		sb.WriteString("Configured targets:\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", name, b.manager.Status(name).SupervisorStatus))
		}
		b.reply(sb.String())
	}
}

// Handle relays recovery events to the configured chat.
func (b *Bot) Handle(ctx context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.RecoveryStartedEvent:
		kind := "Recovery"
		if evt.Restart {
			kind = "Restart"
		}
		b.reply(fmt.Sprintf("[%s] %s started", e.Target(), kind))
	case event.RecoveryFinishedEvent:
		if evt.Err != "" {
			b.reply(fmt.Sprintf("[%s] Recovery failed after %d cycles: %s", e.Target(), evt.Cycles, evt.Err))
		} else {
			b.reply(fmt.Sprintf("[%s] Game loaded after %d cycles", e.Target(), evt.Cycles))
		}
	case event.RecoveryExhaustedEvent:
		b.reply(fmt.Sprintf("[%s] Recovery exhausted, last screen state: %s", e.Target(), evt.LastState))
	case event.TunnelEstablishedEvent:
		b.reply("Remote access: " + evt.URL)
	}
	return nil
}

func (b *Bot) reply(text string) {
	if _, err := b.bot.Send(tgbotapi.NewMessage(b.chatID, text)); err != nil {
		b.logger.Warn("Telegram message failed", slog.Any("error", err))
	}
}

func (b *Bot) getLatestOffset() (int, error) {
	upds, err := b.bot.GetUpdates(tgbotapi.NewUpdate(-1))
	if err != nil {
		return 0, err
	}
	offset := 0
	if len(upds) > 0 {
		offset = upds[0].UpdateID + 1
	}
	return offset, nil
}
