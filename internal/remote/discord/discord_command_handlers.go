package discord

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jnjlab/warok/internal/bot"
	"github.com/jnjlab/warok/internal/config"
)

func commandTarget(content string) string {
	parts := strings.Fields(content)
	if len(parts) > 1 {
		return parts[1]
	}

	targets := config.GetTargets()
	if len(targets) == 1 {
		for name := range targets {
			return name
		}
	}
	return ""
}

func (b *Bot) handleStartRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	target := commandTarget(m.Content)
	if target == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: `!start <target>`")
		return
	}

	go func() {
		if err := b.manager.Start(context.Background(), target); err != nil {
			s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Failed to start %s: %s", target, err.Error()))
		}
	}()
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Starting supervisor for **%s**", target))
}

func (b *Bot) handleRestartRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	target := commandTarget(m.Content)
	if target == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: `!restart <target>`")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := b.manager.Restart(ctx, target); err != nil {
			s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Restart of %s failed: %s", target, err.Error()))
			return
		}
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("**%s** restarted and back in game", target))
	}()
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Restarting **%s**", target))
}

func (b *Bot) handleStopRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	target := commandTarget(m.Content)
	if target == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: `!stop <target>`")
		return
	}

	b.manager.Stop(target)
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Stopped supervisor for **%s**", target))
}

func (b *Bot) handleStatusRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	target := commandTarget(m.Content)
	if target == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: `!status <target>`")
		return
	}

	stats := b.manager.Status(target)
	msg := fmt.Sprintf("**%s**\nStatus: %s\nScreen: %s\nRecoveries: %d",
		target, stats.SupervisorStatus, stats.ScreenState, stats.RecoveryCount)
	if stats.SupervisorStatus != bot.NotStarted && !stats.StartedAt.IsZero() {
		msg += fmt.Sprintf("\nUptime: %s", time.Since(stats.StartedAt).Round(time.Second))
	}
	if stats.LastError != "" {
		msg += fmt.Sprintf("\nLast error: %s", stats.LastError)
	}
	s.ChannelMessageSend(m.ChannelID, msg)
}

func (b *Bot) handleScreenshotRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	target := commandTarget(m.Content)
	if target == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: `!screenshot <target>`")
		return
	}
	if b.capture == nil {
		s.ChannelMessageSend(m.ChannelID, "Screenshots are not available")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	data, err := b.capture(ctx, target)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Screenshot of %s failed: %s", target, err.Error()))
		return
	}

	s.ChannelFileSend(m.ChannelID, fmt.Sprintf("%s.png", target), bytes.NewReader(data))
}

func (b *Bot) handleListRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	names := b.manager.AvailableSupervisors()
	if len(names) == 0 {
		s.ChannelMessageSend(m.ChannelID, "No targets configured")
		return
	}

	var sb strings.Builder
	sb.WriteString("Configured targets:\n")
	for _, name := range names {
		stats := b.manager.Status(name)
		sb.WriteString(fmt.Sprintf("- **%s** (%s)\n", name, stats.SupervisorStatus))
	}
	s.ChannelMessageSend(m.ChannelID, sb.String())
}

func (b *Bot) handleHelpRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	s.ChannelMessageSend(m.ChannelID, "Available commands:\n"+
		"`!start <target>` start supervising a target\n"+
		"`!restart <target>` force-restart the emulator and game\n"+
		"`!stop <target>` stop supervising\n"+
		"`!status <target>` current state and recovery stats\n"+
		"`!screenshot <target>` capture the display\n"+
		"`!list` all configured targets")
}
