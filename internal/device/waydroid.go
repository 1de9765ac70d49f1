package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Waydroid drives the Android container session. The session is a user
// service, `waydroid session start` blocks for its whole lifetime, so the
// launch runs detached and readiness is polled through `waydroid status`.
type Waydroid struct {
	display string
	logger  *slog.Logger
}

func NewWaydroid(display string, logger *slog.Logger) *Waydroid {
	return &Waydroid{display: display, logger: logger}
}

// IsRunning reports whether the container session has reached RUNNING.
func (wd *Waydroid) IsRunning(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "waydroid", "status")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return false
	}
	for _, line := range strings.Split(stdout.String(), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Session:") {
			return strings.Contains(line, "RUNNING")
		}
	}
	return false
}

// Launch starts the container session and blocks until it reports RUNNING
// or ctx expires. The compositor must already be up, the session attaches
// to its wayland socket.
func (wd *Waydroid) Launch(ctx context.Context) error {
	if wd.IsRunning(ctx) {
		wd.logger.Debug("waydroid session already running")
		return nil
	}

	wd.logger.Info("starting waydroid session")

	cmd := exec.Command("waydroid", "session", "start")
	cmd.Env = append(cmd.Environ(), "WAYLAND_DISPLAY=wayland-1")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting waydroid session: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	for !wd.IsRunning(ctx) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waydroid session did not reach RUNNING: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}

	wd.logger.Info("waydroid session running")
	return nil
}

// Stop ends the container session.
func (wd *Waydroid) Stop(ctx context.Context) error {
	if !wd.IsRunning(ctx) {
		return nil
	}

	wd.logger.Info("stopping waydroid session")
	cmd := exec.CommandContext(ctx, "waydroid", "session", "stop")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("waydroid session stop: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	for wd.IsRunning(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}
