package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jnjlab/warok/internal/ui"
)

// windowLine matches the xwininfo tree entry for the compositor window,
// capturing the X11 window id.
var windowLine = regexp.MustCompile(`(0x[0-9a-fA-F]+)`)

// Weston controls the desktop compositor hosting the emulated Android
// display. It talks X11 tooling (pgrep, xwininfo, xdotool, import) because
// the compositor runs with the x11 backend on a nested display.
type Weston struct {
	display string
	logger  *slog.Logger
}

func NewWeston(display string, logger *slog.Logger) *Weston {
	if display == "" {
		display = ":10.0"
	}
	return &Weston{display: display, logger: logger}
}

func (w *Weston) env() []string {
	return append(os.Environ(), "DISPLAY="+w.display)
}

func (w *Weston) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = w.env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsRunning probes for a live weston process.
func (w *Weston) IsRunning(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "pgrep", "-x", "weston")
	return cmd.Run() == nil
}

// Launch starts the compositor and moves its window to the configured
// default geometry. Blocks until the process is up or ctx expires.
func (w *Weston) Launch(ctx context.Context, geom ui.Geometry) error {
	if w.IsRunning(ctx) {
		w.logger.Debug("weston already running")
		return nil
	}

	w.logger.Info("starting weston compositor", slog.String("display", w.display))

	cmd := exec.Command("weston", "--backend=x11-backend.so")
	cmd.Env = w.env()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting weston: %w", err)
	}
	// The compositor outlives us, never wait on it; just reap when it dies.
	go func() { _ = cmd.Wait() }()

	for !w.IsRunning(ctx) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("weston did not come up: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}

	// Give the compositor a moment to map its window before moving it.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}

	if err := w.moveWindow(ctx, geom.X, geom.Y); err != nil {
		// A compositor at the wrong position is degraded, not dead; the
		// configured regions just will not line up until an operator fixes
		// the window placement.
		w.logger.Warn("could not move weston window", slog.Any("error", err))
	}

	w.logger.Info("weston started")
	return nil
}

func (w *Weston) moveWindow(ctx context.Context, x, y int) error {
	id, err := w.findWindow(ctx)
	if err != nil {
		return err
	}
	if _, err := w.run(ctx, "xdotool", "windowmove", id, fmt.Sprint(x), fmt.Sprint(y)); err != nil {
		return fmt.Errorf("moving window %s: %w", id, err)
	}
	w.logger.Info("weston window positioned",
		slog.String("window", id), slog.Int("x", x), slog.Int("y", y))
	return nil
}

func (w *Weston) findWindow(ctx context.Context) (string, error) {
	out, err := w.run(ctx, "xwininfo", "-root", "-tree")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Weston Compositor") {
			continue
		}
		if m := windowLine.FindString(line); m != "" {
			return m, nil
		}
	}
	return "", fmt.Errorf("no compositor window in the tree of %s", w.display)
}

// Stop terminates the compositor, escalating to SIGKILL when it lingers.
func (w *Weston) Stop(ctx context.Context) error {
	if !w.IsRunning(ctx) {
		return nil
	}

	_ = exec.CommandContext(ctx, "pkill", "-x", "weston").Run()
	for i := 0; i < 10; i++ {
		if !w.IsRunning(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	w.logger.Warn("weston did not stop gracefully, killing")
	_ = exec.CommandContext(ctx, "pkill", "-9", "-x", "weston").Run()
	if w.IsRunning(ctx) {
		return fmt.Errorf("weston survived SIGKILL")
	}
	return nil
}

// Screenshot captures the nested display's root window via ImageMagick.
// The whole desktop is captured, so region coordinates in the UI definition
// file are desktop coordinates.
func (w *Weston) Screenshot(ctx context.Context) (image.Image, error) {
	cmd := exec.CommandContext(ctx, "import", "-window", "root", "png:-")
	cmd.Env = w.env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("import: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding display capture: %w", err)
	}
	return img, nil
}

// Click injects an X11-level click at desktop coordinates. The lock screen
// belongs to the compositor shell, it never sees Android input events, so
// unlocking has to happen at this layer.
func (w *Weston) Click(ctx context.Context, x, y int) error {
	_, err := w.run(ctx, "xdotool", "mousemove", "--sync", fmt.Sprint(x), fmt.Sprint(y), "click", "1")
	if err != nil {
		return fmt.Errorf("x11 click (%d, %d): %w", x, y, err)
	}
	return nil
}
