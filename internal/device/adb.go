package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

const keycodeBack = 4

// ADB drives the emulated Android instance through the adb CLI. All calls
// are bounded by the caller's context; a stuck adb server surfaces as a
// context error, never as a hang.
type ADB struct {
	exe     string
	address string
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
}

func NewADB(exe, address string, logger *slog.Logger) *ADB {
	if exe == "" {
		exe = "adb"
	}
	return &ADB{exe: exe, address: address, logger: logger}
}

func (a *ADB) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, a.exe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (a *ADB) device(args ...string) []string {
	return append([]string{"-s", a.address}, args...)
}

// Connect establishes the TCP connection to the emulated device, retrying
// with backoff: right after a waydroid session start the adb daemon inside
// the container needs a few seconds to come up.
func (a *ADB) Connect(ctx context.Context) error {
	bo := &backoff.Backoff{Min: time.Second, Max: 8 * time.Second, Factor: 2, Jitter: true}

	for {
		out, err := a.run(ctx, "connect", a.address)
		if err == nil && strings.Contains(strings.ToLower(out), "connected") {
			a.mu.Lock()
			a.connected = true
			a.mu.Unlock()
			a.logger.Info("adb connected", slog.String("device", a.address))
			return nil
		}

		d := bo.Duration()
		a.logger.Debug("adb connect attempt failed",
			slog.String("device", a.address),
			slog.Duration("retryIn", d),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("device did not accept the connection: %s", strings.TrimSpace(out))
			}
			return fmt.Errorf("connecting to %s: %w (last: %v)", a.address, ctx.Err(), err)
		case <-time.After(d):
		}
	}
}

func (a *ADB) Disconnect(ctx context.Context) {
	_, _ = a.run(ctx, "disconnect", a.address)
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

// IsConnected probes the device state rather than trusting the cached flag:
// the connection silently drops when the emulator restarts.
func (a *ADB) IsConnected(ctx context.Context) bool {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return false
	}

	out, err := a.run(ctx, a.device("get-state")...)
	return err == nil && strings.TrimSpace(out) == "device"
}

func (a *ADB) shell(ctx context.Context, parts ...string) (string, error) {
	return a.run(ctx, a.device(append([]string{"shell"}, parts...)...)...)
}

// Tap injects a touch event at device coordinates.
func (a *ADB) Tap(ctx context.Context, x, y int) error {
	_, err := a.shell(ctx, "input", "tap", fmt.Sprint(x), fmt.Sprint(y))
	if err != nil {
		return fmt.Errorf("tap (%d, %d): %w", x, y, err)
	}
	return nil
}

// Keyevent injects a key press by Android keycode.
func (a *ADB) Keyevent(ctx context.Context, code int) error {
	_, err := a.shell(ctx, "input", "keyevent", fmt.Sprint(code))
	if err != nil {
		return fmt.Errorf("keyevent %d: %w", code, err)
	}
	return nil
}

// Back presses the Android back button.
func (a *ADB) Back(ctx context.Context) error {
	return a.Keyevent(ctx, keycodeBack)
}

// Screenshot captures the device framebuffer as a decoded image. Uses
// exec-out so the PNG bytes arrive unmangled over the wire.
func (a *ADB) Screenshot(ctx context.Context) (image.Image, error) {
	cmd := exec.CommandContext(ctx, a.exe, a.device("exec-out", "screencap", "-p")...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("screencap: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding screencap output: %w", err)
	}
	return img, nil
}

// IsAppRunning reports whether the package has a live process.
func (a *ADB) IsAppRunning(ctx context.Context, pkg string) bool {
	out, err := a.shell(ctx, "pidof", pkg)
	return err == nil && strings.TrimSpace(out) != ""
}

// CurrentActivity returns the focused window token, empty when it cannot be
// determined. Used to tell "running in background" from "on screen".
func (a *ADB) CurrentActivity(ctx context.Context) string {
	out, err := a.shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return ""
	}
	return parseFocusedWindow(out)
}

// parseFocusedWindow extracts the focused window token from dumpsys window
// output, e.g. "mCurrentFocus=Window{af2f8d1 u0 com.foo/.Main}" yields
// "com.foo/.Main".
func parseFocusedWindow(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "mCurrentFocus") || strings.Contains(line, "mFocusedApp") {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) > 0 {
				return strings.TrimSuffix(fields[len(fields)-1], "}")
			}
		}
	}
	return ""
}

// StartApp launches an activity, or fires a launcher intent for the bare
// package when no activity is configured.
func (a *ADB) StartApp(ctx context.Context, pkg, activity string) error {
	var err error
	if activity != "" {
		_, err = a.shell(ctx, "am", "start", "-n", pkg+"/"+activity)
	} else {
		_, err = a.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	}
	if err != nil {
		return fmt.Errorf("starting %s: %w", pkg, err)
	}
	a.logger.Info("app launch command sent", slog.String("package", pkg))
	return nil
}

// StopApp force-stops the package.
func (a *ADB) StopApp(ctx context.Context, pkg string) error {
	if _, err := a.shell(ctx, "am", "force-stop", pkg); err != nil {
		return fmt.Errorf("stopping %s: %w", pkg, err)
	}
	return nil
}
