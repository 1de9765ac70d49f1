package device

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/jnjlab/warok/internal/recovery"
	"github.com/jnjlab/warok/internal/ui"
)

// GeometryFunc yields the current emulator window geometry in desktop
// coordinates. Backed by the UI definition store so hot reloads apply.
type GeometryFunc func() (ui.Geometry, error)

// Controller aggregates the three device layers behind the action
// executor's transport contract. Taps land on both layers: an X11 click
// for compositor-shell surfaces and an adb tap for the Android side, with
// coordinates translated from desktop space to window space.
type Controller struct {
	weston   *Weston
	waydroid *Waydroid
	adb      *ADB

	appPackage  string
	appActivity string
	geometry    GeometryFunc
	logger      *slog.Logger

	launchTimeout time.Duration
}

var _ recovery.Transport = (*Controller)(nil)

func NewController(weston *Weston, waydroid *Waydroid, adb *ADB, appPackage, appActivity string, geometry GeometryFunc, logger *slog.Logger) *Controller {
	return &Controller{
		weston:        weston,
		waydroid:      waydroid,
		adb:           adb,
		appPackage:    appPackage,
		appActivity:   appActivity,
		geometry:      geometry,
		logger:        logger,
		launchTimeout: 60 * time.Second,
	}
}

func (c *Controller) LaunchCompositor(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.launchTimeout)
	defer cancel()

	geom, err := c.geometry()
	if err != nil {
		return fmt.Errorf("reading window geometry: %w", err)
	}
	return c.weston.Launch(ctx, geom)
}

func (c *Controller) LaunchEmulator(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.launchTimeout)
	defer cancel()

	if err := c.waydroid.Launch(ctx); err != nil {
		return err
	}
	return c.adb.Connect(ctx)
}

func (c *Controller) LaunchApp(ctx context.Context) error {
	return c.adb.StartApp(ctx, c.appPackage, c.appActivity)
}

// Tap clicks at desktop coordinates on the X11 layer, then replays the
// same point window-relative over adb. The compositor lock screen only
// reacts to the former, a running app only to the latter, and firing both
// means the caller never needs to know which surface is on top.
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	if err := c.weston.Click(ctx, x, y); err != nil {
		return err
	}

	geom, err := c.geometry()
	if err != nil {
		return fmt.Errorf("reading window geometry: %w", err)
	}
	relX, relY := x-geom.X, y-geom.Y
	if relX < 0 || relY < 0 || relX >= geom.Width || relY >= geom.Height {
		// Outside the emulator window, the X11 click was the whole tap.
		return nil
	}
	return c.adb.Tap(ctx, relX, relY)
}

func (c *Controller) Back(ctx context.Context) error {
	return c.adb.Back(ctx)
}

// Screenshot captures the nested desktop. Satisfies the frame sampler's
// capturer contract.
func (c *Controller) Screenshot(ctx context.Context) (image.Image, error) {
	return c.weston.Screenshot(ctx)
}

// Status probes all three layers. Probe failures degrade to "not running"
// rather than erroring, a dead layer and an unreachable one plan the same
// recovery.
func (c *Controller) Status(ctx context.Context) recovery.Status {
	st := recovery.Status{
		CompositorRunning: c.weston.IsRunning(ctx),
	}
	if st.CompositorRunning {
		st.EmulatorRunning = c.waydroid.IsRunning(ctx)
	}
	if st.EmulatorRunning && !c.adb.IsConnected(ctx) {
		// The session is up but the adb link dropped, typically after a
		// container restart. Relaunching the emulator is idempotent and
		// re-establishes the connection.
		st.EmulatorRunning = false
	}
	if st.EmulatorRunning {
		st.AppRunning = c.adb.IsAppRunning(ctx, c.appPackage)
		if st.AppRunning && backgrounded(c.adb.CurrentActivity(ctx), c.appPackage) {
			// A live process behind another window still needs a launch
			// intent to come back to the foreground.
			st.AppRunning = false
		}
	}
	return st
}

// backgrounded reports whether the focused window belongs to something other
// than the supervised package. An empty focus is indeterminate and does not
// count against the app.
func backgrounded(focus, pkg string) bool {
	if focus == "" || pkg == "" {
		return false
	}
	return !strings.Contains(focus, pkg)
}

// StopApp force-stops the game process.
func (c *Controller) StopApp(ctx context.Context) error {
	return c.adb.StopApp(ctx, c.appPackage)
}

// StopEmulator tears down the container session and drops the adb link.
func (c *Controller) StopEmulator(ctx context.Context) error {
	c.adb.Disconnect(ctx)
	return c.waydroid.Stop(ctx)
}
