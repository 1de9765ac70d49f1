package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jnjlab/warok/internal/recovery"
	"github.com/jnjlab/warok/internal/screen"
	"github.com/jnjlab/warok/internal/ui"
)

// fakeDevice simulates a stack whose screen walks a scripted sequence of
// states. Taps and launches advance the script only through classification,
// the planner never sees the script directly.
type fakeDevice struct {
	mu     sync.Mutex
	states []screen.State
	idx    int

	compositorUp bool
	emulatorUp   bool
	appUp        bool

	taps         int
	backs        int
	appLaunches  int
	emuLaunches  int
	compLaunches int
	appStops     int
	emuStops     int
	transportErr error
}

func (d *fakeDevice) current() screen.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.states) {
		return d.states[len(d.states)-1]
	}
	return d.states[d.idx]
}

func (d *fakeDevice) advance() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx < len(d.states)-1 {
		d.idx++
	}
}

func (d *fakeDevice) classify(ctx context.Context) (screen.State, error) {
	return d.current(), nil
}

func (d *fakeDevice) Status(ctx context.Context) recovery.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return recovery.Status{
		CompositorRunning: d.compositorUp,
		EmulatorRunning:   d.emulatorUp,
		AppRunning:        d.appUp,
	}
}

func (d *fakeDevice) LaunchCompositor(ctx context.Context) error {
	d.mu.Lock()
	d.compLaunches++
	d.compositorUp = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) LaunchEmulator(ctx context.Context) error {
	d.mu.Lock()
	d.emuLaunches++
	d.emulatorUp = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) LaunchApp(ctx context.Context) error {
	d.mu.Lock()
	d.appLaunches++
	d.appUp = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Tap(ctx context.Context, x, y int) error {
	d.mu.Lock()
	err := d.transportErr
	if err == nil {
		d.taps++
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.advance()
	return nil
}

func (d *fakeDevice) Back(ctx context.Context) error {
	d.mu.Lock()
	d.backs++
	d.mu.Unlock()
	d.advance()
	return nil
}

func (d *fakeDevice) StopApp(ctx context.Context) error {
	d.mu.Lock()
	d.appStops++
	d.appUp = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) StopEmulator(ctx context.Context) error {
	d.mu.Lock()
	d.emuStops++
	d.emulatorUp = false
	d.mu.Unlock()
	return nil
}

func testUIConfig() ui.Config {
	return ui.Config{
		Window: ui.Geometry{X: 0, Y: 0, Width: 200, Height: 100},
		Regions: map[string]ui.Region{
			"lock_indicator": {Name: "lock_indicator", X: 10, Y: 10, Width: 4, Height: 4},
		},
	}
}

func newTestSupervisor(t *testing.T, dev *fakeDevice, maxCycles int) *Supervisor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	planner := recovery.NewPlanner(200*time.Millisecond, 50*time.Millisecond)
	executor := recovery.NewExecutor(dev, dev.classify, func() (ui.Config, error) {
		return testUIConfig(), nil
	}, 10*time.Millisecond, logger)

	s := NewSupervisor(SupervisorOptions{
		Name:               "test",
		Logger:             logger,
		Device:             dev,
		Classify:           dev.classify,
		Planner:            &planner,
		Executor:           executor,
		MaxCycles:          maxCycles,
		HealthInterval:     time.Hour,
		MaxTransportErrors: 2,
	})
	s.cyclePause = time.Millisecond
	return s
}

func TestConvergeAlreadyLoaded(t *testing.T) {
	dev := &fakeDevice{states: []screen.State{screen.StateLoaded}, compositorUp: true, emulatorUp: true, appUp: true}
	s := newTestSupervisor(t, dev, 5)

	if err := s.Converge(context.Background(), false); err != nil {
		t.Fatalf("expected clean convergence, got %v", err)
	}
	if dev.taps != 0 || dev.backs != 0 {
		t.Fatalf("loaded screen should need no input, got %d taps %d backs", dev.taps, dev.backs)
	}
	if got := s.Stats().SupervisorStatus; got != Healthy {
		t.Fatalf("expected Healthy, got %s", got)
	}
}

func TestConvergeFromColdStack(t *testing.T) {
	dev := &fakeDevice{states: []screen.State{screen.StateLoaded}, compositorUp: false, emulatorUp: false}
	s := newTestSupervisor(t, dev, 5)

	if err := s.Converge(context.Background(), false); err != nil {
		t.Fatalf("expected convergence, got %v", err)
	}
	if dev.compLaunches != 1 {
		t.Fatalf("expected one compositor launch, got %d", dev.compLaunches)
	}
	if dev.emuLaunches != 1 {
		t.Fatalf("expected one emulator launch, got %d", dev.emuLaunches)
	}
}

func TestConvergeThroughLockedScreen(t *testing.T) {
	// black -> lock -> loaded takes exactly two taps: one waking the
	// display, one dismissing the unlock prompt.
	dev := &fakeDevice{
		states:       []screen.State{screen.StateBlack, screen.StateLock, screen.StateLoaded},
		compositorUp: true, emulatorUp: true, appUp: true,
	}
	s := newTestSupervisor(t, dev, 5)

	if err := s.Converge(context.Background(), false); err != nil {
		t.Fatalf("expected convergence, got %v", err)
	}
	if dev.taps != 2 {
		t.Fatalf("expected exactly 2 taps, got %d", dev.taps)
	}
}

func TestConvergeDismissesInterstitial(t *testing.T) {
	dev := &fakeDevice{
		states:       []screen.State{screen.StateInterstitial, screen.StateLoaded},
		compositorUp: true, emulatorUp: true, appUp: true,
	}
	s := newTestSupervisor(t, dev, 5)

	if err := s.Converge(context.Background(), false); err != nil {
		t.Fatalf("expected convergence, got %v", err)
	}
	if dev.backs != 1 {
		t.Fatalf("expected one back press, got %d", dev.backs)
	}
}

func TestConvergeExhaustsBudget(t *testing.T) {
	// A screen stuck on unknown never converges.
	dev := &fakeDevice{
		states:       []screen.State{screen.StateUnknown},
		compositorUp: true, emulatorUp: true, appUp: true,
	}
	s := newTestSupervisor(t, dev, 3)

	err := s.Converge(context.Background(), false)
	var exhausted *RecoveryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RecoveryExhaustedError, got %v", err)
	}
	if exhausted.Cycles != 3 {
		t.Fatalf("expected 3 cycles, got %d", exhausted.Cycles)
	}
	if exhausted.LastState != screen.StateUnknown {
		t.Fatalf("expected last state unknown, got %s", exhausted.LastState)
	}
	// A spent budget must not keep reporting Recovering until the next tick.
	if got := s.Stats().SupervisorStatus; got != Crashed {
		t.Fatalf("expected status Crashed after exhaustion, got %s", got)
	}
}

func TestConvergeRejectsConcurrentRuns(t *testing.T) {
	dev := &fakeDevice{
		states:       []screen.State{screen.StateUnknown},
		compositorUp: true, emulatorUp: true, appUp: true,
	}
	s := newTestSupervisor(t, dev, 50)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_ = s.Converge(context.Background(), false)
		close(done)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	if err := s.Converge(context.Background(), false); !errors.Is(err, ErrRecoveryInProgress) {
		t.Fatalf("expected ErrRecoveryInProgress, got %v", err)
	}
	<-done
}

func TestRestartTearsDownFirst(t *testing.T) {
	dev := &fakeDevice{
		states:       []screen.State{screen.StateLoaded},
		compositorUp: true, emulatorUp: true, appUp: true,
	}
	s := newTestSupervisor(t, dev, 5)

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("expected restart to converge, got %v", err)
	}
	if dev.appStops != 1 || dev.emuStops != 1 {
		t.Fatalf("expected app and emulator to be stopped once, got %d/%d", dev.appStops, dev.emuStops)
	}
	if dev.emuLaunches != 1 {
		t.Fatalf("expected emulator relaunch, got %d", dev.emuLaunches)
	}
}

func TestTransportFailuresEscalate(t *testing.T) {
	dev := &fakeDevice{
		states:       []screen.State{screen.StateLock},
		compositorUp: true, emulatorUp: true, appUp: true,
		transportErr: errors.New("adb wedged"),
	}
	s := newTestSupervisor(t, dev, 10)

	err := s.Converge(context.Background(), false)
	if err == nil || errors.As(err, new(*RecoveryExhaustedError)) {
		t.Fatalf("expected transport escalation before exhaustion, got %v", err)
	}
	if s.Stats().LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
	if got := s.Stats().SupervisorStatus; got != Crashed {
		t.Fatalf("expected status Crashed after escalation, got %s", got)
	}
}
