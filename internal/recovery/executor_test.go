package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jnjlab/warok/internal/screen"
	"github.com/jnjlab/warok/internal/ui"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	taps    [][2]int
	tapErr  error
	backErr error
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTransport) LaunchCompositor(ctx context.Context) error {
	f.record("launch_compositor")
	return nil
}

func (f *fakeTransport) LaunchEmulator(ctx context.Context) error {
	f.record("launch_emulator")
	return nil
}

func (f *fakeTransport) LaunchApp(ctx context.Context) error {
	f.record("launch_app")
	return nil
}

func (f *fakeTransport) Tap(ctx context.Context, x, y int) error {
	f.record("tap")
	f.mu.Lock()
	f.taps = append(f.taps, [2]int{x, y})
	f.mu.Unlock()
	return f.tapErr
}

func (f *fakeTransport) Back(ctx context.Context) error {
	f.record("back")
	return f.backErr
}

func (f *fakeTransport) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// stateSequence returns the scripted states one by one, repeating the last.
func stateSequence(states ...screen.State) ClassifyFunc {
	i := 0
	var mu sync.Mutex
	return func(ctx context.Context) (screen.State, error) {
		mu.Lock()
		defer mu.Unlock()
		s := states[i]
		if i < len(states)-1 {
			i++
		}
		return s, nil
	}
}

func staticConfig() ConfigFunc {
	return func() (ui.Config, error) {
		return ui.Config{
			Window: ui.Geometry{X: 0, Y: 0, Width: 200, Height: 100},
			Regions: map[string]ui.Region{
				"tap_to_start": {Name: "tap_to_start", X: 90, Y: 40, Width: 20, Height: 20},
			},
		}, nil
	}
}

func newTestExecutor(tr Transport, classify ClassifyFunc) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(tr, classify, staticConfig(), time.Millisecond, logger)
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	tr := &fakeTransport{}
	ex := newTestExecutor(tr, stateSequence(screen.StateLoaded))

	plan := Plan{
		{Kind: ActionLaunchCompositor},
		{Kind: ActionLaunchEmulator},
		Tap(ui.RegionScreenCenter),
		Wait(screen.StateLoaded, time.Second),
	}
	if err := ex.Execute(context.Background(), plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"launch_compositor", "launch_emulator", "tap"}
	for i, call := range want {
		if tr.calls[i] != call {
			t.Errorf("call %d: expected %s, got %s", i, call, tr.calls[i])
		}
	}
}

func TestExecuteResolvesTapTargets(t *testing.T) {
	tr := &fakeTransport{}
	ex := newTestExecutor(tr, stateSequence(screen.StateLoaded))

	plan := Plan{Tap(ui.RegionScreenCenter), Tap("tap_to_start")}
	if err := ex.Execute(context.Background(), plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tr.taps[0] != [2]int{100, 50} {
		t.Errorf("screen_center should resolve to the window midpoint, got %v", tr.taps[0])
	}
	if tr.taps[1] != [2]int{100, 50} {
		t.Errorf("tap_to_start should resolve to the region midpoint, got %v", tr.taps[1])
	}
}

func TestExecuteUnknownTapRegionFails(t *testing.T) {
	tr := &fakeTransport{}
	ex := newTestExecutor(tr, stateSequence(screen.StateLoaded))

	err := ex.Execute(context.Background(), Plan{Tap("no_such_region")})
	if err == nil {
		t.Fatal("expected an error for an undefined tap region")
	}
	if len(tr.taps) != 0 {
		t.Error("no tap should reach the transport for an unresolvable region")
	}
}

func TestWaitTimeoutHaltsPlan(t *testing.T) {
	tr := &fakeTransport{}
	ex := newTestExecutor(tr, stateSequence(screen.StateBlack))

	// wait(lock) never satisfied: the plan must halt before the second tap.
	plan := Plan{
		Tap(ui.RegionScreenCenter),
		Wait(screen.StateLock, 20*time.Millisecond),
		Tap(ui.RegionScreenCenter),
		Wait(screen.StateLoaded, time.Second),
	}

	err := ex.Execute(context.Background(), plan)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if got := tr.callCount("tap"); got != 1 {
		t.Errorf("expected exactly 1 tap before the halt, got %d", got)
	}
}

func TestWaitSucceedsWhenTargetAppears(t *testing.T) {
	tr := &fakeTransport{}
	ex := newTestExecutor(tr, stateSequence(screen.StateBlack, screen.StateLock, screen.StateLoaded))

	plan := Plan{
		Tap(ui.RegionScreenCenter),
		Wait(screen.StateLock, time.Second),
		Tap(ui.RegionScreenCenter),
		Wait(screen.StateLoaded, time.Second),
	}
	if err := ex.Execute(context.Background(), plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.callCount("tap"); got != 2 {
		t.Errorf("expected exactly 2 taps, got %d", got)
	}
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	tr := &fakeTransport{tapErr: errors.New("adb: device offline")}
	ex := newTestExecutor(tr, stateSequence(screen.StateLoaded))

	err := ex.Execute(context.Background(), Plan{Tap(ui.RegionScreenCenter)})
	if !errors.Is(err, ErrActionTransport) {
		t.Fatalf("expected ErrActionTransport, got %v", err)
	}
}

func TestWaitToleratesCaptureTimeouts(t *testing.T) {
	tr := &fakeTransport{}
	var calls int
	var mu sync.Mutex
	classify := func(ctx context.Context) (screen.State, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return screen.StateUnknown, screen.ErrCaptureTimeout
		}
		return screen.StateLoaded, nil
	}

	ex := newTestExecutor(tr, classify)
	if err := ex.Execute(context.Background(), Plan{Wait(screen.StateLoaded, time.Second)}); err != nil {
		t.Fatalf("capture timeouts during a wait must not abort it: %v", err)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	tr := &fakeTransport{}
	ex := newTestExecutor(tr, stateSequence(screen.StateBlack))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ex.Execute(ctx, Plan{Tap(ui.RegionScreenCenter)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Error("no action should run after cancellation")
	}
}
