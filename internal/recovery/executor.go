package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnjlab/warok/internal/metrics"
	"github.com/jnjlab/warok/internal/screen"
	"github.com/jnjlab/warok/internal/ui"
)

var (
	// ErrWaitTimeout: a wait step did not observe its target state in time.
	// Plan execution halts, the next cycle re-plans from the fresh state.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrActionTransport: the device-control transport failed to deliver an
	// action. Transient unless it repeats; escalation is counted upstream.
	ErrActionTransport = errors.New("action transport failure")
)

// Transport is the narrow device-control surface a plan executes against.
type Transport interface {
	LaunchCompositor(ctx context.Context) error
	LaunchEmulator(ctx context.Context) error
	LaunchApp(ctx context.Context) error
	Tap(ctx context.Context, x, y int) error
	Back(ctx context.Context) error
}

// ClassifyFunc produces the current screen state for wait polling.
type ClassifyFunc func(ctx context.Context) (screen.State, error)

// ConfigFunc yields the UI definition snapshot used to resolve tap targets.
type ConfigFunc func() (ui.Config, error)

// Executor runs plan steps strictly in order against the transport. A failed
// step halts the remaining steps: a stale plan should not run past a state it
// no longer applies to.
type Executor struct {
	transport Transport
	classify  ClassifyFunc
	config    ConfigFunc
	poll      time.Duration
	logger    *slog.Logger
}

func NewExecutor(transport Transport, classify ClassifyFunc, config ConfigFunc, poll time.Duration, logger *slog.Logger) *Executor {
	if poll <= 0 {
		poll = time.Second
	}
	return &Executor{
		transport: transport,
		classify:  classify,
		config:    config,
		poll:      poll,
		logger:    logger,
	}
}

// Execute runs the plan. Returned errors wrap ErrWaitTimeout or
// ErrActionTransport so the orchestrator can pick its retry policy.
func (e *Executor) Execute(ctx context.Context, plan Plan) error {
	for i, action := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.logger.Debug("executing recovery action",
			slog.String("action", action.String()),
			slog.Int("step", i+1),
			slog.Int("of", len(plan)))

		if err := e.execute(ctx, action); err != nil {
			return fmt.Errorf("step %d/%d %s: %w", i+1, len(plan), action, err)
		}
		metrics.ActionsExecuted.WithLabelValues(string(action.Kind)).Inc()
	}

	return nil
}

func (e *Executor) execute(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionLaunchCompositor:
		return e.transportCall(e.transport.LaunchCompositor(ctx))
	case ActionLaunchEmulator:
		return e.transportCall(e.transport.LaunchEmulator(ctx))
	case ActionLaunchApp:
		return e.transportCall(e.transport.LaunchApp(ctx))
	case ActionTap:
		x, y, err := e.resolveTap(action.Region)
		if err != nil {
			return err
		}
		return e.transportCall(e.transport.Tap(ctx, x, y))
	case ActionBack:
		return e.transportCall(e.transport.Back(ctx))
	case ActionWait:
		return e.waitFor(ctx, action.Target, action.Timeout)
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

func (e *Executor) transportCall(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActionTransport, err)
	}
	return nil
}

// resolveTap maps a region name to desktop coordinates through the current
// UI definition snapshot. screen_center resolves against the configured
// window geometry so operators can retune it without a redeploy.
func (e *Executor) resolveTap(region string) (x, y int, err error) {
	cfg, err := e.config()
	if err != nil && cfg.Window.Width == 0 {
		return 0, 0, fmt.Errorf("resolving tap target %q: %w", region, err)
	}

	if region == ui.RegionScreenCenter {
		x, y = cfg.Window.Center()
		return x, y, nil
	}

	r, ok := cfg.Region(region)
	if !ok {
		return 0, 0, fmt.Errorf("tap target %q is not defined in the ui config", region)
	}
	x, y = r.Center()
	return x, y, nil
}

// waitFor polls the classify function at a fixed interval until the target
// state is observed or the timeout elapses. Transient capture failures do
// not abort the wait, they just consume polling budget.
func (e *Executor) waitFor(ctx context.Context, target screen.State, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.poll)
	defer tick.Stop()

	var last screen.State
	for {
		state, err := e.classify(ctx)
		if err != nil {
			if !errors.Is(err, screen.ErrCaptureTimeout) {
				return err
			}
			e.logger.Warn("capture timed out while waiting, retrying", slog.String("target", string(target)))
		} else {
			last = state
			if state == target {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: target %s not reached within %s, last observed %s",
				ErrWaitTimeout, target, timeout, last)
		case <-tick.C:
		}
	}
}
