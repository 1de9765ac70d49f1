package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jnjlab/warok/internal/event"
	"github.com/jnjlab/warok/internal/health"
	"github.com/jnjlab/warok/internal/metrics"
	"github.com/jnjlab/warok/internal/recovery"
	"github.com/jnjlab/warok/internal/screen"
)

type Status string

const (
	NotStarted Status = "NotStarted"
	Starting   Status = "Starting"
	Healthy    Status = "Healthy"
	Recovering Status = "Recovering"
	Stopped    Status = "Stopped"
	Crashed    Status = "Crashed"
)

type Stats struct {
	SupervisorStatus Status
	StartedAt        time.Time
	ScreenState      screen.State
	RecoveryCount    int
	LastRecoveryAt   time.Time
	LastError        string
}

// ErrRecoveryInProgress: a converge or restart was requested while one is
// already running for this target.
var ErrRecoveryInProgress = errors.New("recovery already in progress")

// RecoveryExhaustedError reports a convergence loop that burned its whole
// cycle budget without ever observing the game loaded.
type RecoveryExhaustedError struct {
	Cycles    int
	LastState screen.State
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("recovery exhausted after %d cycles, last observed state %s", e.Cycles, e.LastState)
}

// Device is the full device surface the supervisor drives: the executor's
// transport plus the probes and teardown the converge loop needs itself.
type Device interface {
	recovery.Transport
	Status(ctx context.Context) recovery.Status
	StopApp(ctx context.Context) error
	StopEmulator(ctx context.Context) error
}

// Supervisor keeps one game instance alive: it probes the process stack and
// the screen, plans the shortest path back to a loaded game and executes it,
// then keeps watching on an interval.
type Supervisor struct {
	name     string
	logger   *slog.Logger
	device   Device
	classify recovery.ClassifyFunc
	planner  *recovery.Planner
	executor *recovery.Executor
	monitor  *health.TransportMonitor

	maxCycles      int
	healthInterval time.Duration
	cyclePause     time.Duration

	// runMu serializes converge loops; statsMu only guards the stats copy.
	runMu   sync.Mutex
	statsMu sync.RWMutex
	stats   Stats

	cancel context.CancelFunc
	done   chan struct{}
}

type SupervisorOptions struct {
	Name               string
	Logger             *slog.Logger
	Device             Device
	Classify           recovery.ClassifyFunc
	Planner            *recovery.Planner
	Executor           *recovery.Executor
	MaxCycles          int
	HealthInterval     time.Duration
	MaxTransportErrors int
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = 10
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Minute
	}

	return &Supervisor{
		name:           opts.Name,
		logger:         opts.Logger,
		device:         opts.Device,
		classify:       opts.Classify,
		planner:        opts.Planner,
		executor:       opts.Executor,
		monitor:        health.NewTransportMonitor(opts.Logger, opts.MaxTransportErrors),
		maxCycles:      opts.MaxCycles,
		healthInterval: opts.HealthInterval,
		cyclePause:     time.Second,
		stats:          Stats{SupervisorStatus: NotStarted},
		done:           make(chan struct{}),
	}
}

func (s *Supervisor) Name() string { return s.name }

func (s *Supervisor) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Start converges once, then watches the target on the health interval until
// Stop is called. Blocks for the supervisor's whole lifetime.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.done)

	s.setStatus(Starting)
	s.statsMu.Lock()
	s.stats.StartedAt = time.Now()
	s.statsMu.Unlock()

	if err := s.Converge(ctx, false); err != nil {
		if errors.Is(err, context.Canceled) {
			s.setStatus(Stopped)
			return nil
		}
		s.setStatus(Crashed)
		return err
	}

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setStatus(Stopped)
			return nil
		case <-ticker.C:
			if err := s.Converge(ctx, false); err != nil {
				if errors.Is(err, context.Canceled) {
					s.setStatus(Stopped)
					return nil
				}
				// Stay up after a failed recovery, the next tick tries again
				// from whatever state the stack drifted to.
				s.logger.Error("health recovery failed",
					slog.String("supervisor", s.name), slog.Any("error", err))
			}
		}
	}
}

func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Restart tears the app and emulator down first, then converges from scratch.
func (s *Supervisor) Restart(ctx context.Context) error {
	if !s.runMu.TryLock() {
		return ErrRecoveryInProgress
	}
	defer s.runMu.Unlock()

	s.logger.Info("restarting target", slog.String("supervisor", s.name))
	if err := s.device.StopApp(ctx); err != nil {
		s.logger.Warn("force-stopping app failed", slog.Any("error", err))
	}
	if err := s.device.StopEmulator(ctx); err != nil {
		s.logger.Warn("stopping emulator failed", slog.Any("error", err))
	}

	return s.converge(ctx, true)
}

// Converge runs recovery cycles until the game is loaded or the budget is
// spent. Concurrent calls are rejected, not queued: the caller retries
// against whatever state the running loop leaves behind.
func (s *Supervisor) Converge(ctx context.Context, restart bool) error {
	if !s.runMu.TryLock() {
		return ErrRecoveryInProgress
	}
	defer s.runMu.Unlock()
	return s.converge(ctx, restart)
}

func (s *Supervisor) converge(ctx context.Context, restart bool) error {
	s.setStatus(Recovering)
	event.Send(event.RecoveryStarted(event.Text(s.name, "recovery started"), restart))

	var lastState screen.State
	for cycle := 1; cycle <= s.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		st := s.observe(ctx)
		if st.Screen != lastState {
			if lastState != "" {
				event.Send(event.ScreenStateChanged(event.Text(s.name, "screen state changed"), lastState, st.Screen))
			}
			lastState = st.Screen
		}
		s.setScreen(st.Screen)
		metrics.Classifications.WithLabelValues(string(st.Screen)).Inc()

		plan := s.planner.Plan(st)
		if plan.Empty() {
			s.logger.Info("target converged",
				slog.String("supervisor", s.name), slog.Int("cycles", cycle))
			s.finishRecovery(cycle, nil)
			return nil
		}

		s.logger.Info("recovery cycle",
			slog.String("supervisor", s.name),
			slog.Int("cycle", cycle),
			slog.String("screen", string(st.Screen)),
			slog.Int("steps", len(plan)))
		metrics.RecoveryCycles.WithLabelValues(s.name).Inc()

		err := s.executor.Execute(ctx, plan)
		switch {
		case err == nil:
			s.monitor.RecordSuccess()
			if st.Screen == screen.StateInterstitial {
				event.Send(event.InterstitialDismissed(event.Text(s.name, "interstitial dismissed")))
			}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case errors.Is(err, recovery.ErrWaitTimeout):
			// Expected for conditional plans, the next cycle re-plans from
			// the state the stack actually reached.
			s.logger.Debug("plan halted on wait timeout", slog.Any("error", err))
		case errors.Is(err, recovery.ErrActionTransport):
			if s.monitor.RecordFailure(err) {
				s.finishRecovery(cycle, err)
				return fmt.Errorf("device transport is unhealthy: %w", err)
			}
		default:
			s.logger.Warn("recovery cycle failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cyclePause):
		}
	}

	exhausted := &RecoveryExhaustedError{Cycles: s.maxCycles, LastState: lastState}
	event.Send(event.RecoveryExhausted(event.Text(s.name, exhausted.Error()), lastState))
	metrics.RecoveryExhausted.WithLabelValues(s.name).Inc()
	s.finishRecovery(s.maxCycles, exhausted)
	return exhausted
}

// observe builds a full status snapshot: process probes plus a screen
// classification when there is a display to look at.
func (s *Supervisor) observe(ctx context.Context) recovery.Status {
	st := s.device.Status(ctx)
	if !st.CompositorRunning {
		st.Screen = screen.StateEmpty
		return st
	}

	state, err := s.classify(ctx)
	if err != nil {
		if errors.Is(err, screen.ErrCaptureTimeout) {
			// A running compositor that yields no frame means the display
			// pipeline is wedged, same treatment as no compositor at all.
			st.Screen = screen.StateEmpty
			return st
		}
		s.logger.Warn("classification failed", slog.Any("error", err))
		st.Screen = screen.StateUnknown
		return st
	}
	st.Screen = state
	return st
}

func (s *Supervisor) finishRecovery(cycles int, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
		s.setError(err)
	}
	event.Send(event.RecoveryFinished(event.Text(s.name, "recovery finished"), cycles, errText))

	s.statsMu.Lock()
	s.stats.RecoveryCount++
	s.stats.LastRecoveryAt = time.Now()
	if err == nil {
		s.stats.SupervisorStatus = Healthy
		s.stats.LastError = ""
	} else {
		// The status endpoint must not report Recovering between health
		// ticks when the last attempt actually gave up.
		s.stats.SupervisorStatus = Crashed
	}
	s.statsMu.Unlock()
}

func (s *Supervisor) setStatus(status Status) {
	s.statsMu.Lock()
	s.stats.SupervisorStatus = status
	s.statsMu.Unlock()
}

func (s *Supervisor) setScreen(state screen.State) {
	s.statsMu.Lock()
	s.stats.ScreenState = state
	s.statsMu.Unlock()
}

func (s *Supervisor) setError(err error) {
	s.statsMu.Lock()
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}
