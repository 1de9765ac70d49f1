package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jnjlab/warok/cmd/warok/log"
	"github.com/jnjlab/warok/internal/config"
	"github.com/jnjlab/warok/internal/device"
	"github.com/jnjlab/warok/internal/event"
	"github.com/jnjlab/warok/internal/recovery"
	"github.com/jnjlab/warok/internal/screen"
	"github.com/jnjlab/warok/internal/ui"
)

type SupervisorManager struct {
	logger        *slog.Logger
	mu            sync.RWMutex // protects the supervisors map
	supervisors   map[string]*Supervisor
	eventListener *event.Listener
}

func NewSupervisorManager(logger *slog.Logger, eventListener *event.Listener) *SupervisorManager {
	return &SupervisorManager{
		logger:        logger,
		supervisors:   make(map[string]*Supervisor),
		eventListener: eventListener,
	}
}

func (mng *SupervisorManager) AvailableSupervisors() []string {
	availableSupervisors := make([]string, 0)
	for name := range config.GetTargets() {
		availableSupervisors = append(availableSupervisors, name)
	}

	return availableSupervisors
}

// Start builds and runs a supervisor for the named target. Blocks until the
// supervisor exits, callers that need it in the background go themselves.
func (mng *SupervisorManager) Start(ctx context.Context, targetName string) error {
	mng.mu.RLock()
	_, exists := mng.supervisors[targetName]
	mng.mu.RUnlock()
	if exists {
		return fmt.Errorf("supervisor %s is already running", targetName)
	}

	// Reload config to get the latest local changes before starting the supervisor
	err := config.Load()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	supervisorLogger, err := log.NewLogger(config.Warok.Debug.Log, config.Warok.LogSaveDirectory, targetName)
	if err != nil {
		return err
	}

	supervisor, err := mng.buildSupervisor(targetName, supervisorLogger)
	if err != nil {
		return err
	}

	mng.mu.Lock()
	// Double-check under write lock to prevent a race where two concurrent
	// Start calls both pass the initial RLock existence check.
	if _, alreadyRunning := mng.supervisors[targetName]; alreadyRunning {
		mng.mu.Unlock()
		return fmt.Errorf("supervisor %s is already running", targetName)
	}
	mng.supervisors[targetName] = supervisor
	mng.mu.Unlock()

	defer func() {
		mng.mu.Lock()
		delete(mng.supervisors, targetName)
		mng.mu.Unlock()
	}()

	err = supervisor.Start(ctx)
	if err != nil {
		mng.logger.Error(fmt.Sprintf("error running supervisor %s: %s", targetName, err.Error()))
	}

	return nil
}

func (mng *SupervisorManager) ReloadConfig() error {
	return config.Load()
}

func (mng *SupervisorManager) StopAll() {
	mng.mu.RLock()
	snapshot := make([]*Supervisor, 0, len(mng.supervisors))
	for _, s := range mng.supervisors {
		snapshot = append(snapshot, s)
	}
	mng.mu.RUnlock()

	for _, s := range snapshot {
		s.Stop()
	}
}

func (mng *SupervisorManager) Stop(targetName string) {
	mng.mu.RLock()
	s, found := mng.supervisors[targetName]
	mng.mu.RUnlock()

	if !found {
		return
	}

	mng.logger.Info("Stopping supervisor instance", slog.String("supervisor", targetName))

	// Stop blocks until the supervisor's run loop has drained; done outside
	// the lock so a supervisor exiting on its own can delete itself.
	s.Stop()
}

// Restart force-restarts the target through its running supervisor.
func (mng *SupervisorManager) Restart(ctx context.Context, targetName string) error {
	mng.mu.RLock()
	s, found := mng.supervisors[targetName]
	mng.mu.RUnlock()
	if !found {
		return fmt.Errorf("supervisor %s is not running", targetName)
	}
	return s.Restart(ctx)
}

func (mng *SupervisorManager) Status(targetName string) Stats {
	mng.mu.RLock()
	sup, found := mng.supervisors[targetName]
	mng.mu.RUnlock()
	if found {
		return sup.Stats()
	}
	return Stats{SupervisorStatus: NotStarted}
}

func (mng *SupervisorManager) GetSupervisor(targetName string) *Supervisor {
	mng.mu.RLock()
	sup, ok := mng.supervisors[targetName]
	mng.mu.RUnlock()
	if ok {
		return sup
	}
	return nil
}

func (mng *SupervisorManager) buildSupervisor(targetName string, logger *slog.Logger) (*Supervisor, error) {
	cfg, found := config.GetTarget(targetName)
	if !found {
		return nil, fmt.Errorf("target %s not found", targetName)
	}

	uiStore := ui.NewStore(cfg.UIConfigPath, logger)

	weston := device.NewWeston(cfg.Device.Display, logger)
	waydroid := device.NewWaydroid(cfg.Device.Display, logger)
	adb := device.NewADB("adb", cfg.Device.ADBAddress, logger)

	geometry := func() (ui.Geometry, error) {
		uiCfg, err := uiStore.Get()
		if err != nil {
			return ui.Geometry{}, err
		}
		return uiCfg.Window, nil
	}

	controller := device.NewController(weston, waydroid, adb, cfg.App.Package, cfg.App.Activity, geometry, logger)

	sampler := screen.NewSampler(controller, cfg.ShortWait())
	classifier := screen.NewClassifier(logger)

	classify := func(ctx context.Context) (screen.State, error) {
		frame, err := sampler.Capture(ctx)
		if err != nil {
			return screen.StateUnknown, err
		}
		uiCfg, err := uiStore.Get()
		if err != nil && uiCfg.Window.Width == 0 {
			return screen.StateUnknown, err
		}
		return classifier.Classify(frame, uiCfg), nil
	}

	planner := recovery.NewPlanner(cfg.WaitTimeout(), cfg.ShortWait())
	executor := recovery.NewExecutor(controller, classify, func() (ui.Config, error) {
		return uiStore.Get()
	}, cfg.PollInterval(), logger)

	return NewSupervisor(SupervisorOptions{
		Name:               targetName,
		Logger:             logger,
		Device:             controller,
		Classify:           classify,
		Planner:            &planner,
		Executor:           executor,
		MaxCycles:          cfg.Recovery.MaxCycles,
		HealthInterval:     cfg.HealthInterval(),
		MaxTransportErrors: cfg.Recovery.MaxTransportErrors,
	}), nil
}
