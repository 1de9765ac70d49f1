package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/jnjlab/warok/internal/screen"
)

// ActionKind enumerates the corrective actions a plan can contain.
type ActionKind string

const (
	ActionLaunchCompositor ActionKind = "launch_compositor"
	ActionLaunchEmulator   ActionKind = "launch_emulator"
	ActionLaunchApp        ActionKind = "launch_app"
	ActionTap              ActionKind = "tap"
	ActionBack             ActionKind = "back"
	ActionWait             ActionKind = "wait"
)

// Action is one step of a recovery plan. Region is set for taps, Target and
// Timeout for waits.
type Action struct {
	Kind    ActionKind
	Region  string
	Target  screen.State
	Timeout time.Duration
}

func (a Action) String() string {
	switch a.Kind {
	case ActionTap:
		return fmt.Sprintf("tap(%s)", a.Region)
	case ActionWait:
		return fmt.Sprintf("wait(%s, %s)", a.Target, a.Timeout)
	default:
		return string(a.Kind)
	}
}

func Tap(region string) Action {
	return Action{Kind: ActionTap, Region: region}
}

func Back() Action {
	return Action{Kind: ActionBack}
}

func Wait(target screen.State, timeout time.Duration) Action {
	return Action{Kind: ActionWait, Target: target, Timeout: timeout}
}

// Plan is an ordered action sequence. Plans are recomputed from scratch on
// every classification cycle rather than cached: the underlying state can
// change for reasons outside the orchestrator's control.
type Plan []Action

func (p Plan) Empty() bool {
	return len(p) == 0
}

func (p Plan) String() string {
	if len(p) == 0 {
		return "[]"
	}
	parts := make([]string, len(p))
	for i, a := range p {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Status is the composite observation a plan is computed from.
type Status struct {
	CompositorRunning bool         `json:"compositor_running"`
	EmulatorRunning   bool         `json:"emulator_running"`
	AppRunning        bool         `json:"app_running"`
	Screen            screen.State `json:"screen_state"`
}
