package recovery

import (
	"testing"
	"time"

	"github.com/jnjlab/warok/internal/screen"
	"github.com/jnjlab/warok/internal/ui"
)

func kinds(p Plan) []ActionKind {
	out := make([]ActionKind, len(p))
	for i, a := range p {
		out[i] = a.Kind
	}
	return out
}

func TestPlannerTransitionTable(t *testing.T) {
	planner := NewPlanner(60*time.Second, 5*time.Second)

	tests := []struct {
		name   string
		status Status
		want   []ActionKind
	}{
		{
			name:   "compositor down wins over everything",
			status: Status{CompositorRunning: false, EmulatorRunning: true, AppRunning: true, Screen: screen.StateLoaded},
			want:   []ActionKind{ActionLaunchCompositor},
		},
		{
			name:   "emulator down",
			status: Status{CompositorRunning: true, EmulatorRunning: false, Screen: screen.StateBlack},
			want:   []ActionKind{ActionLaunchEmulator},
		},
		{
			name:   "empty frame retriggers emulator launch",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateEmpty},
			want:   []ActionKind{ActionLaunchEmulator},
		},
		{
			name:   "app dead on a live surface",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: false, Screen: screen.StateUnknown},
			want:   []ActionKind{ActionLaunchApp, ActionWait},
		},
		{
			name:   "lock screen takes priority over dead app",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: false, Screen: screen.StateLock},
			want:   []ActionKind{ActionTap, ActionWait},
		},
		{
			name:   "loading waits for loaded",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateLoading},
			want:   []ActionKind{ActionWait},
		},
		{
			name:   "black issues the two-tap probe",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateBlack},
			want:   []ActionKind{ActionTap, ActionWait, ActionTap, ActionWait},
		},
		{
			name:   "lock taps once",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateLock},
			want:   []ActionKind{ActionTap, ActionWait},
		},
		{
			name:   "interstitial backs out",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateInterstitial},
			want:   []ActionKind{ActionBack, ActionWait},
		},
		{
			name:   "loaded is terminal",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateLoaded},
			want:   []ActionKind{},
		},
		{
			name:   "unknown probes briefly",
			status: Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateUnknown},
			want:   []ActionKind{ActionWait},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planner.Plan(tt.status)
			if len(got) != len(tt.want) {
				t.Fatalf("plan %s: expected %d actions, got %d", got, len(tt.want), len(got))
			}
			for i, kind := range kinds(got) {
				if kind != tt.want[i] {
					t.Errorf("step %d: expected %s, got %s", i+1, tt.want[i], kind)
				}
			}
		})
	}
}

func TestPlannerBlackPlanDetails(t *testing.T) {
	planner := NewPlanner(60*time.Second, 5*time.Second)

	plan := planner.Plan(Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateBlack})
	if len(plan) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(plan))
	}

	if plan[0].Region != ui.RegionScreenCenter || plan[2].Region != ui.RegionScreenCenter {
		t.Error("black taps must target the screen center pseudo-region")
	}
	if plan[1].Target != screen.StateLock || plan[1].Timeout != 5*time.Second {
		t.Errorf("intermediate wait must probe for lock with the short timeout, got %s", plan[1])
	}
	if plan[3].Target != screen.StateLoaded || plan[3].Timeout != 60*time.Second {
		t.Errorf("final wait must target loaded with the full timeout, got %s", plan[3])
	}
}

func TestPlannerIsStateless(t *testing.T) {
	planner := NewPlanner(60*time.Second, 5*time.Second)
	st := Status{CompositorRunning: true, EmulatorRunning: true, AppRunning: true, Screen: screen.StateInterstitial}

	// The interstitial dismissal is unconditional: every occurrence plans a
	// back action again, never "already dismissed once, skip".
	for i := 0; i < 3; i++ {
		plan := planner.Plan(st)
		if len(plan) == 0 || plan[0].Kind != ActionBack {
			t.Fatalf("occurrence %d: expected back dismissal, got %s", i+1, plan)
		}
	}
}
