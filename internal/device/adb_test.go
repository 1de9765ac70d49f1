package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const dumpsysWindows = `WINDOW MANAGER WINDOWS (dumpsys window windows)
  Window #0 Window{1a2b3c4 u0 NavigationBar0}:
    mDisplayId=0 rootTaskId=1
  Window #1 Window{af2f8d1 u0 com.lilithgames.rok.gpkr/com.harry.engine.MainActivity}:
    mDisplayId=0 rootTaskId=4
  mCurrentFocus=Window{af2f8d1 u0 com.lilithgames.rok.gpkr/com.harry.engine.MainActivity}
  mFocusedApp=ActivityRecord{d1e5f00 u0 com.lilithgames.rok.gpkr/com.harry.engine.MainActivity t4}
`

func TestParseFocusedWindow(t *testing.T) {
	got := parseFocusedWindow(dumpsysWindows)
	assert.Equal(t, "com.lilithgames.rok.gpkr/com.harry.engine.MainActivity", got)
}

func TestParseFocusedWindowNoFocus(t *testing.T) {
	assert.Empty(t, parseFocusedWindow("WINDOW MANAGER WINDOWS\n  Window #0\n"))
}

func TestBackgrounded(t *testing.T) {
	focus := "com.android.settings/.Settings"

	assert.True(t, backgrounded(focus, "com.lilithgames.rok.gpkr"))
	assert.False(t, backgrounded("com.lilithgames.rok.gpkr/com.harry.engine.MainActivity", "com.lilithgames.rok.gpkr"))

	// Indeterminate focus never counts against the app.
	assert.False(t, backgrounded("", "com.lilithgames.rok.gpkr"))
	assert.False(t, backgrounded(focus, ""))
}
