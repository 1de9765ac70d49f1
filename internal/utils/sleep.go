package utils

import (
	"math/rand"
	"time"
)

// Sleep pauses for roughly the given number of milliseconds with a small
// random jitter, so repeated taps and retries do not land on a perfectly
// regular cadence.
func Sleep(milliseconds int) {
	jitter := 0
	if milliseconds > 10 {
		jitter = rand.Intn(milliseconds / 5)
	}
	time.Sleep(time.Duration(milliseconds+jitter) * time.Millisecond)
}
