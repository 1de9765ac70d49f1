package health

import (
	"log/slog"
	"time"
)

// TransportMonitor tracks consecutive device-transport failures. A single
// failed tap or launch is transient noise (the adb connection flaps when the
// emulator restarts); the same failure repeating back-to-back means the
// transport is actually gone and the recovery loop should stop hammering it.
type TransportMonitor struct {
	FirstFailure   time.Time
	Consecutive    int
	MaxConsecutive int
	Logger         *slog.Logger
	OnEscalate     func()
}

// NewTransportMonitor creates a monitor that escalates after maxConsecutive
// back-to-back failures.
func NewTransportMonitor(logger *slog.Logger, maxConsecutive int) *TransportMonitor {
	if maxConsecutive <= 0 {
		maxConsecutive = 3
	}
	return &TransportMonitor{
		MaxConsecutive: maxConsecutive,
		Logger:         logger,
	}
}

// RecordFailure notes one transport failure and returns true when the
// escalation threshold is crossed.
func (m *TransportMonitor) RecordFailure(err error) bool {
	now := time.Now()
	if m.Consecutive == 0 {
		m.FirstFailure = now
	}
	m.Consecutive++

	if m.Consecutive < m.MaxConsecutive {
		m.Logger.Warn("transport failure, will retry next cycle",
			slog.Int("consecutive", m.Consecutive),
			slog.Int("threshold", m.MaxConsecutive),
			slog.Any("error", err))
		return false
	}

	m.Logger.Error("repeated transport failures, escalating",
		slog.Int("consecutive", m.Consecutive),
		slog.Duration("since", now.Sub(m.FirstFailure)),
		slog.Any("error", err))

	if m.OnEscalate != nil {
		m.OnEscalate()
	}
	return true
}

// RecordSuccess resets the failure streak. Any successful transport call
// proves the path is alive again.
func (m *TransportMonitor) RecordSuccess() {
	if m.Consecutive > 0 {
		m.Logger.Info("transport recovered",
			slog.Int("afterFailures", m.Consecutive),
			slog.Duration("outage", time.Since(m.FirstFailure)))
	}
	m.Consecutive = 0
	m.FirstFailure = time.Time{}
}
