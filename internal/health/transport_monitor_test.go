package health

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestMonitor(max int) *TransportMonitor {
	return NewTransportMonitor(slog.New(slog.NewTextHandler(io.Discard, nil)), max)
}

func TestEscalatesAfterConsecutiveFailures(t *testing.T) {
	m := newTestMonitor(3)
	err := errors.New("adb: device offline")

	if m.RecordFailure(err) {
		t.Fatal("first failure must not escalate")
	}
	if m.RecordFailure(err) {
		t.Fatal("second failure must not escalate")
	}
	if !m.RecordFailure(err) {
		t.Fatal("third consecutive failure must escalate")
	}
}

func TestSuccessResetsStreak(t *testing.T) {
	m := newTestMonitor(3)
	err := errors.New("adb: device offline")

	m.RecordFailure(err)
	m.RecordFailure(err)
	m.RecordSuccess()

	if m.RecordFailure(err) {
		t.Fatal("streak must restart after a success")
	}
	if m.Consecutive != 1 {
		t.Fatalf("expected streak of 1, got %d", m.Consecutive)
	}
}

func TestEscalationCallback(t *testing.T) {
	m := newTestMonitor(2)
	fired := 0
	m.OnEscalate = func() { fired++ }

	err := errors.New("weston: display gone")
	m.RecordFailure(err)
	m.RecordFailure(err)

	if fired != 1 {
		t.Fatalf("expected the escalation callback to fire once, fired %d times", fired)
	}
}
