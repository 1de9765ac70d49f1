package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/jnjlab/warok/internal/screen"
)

type Event interface {
	ID() string
	Message() string
	OccurredAt() time.Time
	Target() string
}

type BaseEvent struct {
	id         string
	message    string
	occurredAt time.Time
	target     string
}

func (b BaseEvent) ID() string            { return b.id }
func (b BaseEvent) Message() string       { return b.message }
func (b BaseEvent) OccurredAt() time.Time { return b.occurredAt }
func (b BaseEvent) Target() string        { return b.target }

// Text builds the base payload every event carries.
func Text(target, message string) BaseEvent {
	return BaseEvent{
		id:         uuid.NewString(),
		message:    message,
		occurredAt: time.Now(),
		target:     target,
	}
}

// RecoveryStartedEvent fires when a convergence loop begins.
type RecoveryStartedEvent struct {
	BaseEvent
	Restart bool
}

func RecoveryStarted(be BaseEvent, restart bool) RecoveryStartedEvent {
	return RecoveryStartedEvent{BaseEvent: be, Restart: restart}
}

// ScreenStateChangedEvent fires when a classification cycle observes a state
// different from the previous cycle.
type ScreenStateChangedEvent struct {
	BaseEvent
	Previous screen.State
	Current  screen.State
}

func ScreenStateChanged(be BaseEvent, previous, current screen.State) ScreenStateChangedEvent {
	return ScreenStateChangedEvent{BaseEvent: be, Previous: previous, Current: current}
}

// InterstitialDismissedEvent fires every time the notifications interstitial
// is backed out of.
type InterstitialDismissedEvent struct {
	BaseEvent
}

func InterstitialDismissed(be BaseEvent) InterstitialDismissedEvent {
	return InterstitialDismissedEvent{BaseEvent: be}
}

// RecoveryFinishedEvent fires when a convergence loop ends, successfully or
// not. Err is empty on success.
type RecoveryFinishedEvent struct {
	BaseEvent
	Cycles int
	Err    string
}

func RecoveryFinished(be BaseEvent, cycles int, err string) RecoveryFinishedEvent {
	return RecoveryFinishedEvent{BaseEvent: be, Cycles: cycles, Err: err}
}

// TunnelEstablishedEvent fires when the remote-access tunnel comes up, so
// notifiers can share the public URL.
type TunnelEstablishedEvent struct {
	BaseEvent
	URL string
}

func TunnelEstablished(be BaseEvent, url string) TunnelEstablishedEvent {
	return TunnelEstablishedEvent{BaseEvent: be, URL: url}
}

// RecoveryExhaustedEvent fires when the cycle budget runs out; LastState is
// attached for diagnosis.
type RecoveryExhaustedEvent struct {
	BaseEvent
	LastState screen.State
}

func RecoveryExhausted(be BaseEvent, lastState screen.State) RecoveryExhaustedEvent {
	return RecoveryExhaustedEvent{BaseEvent: be, LastState: lastState}
}
