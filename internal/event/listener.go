package event

import (
	"context"
	"log/slog"
)

// events is buffered generously: handlers (telegram, discord, websocket
// broadcast) can be slow and a recovery loop must never block on telemetry.
var events = make(chan Event, 256)

// Send publishes an event to the process-wide queue. Drops the event when the
// queue is full rather than stalling the sender.
func Send(e Event) {
	select {
	case events <- e:
	default:
	}
}

type Handler func(ctx context.Context, e Event) error

// Listener fans events out to registered handlers on a single goroutine.
type Listener struct {
	handlers []Handler
	logger   *slog.Logger
}

func NewListener(logger *slog.Logger) *Listener {
	return &Listener{logger: logger}
}

// Register must be called before Listen; the handler slice is not guarded.
func (l *Listener) Register(h Handler) {
	l.handlers = append(l.handlers, h)
}

func (l *Listener) Listen(ctx context.Context) error {
	for {
		select {
		case e := <-events:
			for _, h := range l.handlers {
				if err := h(ctx, e); err != nil {
					l.logger.Error("error running event handler",
						slog.String("event", e.Message()),
						slog.Any("error", err))
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
