package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Dispatcher delivers events synchronously, in registration order, to the
// listeners subscribed to the event's type and to every catch-all listener.
// A failing listener does not stop delivery to the rest.
type Dispatcher struct {
	mu       sync.RWMutex
	byType   map[Type][]Listener
	catchAll []Listener
	logger   *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{byType: map[Type][]Listener{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers l for the given event types. With no types, l
// receives every event.
func (d *Dispatcher) Subscribe(l Listener, types ...Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(types) == 0 {
		d.catchAll = append(d.catchAll, l)
		return
	}
	for _, t := range types {
		d.byType[t] = append(d.byType[t], l)
	}
}

func (d *Dispatcher) Publish(ctx context.Context, events ...Event) error {
	var result *multierror.Error
	for _, e := range events {
		for _, l := range d.listeners(e.Type) {
			if err := l.Handle(ctx, e); err != nil {
				if d.logger != nil {
					d.logger.WarnContext(ctx, "event listener failed",
						"event_type", string(e.Type),
						"event_id", e.ID,
						"error", err,
					)
				}
				result = multierror.Append(result, fmt.Errorf("%s: %w", e.Type, err))
			}
		}
	}
	return result.ErrorOrNil()
}

func (d *Dispatcher) listeners(t Type) []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Listener, 0, len(d.byType[t])+len(d.catchAll))
	out = append(out, d.byType[t]...)
	return append(out, d.catchAll...)
}

// LogListener writes each event as a structured log line.
func LogListener(logger *slog.Logger) Listener {
	return ListenerFunc(func(ctx context.Context, e Event) error {
		logger.InfoContext(ctx, "domain event",
			"event_type", string(e.Type),
			"event_id", e.ID,
			"customer_id", e.CustomerID.String(),
			"actor", e.Actor,
		)
		return nil
	})
}

// Recorder keeps every event it sees. Used by tests and the admin timeline.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Publish(ctx context.Context, events ...Event) error {
	for _, e := range events {
		_ = r.Handle(ctx, e)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
