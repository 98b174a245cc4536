// Package bus provides the in-process change notification bus for session events.
//
// Events are notifications, not data transfer: renderers re-read the session
// snapshot after a notification instead of trusting event payloads to be
// complete. Dispatch is synchronous so an emit happens-before the emitting
// operation returns, but a listener failure never propagates back into the
// operation that emitted.
package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is the interface all event types must implement.
type Event interface {
	// EventName returns the unique name for this event type
	// (e.g., "session.state_changed").
	EventName() string
}

// Listener is a callback function for handling events.
type Listener func(Event)

// subscription pairs a listener with the id its unsubscribe closure removes.
type subscription struct {
	id int
	fn Listener
}

// Emitter manages event subscriptions and dispatching. The zero value is not
// usable; construct with NewEmitter and inject it where needed.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	byName map[string][]subscription
	any    []subscription
	logger zerolog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{
		byName: make(map[string][]subscription),
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// On subscribes to a specific event type.
// Returns an unsubscribe function.
func (e *Emitter) On(eventName string, fn Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.byName[eventName] = append(e.byName[eventName], subscription{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.byName[eventName] = removeSubscription(e.byName[eventName], id)
	}
}

// OnAny subscribes to all events.
// Returns an unsubscribe function.
func (e *Emitter) OnAny(fn Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.any = append(e.any, subscription{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.any = removeSubscription(e.any, id)
	}
}

// Emit dispatches an event to all matching listeners. Listeners are copied
// under the read lock and invoked outside it, so a listener may subscribe or
// unsubscribe without deadlocking.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	specific := make([]subscription, len(e.byName[ev.EventName()]))
	copy(specific, e.byName[ev.EventName()])
	all := make([]subscription, len(e.any))
	copy(all, e.any)
	e.mu.RUnlock()

	e.logger.Trace().
		Str("event", ev.EventName()).
		Int("specific_listeners", len(specific)).
		Int("wildcard_listeners", len(all)).
		Msg("emitting event")

	for _, sub := range specific {
		e.dispatch(sub.fn, ev)
	}
	for _, sub := range all {
		e.dispatch(sub.fn, ev)
	}
}

// dispatch invokes a single listener. A panicking listener is logged and
// contained; notification failures never break the emitting operation.
func (e *Emitter) dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("event", ev.EventName()).
				Interface("panic", r).
				Msg("event listener panicked")
		}
	}()
	fn(ev)
}

// removeSubscription filters out the subscription with the given id.
func removeSubscription(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
