// Package fold implements the deterministic fold(state, event) dispatch
// host (spec.md §4.8): a table of handlers keyed by (post-upcasting)
// event type, driving aggregate replay and projection rebuild.
package fold

import (
	"fmt"

	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/internal/logging"
)

// Handler mutates state in place (or returns a new value for immutable
// state shapes) in response to one event.
type Handler[S any] func(state S, e event.Event) (S, error)

// Host dispatches events to registered handlers by event type, matching
// spec.md §9's "table lookup instead of reflection-driven dispatch"
// re-architecture note.
type Host[S any] struct {
	handlers  map[string]Handler[S]
	permissive bool
}

// New creates a Host in strict mode (spec.md §4.8 default): unknown event
// types fail with an errcode.CodeUnknownEventType validation error.
func New[S any]() *Host[S] {
	return &Host[S]{handlers: make(map[string]Handler[S])}
}

// Permissive switches the host to skip-with-warning mode for unknown
// event types instead of failing.
func (h *Host[S]) Permissive() *Host[S] {
	h.permissive = true
	return h
}

// On registers the handler for eventType. Re-registering the same type
// replaces the previous handler, matching a table, not an accumulating
// switch.
func (h *Host[S]) On(eventType string, fn Handler[S]) *Host[S] {
	h.handlers[eventType] = fn
	return h
}

// Apply folds a single event into state.
func (h *Host[S]) Apply(state S, e event.Event) (S, error) {
	fn, ok := h.handlers[e.EventType]
	if !ok {
		if h.permissive {
			logging.Default().Printf("fold: warning: skipping unknown event type %q at event_version %d", e.EventType, e.EventVersion)
			return state, nil
		}
		return state, errcode.New(errcode.CodeUnknownEventType, errcode.Validation,
			fmt.Sprintf("no handler registered for event type %q", e.EventType), nil)
	}
	return fn(state, e)
}

// Replay applies events in order starting from an initial state,
// matching spec.md §4.8's replay semantics (empty or snapshot-restored
// initial state, ascending version order).
func (h *Host[S]) Replay(initial S, events []event.Event) (S, error) {
	state := initial
	for _, e := range events {
		var err error
		state, err = h.Apply(state, e)
		if err != nil {
			return state, fmt.Errorf("fold: replay failed at event_version %d (%s): %w", e.EventVersion, e.EventType, err)
		}
	}
	return state, nil
}

// CheckpointStore persists the last applied version token for a
// projection, external to the stream engine (spec.md §4.8, §9
// "Projection lifecycle").
type CheckpointStore interface {
	Load(projectionName string) (version int64, found bool, err error)
	Save(projectionName string, version int64) error
}

// Projection pairs a Host with an external checkpoint, consuming the
// same ordered iterator the stream engine exposes to ordinary aggregates.
type Projection[S any] struct {
	Name       string
	Host       *Host[S]
	Checkpoint CheckpointStore
}

// ApplyAndCheckpoint folds one event into state and advances the
// checkpoint. Checkpointing after every event keeps redelivery idempotent
// at the granularity spec.md §4.7 requires of post-commit hooks.
func (p *Projection[S]) ApplyAndCheckpoint(state S, e event.Event) (S, error) {
	state, err := p.Host.Apply(state, e)
	if err != nil {
		return state, err
	}
	if err := p.Checkpoint.Save(p.Name, e.EventVersion); err != nil {
		return state, fmt.Errorf("fold: checkpoint save failed at %d: %w", e.EventVersion, err)
	}
	return state, nil
}
