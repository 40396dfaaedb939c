// Package session implements the commit protocol of spec.md §4.7: a
// session stages events and folds them into live aggregate state in one
// structural operation ("appended implies folded"), then commits the
// staged batch atomically through the stream engine and fans out
// post-when hooks.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/engine"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/internal/logging"
)

// Hook is a post-commit side-effect receiver. Hooks must be idempotent:
// crash recovery may redeliver the same event (at-least-once, spec.md
// §4.7).
type Hook func(ctx context.Context, e event.Event) error

// DiscardPolicy controls what happens to the staged buffer after a
// failed commit, per spec.md §4.7 ("caller's choice, signaled at
// commit").
type DiscardPolicy int

const (
	// KeepOnFailure leaves the buffer intact so the caller can retry
	// Commit after resolving the failure (e.g. reloading after a
	// ConcurrencyConflict).
	KeepOnFailure DiscardPolicy = iota
	// DiscardOnFailure clears the buffer regardless of outcome.
	DiscardOnFailure
)

// Session scopes a single logical unit of work against one aggregate's
// stream.
type Session[S any] struct {
	doc     *document.Document
	engine  *engine.Engine
	fold    func(state S, e event.Event) (S, error)
	state   S
	staged  []event.Event
	hooks   []Hook
	log     logging.Logger
	mu      sync.Mutex
}

// Begin returns a session scoped to doc, starting from initial. It loads
// nothing itself: the caller has already hydrated initial via the fold
// host / snapshot manager.
func Begin[S any](doc *document.Document, eng *engine.Engine, initial S, fold func(state S, e event.Event) (S, error), hooks []Hook, log logging.Logger) *Session[S] {
	if log == nil {
		log = logging.Discard
	}
	return &Session[S]{doc: doc, engine: eng, fold: fold, state: initial, hooks: hooks, log: log}
}

// State returns the current in-memory aggregate state, reflecting every
// staged-and-folded event so far (post-event state, per spec.md §4.7).
func (s *Session[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Append constructs the structural "append-and-fold" operation: e is
// staged in the ordered buffer and immediately folded into live state.
// This is the only way to stage an event; there is no separate
// stage-without-fold API, making "appended implies folded" structural
// rather than convention.
func (s *Session[S]) Append(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.fold(s.state, e)
	if err != nil {
		return fmt.Errorf("session: fold failed for %s: %w", e.EventType, err)
	}
	s.state = next
	s.staged = append(s.staged, e)
	return nil
}

// Staged returns a copy of the currently staged, not-yet-committed
// events.
func (s *Session[S]) Staged() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.staged...)
}

// CommitResult reports commit success and any post-commit hook failures,
// per spec.md §4.7's Open Question resolution: hook failures never roll
// back the commit (events are already durable) and are never auto-retried.
type CommitResult struct {
	Committed    bool
	FirstVersion int64
	LastVersion  int64
	HookFailures []error
}

// Commit appends the staged batch atomically via the stream engine. On
// success, post-when hooks run once per event in order and are awaited
// before Commit returns; hook failures do not undo the commit. On
// failure, the staged buffer is kept or cleared per discard.
func (s *Session[S]) Commit(ctx context.Context, discard DiscardPolicy) (CommitResult, error) {
	s.mu.Lock()
	staged := append([]event.Event(nil), s.staged...)
	s.mu.Unlock()

	res, err := s.engine.AppendBatch(ctx, s.doc, staged)
	if err != nil {
		if discard == DiscardOnFailure {
			s.mu.Lock()
			s.staged = nil
			s.mu.Unlock()
		}
		return CommitResult{}, err
	}

	s.mu.Lock()
	committed := s.staged
	s.staged = nil
	s.mu.Unlock()

	// Re-stamp versions assigned by the engine onto the committed copies
	// so hooks observe the durable event_version.
	base := res.FirstVersion
	var hookFailures []error
	for i, e := range committed {
		e.EventVersion = base + int64(i)
		for _, h := range s.hooks {
			if err := h(ctx, e); err != nil {
				s.log.Printf("session: post-when hook failed for %s@%d: %v", e.EventType, e.EventVersion, err)
				hookFailures = append(hookFailures, fmt.Errorf("hook failed for %s@%d: %w", e.EventType, e.EventVersion, err))
			}
		}
	}

	return CommitResult{
		Committed:    true,
		FirstVersion: res.FirstVersion,
		LastVersion:  res.LastVersion,
		HookFailures: hookFailures,
	}, nil
}
