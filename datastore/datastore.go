// Package datastore defines the capability contract backends implement
// (spec.md §4.5) and the conflict/partial-failure signals the stream
// engine relies on to enforce optimistic concurrency and broken-stream
// detection.
package datastore

import (
	"context"
	"fmt"

	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
)

// ConcurrencyConflictError is returned by Append when the observed tip
// no longer equals the expected tip.
type ConcurrencyConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: expected tip %d, actual %d", e.Expected, e.Actual)
}

// AsConcurrencyConflict wraps a conflict in the errcode taxonomy.
func AsConcurrencyConflict(expected, actual int64) error {
	return errcode.New(errcode.CodeConcurrencyConflict, errcode.Concurrency,
		fmt.Sprintf("expected tip %d, actual %d", expected, actual),
		&ConcurrencyConflictError{Expected: expected, Actual: actual})
}

// PartialWriteError is returned by Append when some but not all events
// of a batch were durably written before the backend failed.
type PartialWriteError struct {
	LastWrittenVersion int64
	Err                error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write, last durable version %d: %v", e.LastWrittenVersion, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// AppendOptions carries chunk-rollover instructions alongside a batch.
type AppendOptions struct {
	// RollToChunk, when non-nil, names the chunk index the append rolls
	// over to (spec.md §4.6 step 3). The engine records it on the
	// document after a successful append; the memstore, boltstore and
	// pgstore backends keep no per-chunk storage and ignore it.
	RollToChunk *int64
	// ExpectedTip is the version the caller believes is currently
	// committed; the backend must CAS against it.
	ExpectedTip int64
}

// DataStore is the event-append/read capability contract of spec.md §4.5.
type DataStore interface {
	// Append writes events with event_version = document.Active.CurrentStreamVersion+1..N
	// atomically, or returns a *ConcurrencyConflictError / *PartialWriteError.
	Append(ctx context.Context, doc *document.Document, events []event.Event, opts AppendOptions) error

	// Read returns a materialized range [fromVersion, untilVersion] (untilVersion
	// < 0 means "to the tip"), honoring no upcasting: that is the engine's job.
	Read(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) ([]event.Event, error)

	// ReadStream returns a pull-based iterator over the same range as Read.
	ReadStream(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) (EventIterator, error)

	// RemoveEventsForFailedCommit idempotently deletes [from, to] and
	// returns the count removed; used only by the repair service.
	RemoveEventsForFailedCommit(ctx context.Context, doc *document.Document, from, to int64) (int64, error)
}

// EventIterator is a pull-based, cancellable, strictly ascending,
// gap-free iterator over event_version (spec.md §4.5, §5).
type EventIterator interface {
	// Next advances the iterator. It returns false at end of range or on
	// cancellation/error; callers must check Err after a false return.
	Next(ctx context.Context) bool
	Event() event.Event
	Err() error
	Close() error
}

// DocumentStore persists Object Document metadata. Separate from
// DataStore because backends may place the small document record in a
// different medium (a table store) than event payloads (a blob/segment
// store), per spec.md §1.
type DocumentStore interface {
	Load(ctx context.Context, objectName, objectID string) (*document.Document, error)
	Save(ctx context.Context, doc *document.Document) error
}

// ErrDocumentNotFound is returned by DocumentStore.Load when no document
// exists yet for the given coordinates.
var ErrDocumentNotFound = errcode.New(errcode.CodeDocumentNotFound, errcode.NotFound, "document not found", nil)
