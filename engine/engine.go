// Package engine implements the stream engine (spec.md §4.6): version
// allocation, chunk rollover, optimistic CAS, broken-stream detection and
// recovery gating, and read-side upcasting with snapshot-boundary
// injection.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/internal/logging"
	"github.com/nullstream/eventstream/upcast"
)

// ErrStreamBroken is returned by every operation on a stream whose
// document records an orphaned-event range, until the repair service
// clears it.
var ErrStreamBroken = errcode.New(errcode.CodeStreamBroken, errcode.PartialFailure, "stream is broken, repair required", nil)

// SnapshotBoundary is the synthetic marker emitted at the start of a read
// when a snapshot qualifies (spec.md §4.6 "Snapshot integration"). The
// fold host treats it as a state replacement, not an event.
type SnapshotBoundary struct {
	Name    string
	Version int64
}

// Engine owns the commit and read protocol over one DataStore.
type Engine struct {
	store    datastore.DataStore
	pipeline *upcast.Pipeline
	log      logging.Logger
}

// New builds an Engine. pipeline may be nil (no upcasting configured).
func New(store datastore.DataStore, pipeline *upcast.Pipeline, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard
	}
	if pipeline == nil {
		pipeline = upcast.New()
	}
	return &Engine{store: store, pipeline: pipeline, log: log}
}

// CommitResult reports the outcome of a successful append_batch.
type CommitResult struct {
	FirstVersion int64
	LastVersion  int64
}

// AppendBatch implements spec.md §4.6's append_batch operation.
func (e *Engine) AppendBatch(ctx context.Context, doc *document.Document, staged []event.Event) (CommitResult, error) {
	if doc.Active.IsBroken {
		return CommitResult{}, ErrStreamBroken
	}
	if len(staged) == 0 {
		return CommitResult{FirstVersion: doc.Active.CurrentStreamVersion, LastVersion: doc.Active.CurrentStreamVersion}, nil
	}

	base := doc.Active.CurrentStreamVersion
	assigned := make([]event.Event, len(staged))
	for i, e2 := range staged {
		e2.EventVersion = base + 1 + int64(i)
		assigned[i] = e2
	}
	last := assigned[len(assigned)-1].EventVersion

	opts := datastore.AppendOptions{ExpectedTip: base}
	cs := doc.Active.ChunkSettings
	if cs.ChunksEnabled && cs.ChunkSize > 0 {
		wantChunk := last / cs.ChunkSize
		if wantChunk > cs.ChunkIndexCeiling {
			opts.RollToChunk = &wantChunk
		}
	}

	err := e.store.Append(ctx, doc, assigned, opts)
	if err == nil {
		doc.Active.CurrentStreamVersion = last
		if opts.RollToChunk != nil {
			doc.Active.ChunkSettings.ChunkIndexCeiling = *opts.RollToChunk
		}
		return CommitResult{FirstVersion: base + 1, LastVersion: last}, nil
	}

	var conflict *datastore.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		return CommitResult{}, err
	}

	var partial *datastore.PartialWriteError
	if errors.As(err, &partial) {
		from := base + 1
		to := partial.LastWrittenVersion
		if to >= from {
			if markErr := doc.MarkBroken(from, to, partial.Error()); markErr != nil {
				e.log.Printf("engine: mark broken failed for %s/%s: %v", doc.ObjectName, doc.ObjectID, markErr)
			}
			doc.Active.CurrentStreamVersion = to
		}
		return CommitResult{}, errcode.New(errcode.CodePartialCommit, errcode.PartialFailure,
			fmt.Sprintf("partial commit on %s/%s: wrote %d..%d of %d..%d", doc.ObjectName, doc.ObjectID, from, to, from, last),
			err)
	}

	return CommitResult{}, err
}

// Read traverses the data store, applies the upcast pipeline to every
// event read, and returns the results in ascending event_version order.
// When from==0 and a snapshot at or below until exists, reading starts at
// the snapshot's version + 1 and the snapshot boundary is returned too.
func (e *Engine) Read(ctx context.Context, doc *document.Document, from, until int64) ([]event.Event, *SnapshotBoundary, error) {
	if doc.Active.IsBroken {
		return nil, nil, ErrStreamBroken
	}

	var boundary *SnapshotBoundary
	readFrom := from
	if from == 0 {
		if snap, ok := doc.Active.LatestSnapshotAtOrBelow(resolveUntil(until, doc)); ok {
			boundary = &SnapshotBoundary{Name: snap.Name, Version: snap.Version}
			readFrom = snap.Version + 1
		}
	}
	if readFrom < 0 {
		readFrom = 0
	}

	raw, err := e.store.Read(ctx, doc, readFrom, until)
	if err != nil {
		return nil, nil, err
	}

	out := make([]event.Event, 0, len(raw))
	for _, ev := range raw {
		upcasted, err := e.pipeline.Apply(ev)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, upcasted...)
	}
	return out, boundary, nil
}

func resolveUntil(until int64, doc *document.Document) int64 {
	if until < 0 {
		return doc.Active.CurrentStreamVersion
	}
	return until
}

// StreamIterator wraps a datastore.EventIterator, applying the upcast
// pipeline lazily per spec.md §4.6, and never buffering more than one
// upstream event ahead of the caller (spec.md §5 "Backpressure").
type StreamIterator struct {
	inner    datastore.EventIterator
	pipeline *upcast.Pipeline
	buffer   []event.Event
	current  event.Event
	err      error
}

// ReadStream returns a pull-based, upcasting iterator over [from, until].
// Unlike Read it does not consult snapshots: from==0 starts at the first
// event and no snapshot boundary is reported.
func (e *Engine) ReadStream(ctx context.Context, doc *document.Document, from, until int64) (*StreamIterator, error) {
	if doc.Active.IsBroken {
		return nil, ErrStreamBroken
	}
	inner, err := e.store.ReadStream(ctx, doc, from, until)
	if err != nil {
		return nil, err
	}
	return &StreamIterator{inner: inner, pipeline: e.pipeline}, nil
}

// Next advances the iterator.
func (it *StreamIterator) Next(ctx context.Context) bool {
	for len(it.buffer) == 0 {
		if !it.inner.Next(ctx) {
			it.err = it.inner.Err()
			return false
		}
		out, err := it.pipeline.Apply(it.inner.Event())
		if err != nil {
			it.err = err
			return false
		}
		it.buffer = out
	}
	it.current, it.buffer = it.buffer[0], it.buffer[1:]
	return true
}

func (it *StreamIterator) Event() event.Event { return it.current }
func (it *StreamIterator) Err() error         { return it.err }
func (it *StreamIterator) Close() error       { return it.inner.Close() }
