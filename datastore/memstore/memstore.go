// Package memstore is an in-memory DataStore/DocumentStore, generalized
// from the teacher's store.InMemoryEventStore and
// store.InMemorySnapshotStore: a map guarded by sync.RWMutex, locked only
// for the duration of each operation, copying slices out on read so
// callers can never alias internal state.
package memstore

import (
	"context"
	"sync"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/event"
)

type streamKey struct {
	object, id, stream string
}

// Store is a single in-process DataStore + DocumentStore, suitable for
// tests and for the worked example's default configuration.
type Store struct {
	mu      sync.RWMutex
	streams map[streamKey][]event.Event
	docs    map[string]*document.Document

	// failAfter, when set for a given streamKey, causes Append to persist
	// only the first failAfter events of the next batch before returning
	// an error, simulating the partial-failure scenario of spec.md S3.
	failAfter map[streamKey]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		streams:   make(map[streamKey][]event.Event),
		docs:      make(map[string]*document.Document),
		failAfter: make(map[streamKey]int),
	}
}

func docKey(objectName, objectID string) string { return objectName + "/" + objectID }

func keyOf(doc *document.Document) streamKey {
	return streamKey{object: doc.ObjectName, id: doc.ObjectID, stream: doc.Active.StreamIdentifier}
}

// SimulatePartialWriteAfter arranges for the next Append on this stream
// to durably write only the first n events of its batch, then fail. Test
// helper only, grounded on the teacher's store/*_test.go SetStream
// helpers ("Use ONLY in tests").
func (s *Store) SimulatePartialWriteAfter(objectName, objectID, streamID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter[streamKey{object: objectName, id: objectID, stream: streamID}] = n
}

func (s *Store) Append(ctx context.Context, doc *document.Document, events []event.Event, opts datastore.AppendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(doc)
	stream := s.streams[k]
	currentTip := int64(-1)
	if len(stream) > 0 {
		currentTip = stream[len(stream)-1].EventVersion
	}
	if currentTip != opts.ExpectedTip {
		return datastore.AsConcurrencyConflict(opts.ExpectedTip, currentTip)
	}

	if n, wantsFailure := s.failAfter[k]; wantsFailure && n < len(events) {
		delete(s.failAfter, k)
		toWrite := events[:n]
		s.streams[k] = append(append([]event.Event(nil), stream...), cloneAll(toWrite)...)
		last := opts.ExpectedTip
		if n > 0 {
			last = toWrite[n-1].EventVersion
		}
		return &datastore.PartialWriteError{LastWrittenVersion: last, Err: context.DeadlineExceeded}
	}

	s.streams[k] = append(append([]event.Event(nil), stream...), cloneAll(events)...)
	return nil
}

func (s *Store) Read(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[keyOf(doc)]
	var out []event.Event
	for _, e := range stream {
		if e.EventVersion < fromVersion {
			continue
		}
		if untilVersion >= 0 && e.EventVersion > untilVersion {
			break
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *Store) ReadStream(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) (datastore.EventIterator, error) {
	events, err := s.Read(ctx, doc, fromVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{events: events, idx: -1}, nil
}

func (s *Store) RemoveEventsForFailedCommit(ctx context.Context, doc *document.Document, from, to int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(doc)
	stream := s.streams[k]
	var kept []event.Event
	var removed int64
	for _, e := range stream {
		if e.EventVersion >= from && e.EventVersion <= to {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.streams[k] = kept
	return removed, nil
}

func (s *Store) LoadDoc(ctx context.Context, objectName, objectID string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docKey(objectName, objectID)]
	if !ok {
		return nil, datastore.ErrDocumentNotFound
	}
	return d.Clone(), nil
}

func (s *Store) Load(ctx context.Context, objectName, objectID string) (*document.Document, error) {
	return s.LoadDoc(ctx, objectName, objectID)
}

func (s *Store) Save(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey(doc.ObjectName, doc.ObjectID)] = doc.Clone()
	return nil
}

func cloneAll(events []event.Event) []event.Event {
	out := make([]event.Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

type sliceIterator struct {
	events []event.Event
	idx    int
	err    error
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.idx++
	return it.idx < len(it.events)
}

func (it *sliceIterator) Event() event.Event { return it.events[it.idx] }
func (it *sliceIterator) Err() error         { return it.err }
func (it *sliceIterator) Close() error       { return nil }

var _ datastore.DataStore = (*Store)(nil)
var _ datastore.DocumentStore = (*Store)(nil)
