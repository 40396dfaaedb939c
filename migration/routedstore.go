package migration

import (
	"context"
	"fmt"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/internal/logging"
)

// RoutedStore decorates a DataStore/DocumentStore pair so that every
// ordinary application read and write consults the routing table first,
// per spec.md §4.10's invariant 8. The saga's own steps (steps.go) talk
// to the backing store directly and are never routed through here: they
// are the thing advancing RoutingTable, not a caller subject to it.
//
// Routing only changes behavior once an entry exists for an object:
// absence means Normal, an ordinary pass-through (RoutingTable.Get's
// documented contract). Once an entry exists:
//   - Normal, DualWrite: writes and reads stay on the caller's own
//     stream (the source); DualWrite additionally best-effort mirrors
//     every write onto the target stream so CopyTransform's drain has
//     less to catch up on. A missed mirror is never fatal: Cutover's
//     drain retry loop is the authoritative catch-up path.
//   - DualRead: copy and verify have completed; reads redirect to the
//     target stream for a consistent post-cutover view, writes keep
//     mirroring onto both streams until Cutover actually closes the
//     source.
//   - Cutover, BookClosed: the source is frozen. Writes aimed at the old
//     stream are rejected; reads redirect to the target stream.
type RoutedStore struct {
	data    datastore.DataStore
	docs    datastore.DocumentStore
	routing RoutingTable
	log     logging.Logger
}

// NewRoutedStore builds a RoutedStore wrapping the given backing store.
func NewRoutedStore(data datastore.DataStore, docs datastore.DocumentStore, routing RoutingTable, log logging.Logger) *RoutedStore {
	if log == nil {
		log = logging.Discard
	}
	return &RoutedStore{data: data, docs: docs, routing: routing, log: log}
}

func errSourceFrozen(objectID string) error {
	return errcode.New(errcode.CodeSourceFrozen, errcode.Saga,
		fmt.Sprintf("%s: source stream is frozen for cutover, writes must target the new stream", objectID), nil)
}

// tipOf reports doc's current stream tip (-1 when empty), by reading the
// underlying store directly rather than trusting doc.Active.CurrentStreamVersion,
// which may describe a different stream than doc.Active.StreamIdentifier
// now names.
func (r *RoutedStore) tipOf(ctx context.Context, doc *document.Document) (int64, error) {
	events, err := r.data.Read(ctx, doc, 0, -1)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return -1, nil
	}
	return events[len(events)-1].EventVersion, nil
}

// redirectedDoc returns a clone of doc pointed at streamID, with
// CurrentStreamVersion set to that stream's actual tip.
func (r *RoutedStore) redirectedDoc(ctx context.Context, doc *document.Document, streamID string) (*document.Document, error) {
	out := doc.Clone()
	out.Active.StreamIdentifier = streamID
	tip, err := r.tipOf(ctx, out)
	if err != nil {
		return nil, err
	}
	out.Active.CurrentStreamVersion = tip
	return out, nil
}

// Append implements datastore.DataStore.
func (r *RoutedStore) Append(ctx context.Context, doc *document.Document, events []event.Event, opts datastore.AppendOptions) error {
	entry, ok, err := r.routing.Get(ctx, doc.ObjectID)
	if err != nil {
		return fmt.Errorf("migration: routed append: consult routing table for %s: %w", doc.ObjectID, err)
	}
	if !ok || entry.Phase == Normal {
		return r.data.Append(ctx, doc, events, opts)
	}

	if entry.Phase >= Cutover && doc.Active.StreamIdentifier == entry.OldStream {
		return errSourceFrozen(doc.ObjectID)
	}

	if err := r.data.Append(ctx, doc, events, opts); err != nil {
		return err
	}

	if entry.Phase != DualWrite && entry.Phase != DualRead {
		return nil
	}

	mirrorStream := entry.NewStream
	if doc.Active.StreamIdentifier == entry.NewStream {
		mirrorStream = entry.OldStream
	}
	mirrorDoc, err := r.redirectedDoc(ctx, doc, mirrorStream)
	if err != nil {
		r.log.Printf("migration: routed append: mirror tip lookup onto %s failed for %s/%s: %v", mirrorStream, doc.ObjectName, doc.ObjectID, err)
		return nil
	}
	mirrored := make([]event.Event, len(events))
	for i, e := range events {
		e.EventVersion = mirrorDoc.Active.CurrentStreamVersion + 1 + int64(i)
		mirrored[i] = e
	}
	mirrorOpts := datastore.AppendOptions{ExpectedTip: mirrorDoc.Active.CurrentStreamVersion}
	if err := r.data.Append(ctx, mirrorDoc, mirrored, mirrorOpts); err != nil {
		// Never fatal: CopyTransform/Cutover's drain retry loop is the
		// backstop that reconciles whatever a missed mirror leaves behind.
		r.log.Printf("migration: routed append: mirror write onto %s failed for %s/%s: %v", mirrorStream, doc.ObjectName, doc.ObjectID, err)
	}
	return nil
}

// routedReadDoc resolves which stream ordinary reads should observe.
func (r *RoutedStore) routedReadDoc(ctx context.Context, doc *document.Document) (*document.Document, error) {
	entry, ok, err := r.routing.Get(ctx, doc.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("migration: routed read: consult routing table for %s: %w", doc.ObjectID, err)
	}
	if !ok || entry.Phase == Normal || entry.Phase == DualWrite {
		return doc, nil
	}
	if doc.Active.StreamIdentifier == entry.NewStream {
		return doc, nil
	}
	return r.redirectedDoc(ctx, doc, entry.NewStream)
}

// Read implements datastore.DataStore.
func (r *RoutedStore) Read(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) ([]event.Event, error) {
	target, err := r.routedReadDoc(ctx, doc)
	if err != nil {
		return nil, err
	}
	return r.data.Read(ctx, target, fromVersion, untilVersion)
}

// ReadStream implements datastore.DataStore.
func (r *RoutedStore) ReadStream(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) (datastore.EventIterator, error) {
	target, err := r.routedReadDoc(ctx, doc)
	if err != nil {
		return nil, err
	}
	return r.data.ReadStream(ctx, target, fromVersion, untilVersion)
}

// RemoveEventsForFailedCommit implements datastore.DataStore. Repair acts
// on whichever stream doc currently names; it is an operator recovery
// path, not ordinary traffic, so it is never redirected by routing.
func (r *RoutedStore) RemoveEventsForFailedCommit(ctx context.Context, doc *document.Document, from, to int64) (int64, error) {
	return r.data.RemoveEventsForFailedCommit(ctx, doc, from, to)
}

// Load implements datastore.DocumentStore. Object documents are never
// rewritten by routing: the saga's CloseBooks step is the only thing
// that repoints doc.Active at the new stream.
func (r *RoutedStore) Load(ctx context.Context, objectName, objectID string) (*document.Document, error) {
	return r.docs.Load(ctx, objectName, objectID)
}

// Save implements datastore.DocumentStore.
func (r *RoutedStore) Save(ctx context.Context, doc *document.Document) error {
	return r.docs.Save(ctx, doc)
}

var _ datastore.DataStore = (*RoutedStore)(nil)
var _ datastore.DocumentStore = (*RoutedStore)(nil)
