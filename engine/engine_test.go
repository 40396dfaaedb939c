package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/engine"
	"github.com/nullstream/eventstream/event"
)

func newEvents(types ...string) []event.Event {
	out := make([]event.Event, len(types))
	for i, t := range types {
		out[i] = event.Event{EventType: t, SchemaVersion: 1, Payload: []byte("{}")}
	}
	return out
}

// S1 — Basic append/read (spec.md §8).
func TestAppendBatchAndReadS1(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Order", "42", "main", "memory")

	res, err := eng.AppendBatch(ctx, doc, newEvents("A", "B", "C"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FirstVersion != 0 || res.LastVersion != 2 {
		t.Fatalf("expected versions 0..2, got %d..%d", res.FirstVersion, res.LastVersion)
	}
	if doc.Active.CurrentStreamVersion != 2 {
		t.Fatalf("expected document tip 2, got %d", doc.Active.CurrentStreamVersion)
	}

	got, _, err := eng.Read(ctx, doc, 0, -1)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, e := range got {
		if e.EventVersion != int64(i) {
			t.Fatalf("invariant 1 violated: gap/duplicate at index %d: version %d", i, e.EventVersion)
		}
	}
}

// S2 — Concurrency conflict and successful retry (spec.md §8).
func TestConcurrencyConflictS2(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Order", "42", "main", "memory")

	if _, err := eng.AppendBatch(ctx, doc, newEvents("A", "B", "C")); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}

	// Two independent in-memory copies of the document both observe tip 2.
	docA := doc.Clone()
	docB := doc.Clone()

	if _, err := eng.AppendBatch(ctx, docA, newEvents("D")); err != nil {
		t.Fatalf("first committer should succeed: %v", err)
	}
	if docA.Active.CurrentStreamVersion != 3 {
		t.Fatalf("expected tip 3 after first D, got %d", docA.Active.CurrentStreamVersion)
	}

	_, err := eng.AppendBatch(ctx, docB, newEvents("D"))
	var conflict *datastore.ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if conflict.Expected != 2 || conflict.Actual != 3 {
		t.Fatalf("expected conflict{2,3}, got %+v", conflict)
	}
	// Invariant 3: tip unchanged, no batch event readable beyond what committed.
	if docB.Active.CurrentStreamVersion != 2 {
		t.Fatalf("expected docB's local tip untouched at 2, got %d", docB.Active.CurrentStreamVersion)
	}

	// Re-load, re-append.
	docB.Active.CurrentStreamVersion = docA.Active.CurrentStreamVersion
	if _, err := eng.AppendBatch(ctx, docB, newEvents("D'")); err != nil {
		t.Fatalf("retried append failed: %v", err)
	}

	final, _, err := eng.Read(ctx, docB, 0, -1)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	wantTypes := []string{"A", "B", "C", "D", "D'"}
	if len(final) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(final))
	}
	for i, w := range wantTypes {
		if final[i].EventType != w {
			t.Fatalf("expected %s at %d, got %s", w, i, final[i].EventType)
		}
	}
}

// S3 — Partial-failure repair (spec.md §8).
func TestPartialFailureMarksBrokenS3(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Order", "42", "main", "memory")

	if _, err := eng.AppendBatch(ctx, doc, newEvents("e0", "e1", "e2", "e3", "e4")); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}

	store.SimulatePartialWriteAfter("Order", "42", "main", 2)
	_, err := eng.AppendBatch(ctx, doc, newEvents("e5", "e6", "e7", "e8", "e9"))
	if err == nil {
		t.Fatalf("expected partial commit error")
	}

	if !doc.Active.IsBroken {
		t.Fatalf("expected document marked broken")
	}
	if doc.Active.BrokenInfo.OrphanedFromVersion != 5 || doc.Active.BrokenInfo.OrphanedToVersion != 6 {
		t.Fatalf("expected orphaned range 5..6, got %+v", doc.Active.BrokenInfo)
	}

	_, err = eng.AppendBatch(ctx, doc, newEvents("x"))
	if !errors.Is(err, engine.ErrStreamBroken) {
		t.Fatalf("expected ErrStreamBroken on broken stream, got %v", err)
	}
}
