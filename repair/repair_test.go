package repair_test

import (
	"context"
	"testing"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/engine"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/repair"
)

func TestRepairClearsBrokenRangeS3(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Order", "42", "main", "order")

	store.SimulatePartialWriteAfter("Order", "42", "main", 2)
	batch := []event.Event{
		{EventType: "ItemAdded"},
		{EventType: "ItemAdded"},
		{EventType: "Shipped"},
		{EventType: "Closed"},
	}
	if _, err := eng.AppendBatch(ctx, doc, batch); err == nil {
		t.Fatalf("expected partial commit error")
	}
	if !doc.Active.IsBroken {
		t.Fatalf("expected document marked broken")
	}
	if doc.Active.BrokenInfo.OrphanedFromVersion != 0 || doc.Active.BrokenInfo.OrphanedToVersion != 1 {
		t.Fatalf("unexpected broken range: %+v", doc.Active.BrokenInfo)
	}

	svc := repair.New(store, store, nil)
	if err := svc.Repair(ctx, doc); err != nil {
		t.Fatalf("unexpected repair error: %v", err)
	}
	if doc.Active.IsBroken {
		t.Fatalf("expected document no longer broken")
	}
	if len(doc.Active.RollbackHistory) != 1 || doc.Active.RollbackHistory[0].EventsRemoved != 2 {
		t.Fatalf("unexpected rollback history: %+v", doc.Active.RollbackHistory)
	}

	events, err := store.Read(ctx, doc, 0, -1)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected orphaned events removed, got %d", len(events))
	}

	if _, err := eng.AppendBatch(ctx, doc, []event.Event{{EventType: "ItemAdded"}}); err != nil {
		t.Fatalf("expected stream to accept writes after repair: %v", err)
	}
}

func TestRepairWithMarkerAppendsVisibleEvent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	doc := document.New("Order", "7", "main", "order")

	store.SimulatePartialWriteAfter("Order", "7", "main", 1)
	if err := store.Append(ctx, doc, []event.Event{{EventType: "A", EventVersion: 0}, {EventType: "B", EventVersion: 1}}, datastore.AppendOptions{ExpectedTip: -1}); err == nil {
		t.Fatalf("expected partial write error")
	}
	_ = doc.MarkBroken(0, 0, "simulated")
	doc.Active.CurrentStreamVersion = 0

	svc := repair.New(store, store, nil)
	marker := func(removed int64) event.Event {
		return event.Event{EventType: "EventsRolledBack", Metadata: map[string]string{"removed": "1"}}
	}
	if err := svc.RepairRange(ctx, doc, 0, 0, "simulated", marker); err != nil {
		t.Fatalf("unexpected repair error: %v", err)
	}

	events, err := store.Read(ctx, doc, 0, -1)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "EventsRolledBack" {
		t.Fatalf("expected a single rollback marker event, got %+v", events)
	}
}
