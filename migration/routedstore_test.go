package migration_test

import (
	"context"
	"testing"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/migration"
)

func appendOne(t *testing.T, store datastore.DataStore, doc *document.Document, expectedTip int64, payload string) {
	t.Helper()
	err := store.Append(context.Background(), doc, []event.Event{{
		EventType:    "Noted",
		EventVersion: expectedTip + 1,
		Payload:      []byte(payload),
	}}, datastore.AppendOptions{ExpectedTip: expectedTip})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	doc.Active.CurrentStreamVersion = expectedTip + 1
}

func TestRoutedStorePassesThroughWithoutRoutingEntry(t *testing.T) {
	backing := memstore.New()
	routed := migration.NewRoutedStore(backing, backing, migration.NewTable(), nil)
	doc := document.New("Account", "acct-1", "Account/acct-1", "account")

	appendOne(t, routed, doc, -1, `{"v":1}`)

	events, err := routed.Read(context.Background(), doc, 0, -1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestRoutedStoreMirrorsWritesDuringDualWrite(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	table := migration.NewTable()
	routed := migration.NewRoutedStore(backing, backing, table, nil)

	doc := document.New("Account", "acct-2", "Account/acct-2/old", "account")
	appendOne(t, routed, doc, -1, `{"v":1}`)

	if err := table.Create(ctx, migration.RoutingEntry{
		ObjectID: "acct-2", Phase: migration.Normal,
		OldStream: "Account/acct-2/old", NewStream: "Account/acct-2/new",
	}); err != nil {
		t.Fatalf("create routing entry: %v", err)
	}
	if err := table.Advance(ctx, "acct-2", migration.DualWrite); err != nil {
		t.Fatalf("advance to DualWrite: %v", err)
	}

	appendOne(t, routed, doc, 0, `{"v":2}`)

	newDoc := doc.Clone()
	newDoc.Active.StreamIdentifier = "Account/acct-2/new"
	mirrored, err := backing.Read(ctx, newDoc, 0, -1)
	if err != nil {
		t.Fatalf("read mirrored stream: %v", err)
	}
	if len(mirrored) != 1 {
		t.Fatalf("expected the DualWrite-phase event mirrored onto the new stream, got %d events", len(mirrored))
	}

	oldEvents, err := backing.Read(ctx, doc, 0, -1)
	if err != nil {
		t.Fatalf("read old stream: %v", err)
	}
	if len(oldEvents) != 2 {
		t.Fatalf("expected both events still on the old stream, got %d", len(oldEvents))
	}
}

func TestRoutedStoreRedirectsReadsDuringDualRead(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	table := migration.NewTable()
	routed := migration.NewRoutedStore(backing, backing, table, nil)

	doc := document.New("Account", "acct-3", "Account/acct-3/old", "account")

	newDoc := doc.Clone()
	newDoc.Active.StreamIdentifier = "Account/acct-3/new"
	appendOne(t, backing, newDoc, -1, `{"v":"copied"}`)

	if err := table.Create(ctx, migration.RoutingEntry{
		ObjectID: "acct-3", Phase: migration.Normal,
		OldStream: "Account/acct-3/old", NewStream: "Account/acct-3/new",
	}); err != nil {
		t.Fatalf("create routing entry: %v", err)
	}
	if err := table.Advance(ctx, "acct-3", migration.DualWrite); err != nil {
		t.Fatalf("advance to DualWrite: %v", err)
	}
	if err := table.Advance(ctx, "acct-3", migration.DualRead); err != nil {
		t.Fatalf("advance to DualRead: %v", err)
	}

	events, err := routed.Read(ctx, doc, 0, -1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(events) != 1 || string(events[0].Payload) != `{"v":"copied"}` {
		t.Fatalf("expected the routed read to observe the new stream, got %+v", events)
	}
}

func TestRoutedStoreRejectsWritesToFrozenSourceAtCutover(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	table := migration.NewTable()
	routed := migration.NewRoutedStore(backing, backing, table, nil)

	doc := document.New("Account", "acct-4", "Account/acct-4/old", "account")

	if err := table.Create(ctx, migration.RoutingEntry{
		ObjectID: "acct-4", Phase: migration.Normal,
		OldStream: "Account/acct-4/old", NewStream: "Account/acct-4/new",
	}); err != nil {
		t.Fatalf("create routing entry: %v", err)
	}
	for _, phase := range []migration.Phase{migration.DualWrite, migration.DualRead, migration.Cutover} {
		if err := table.Advance(ctx, "acct-4", phase); err != nil {
			t.Fatalf("advance to %v: %v", phase, err)
		}
	}

	err := routed.Append(ctx, doc, []event.Event{{EventType: "Noted", EventVersion: 0, Payload: []byte(`{}`)}},
		datastore.AppendOptions{ExpectedTip: -1})
	if err == nil {
		t.Fatalf("expected write to the frozen source stream to be rejected during Cutover")
	}
}
