package migration_test

import (
	"context"
	"testing"

	"github.com/nullstream/eventstream/migration"
	"github.com/nullstream/eventstream/migration/lock"
)

func TestTableEnforcesMonotonicPhases(t *testing.T) {
	ctx := context.Background()
	table := migration.NewTable()

	if err := table.Create(ctx, migration.RoutingEntry{ObjectID: "42"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := table.Create(ctx, migration.RoutingEntry{ObjectID: "42"}); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}

	if err := table.Advance(ctx, "42", migration.DualWrite); err != nil {
		t.Fatalf("unexpected advance error: %v", err)
	}
	if err := table.Advance(ctx, "42", migration.Normal); err == nil {
		t.Fatalf("expected regression to Normal to fail")
	}

	entry, found, err := table.Get(ctx, "42")
	if err != nil || !found {
		t.Fatalf("expected entry found, err=%v", err)
	}
	if entry.Phase != migration.DualWrite {
		t.Fatalf("expected phase DualWrite, got %v", entry.Phase)
	}

	if err := table.Remove(ctx, "42"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if _, found, _ := table.Get(ctx, "42"); found {
		t.Fatalf("expected entry removed")
	}
}

func TestLockKeySanitization(t *testing.T) {
	got := lock.SanitizeKey("Order/42#v2:backup")
	want := "Order-42-v2-backup.lock"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
