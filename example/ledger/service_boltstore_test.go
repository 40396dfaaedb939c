package ledger_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/datastore/boltstore"
	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/example/ledger"
)

// memSnapshotStore is a minimal in-process snapshot.Store, the same
// pattern snapshot_test.go uses, letting both backend variants below
// exercise snapshot materialization without needing a real sink.
type memSnapshotStore struct {
	data map[string][]byte
}

func (s *memSnapshotStore) key(object, id, name string, version int64) string {
	return fmt.Sprintf("%s/%s/%s/%d", object, id, name, version)
}

func (s *memSnapshotStore) Save(ctx context.Context, objectName, objectID, name string, version int64, state []byte) error {
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[s.key(objectName, objectID, name, version)] = state
	return nil
}

func (s *memSnapshotStore) Load(ctx context.Context, objectName, objectID, name string, version int64) ([]byte, bool) {
	data, ok := s.data[s.key(objectName, objectID, name, version)]
	return data, ok
}

// backendFixtures registers the DataStore/DocumentStore backends a
// worked-example integration test should run against.
var backendFixtures = []struct {
	name  string
	build func(t *testing.T) (datastore.DataStore, datastore.DocumentStore)
}{
	{
		name: "memstore",
		build: func(t *testing.T) (datastore.DataStore, datastore.DocumentStore) {
			store := memstore.New()
			return store, store
		},
	},
	{
		name: "boltstore",
		build: func(t *testing.T) (datastore.DataStore, datastore.DocumentStore) {
			store, err := boltstore.Open(t.TempDir() + "/ledger.bolt")
			if err != nil {
				t.Fatalf("open bolt store: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store, store
		},
	},
}

// TestServiceBasicAppendReadAcrossBackends exercises the basic
// append/read path (create an account, deposit, read the balance and
// history back) against every registered DataStore backend.
func TestServiceBasicAppendReadAcrossBackends(t *testing.T) {
	for _, fx := range backendFixtures {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			data, docs := fx.build(t)
			svc, err := ledger.New(ledger.Config{Data: data, Docs: docs})
			if err != nil {
				t.Fatalf("new service: %v", err)
			}

			id, err := svc.CreateAccount(ctx, "alice", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.NewFromInt(100)})
			if err != nil {
				t.Fatalf("create account: %v", err)
			}
			if err := svc.Deposit(ctx, id, decimal.NewFromInt(50), ledger.USD); err != nil {
				t.Fatalf("deposit: %v", err)
			}

			balances, err := svc.GetCurrentBalance(ctx, id, nil)
			if err != nil {
				t.Fatalf("get balance: %v", err)
			}
			if got := balances[ledger.USD]; !got.Equal(decimal.NewFromInt(150)) {
				t.Fatalf("expected balance 150, got %s", got.String())
			}

			history, err := svc.GetTransactionHistory(ctx, id, 0, 0)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(history) != 2 {
				t.Fatalf("expected 2 events (create + deposit), got %d", len(history))
			}
		})
	}
}

// TestServiceSnapshotCrossingAcrossBackends exercises snapshot
// materialization and post-snapshot replay against every registered
// DataStore backend.
func TestServiceSnapshotCrossingAcrossBackends(t *testing.T) {
	for _, fx := range backendFixtures {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			data, docs := fx.build(t)
			snaps := &memSnapshotStore{}
			svc, err := ledger.New(ledger.Config{Data: data, Docs: docs, Snapshots: snaps})
			if err != nil {
				t.Fatalf("new service: %v", err)
			}

			id, err := svc.CreateAccount(ctx, "snapshot-subject", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.Zero})
			if err != nil {
				t.Fatalf("create account: %v", err)
			}
			for i := 0; i < ledger.SnapshotFrequency+5; i++ {
				if err := svc.Deposit(ctx, id, decimal.NewFromInt(1), ledger.USD); err != nil {
					t.Fatalf("deposit %d: %v", i, err)
				}
			}

			doc, err := docs.Load(ctx, "Account", id)
			if err != nil {
				t.Fatalf("load document: %v", err)
			}
			if len(doc.Active.Snapshots) == 0 {
				t.Fatalf("expected at least one snapshot to have materialized past the interval")
			}

			balances, err := svc.GetCurrentBalance(ctx, id, nil)
			if err != nil {
				t.Fatalf("get balance: %v", err)
			}
			if got := balances[ledger.USD]; !got.Equal(decimal.NewFromInt(ledger.SnapshotFrequency + 5)) {
				t.Fatalf("expected balance %d, got %s", ledger.SnapshotFrequency+5, got.String())
			}
		})
	}
}
