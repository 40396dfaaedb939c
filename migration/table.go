package migration

import (
	"context"
	"sync"
	"time"

	"github.com/nullstream/eventstream/errcode"
)

// Table is an in-process RoutingTable, suitable for the worked example
// and tests; a real deployment backs RoutingTable with the same
// document-container convention C2 uses (one JSON blob per object_id).
type Table struct {
	mu      sync.Mutex
	entries map[string]RoutingEntry
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{entries: make(map[string]RoutingEntry)}
}

func (t *Table) Get(ctx context.Context, objectID string) (RoutingEntry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[objectID]
	return e, ok, nil
}

func (t *Table) Create(ctx context.Context, entry RoutingEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[entry.ObjectID]; exists {
		return errcode.New(errcode.CodePhaseRegression, errcode.Saga,
			entry.ObjectID+": routing entry already exists", nil)
	}
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now
	t.entries[entry.ObjectID] = entry
	return nil
}

func (t *Table) Advance(ctx context.Context, objectID string, next Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[objectID]
	if !ok {
		return errcode.New(errcode.CodePhaseRegression, errcode.Saga, objectID+": no routing entry", nil)
	}
	if next <= e.Phase {
		return errPhaseRegression(objectID, e.Phase, next)
	}
	e.Phase = next
	e.UpdatedAt = time.Now().UTC()
	t.entries[objectID] = e
	return nil
}

func (t *Table) Remove(ctx context.Context, objectID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, objectID)
	return nil
}

var _ RoutingTable = (*Table)(nil)
