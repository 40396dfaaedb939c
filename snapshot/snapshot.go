// Package snapshot implements the snapshot manager (spec.md §4.9):
// interval policy, materialize/restore, and the durability-before-
// visibility rule (a snapshot write must be durable before the document
// advertises it).
package snapshot

import (
	"context"
	"fmt"

	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/registry"
)

// Store persists snapshot bytes keyed by (object, id, name, version),
// separate from DataStore/DocumentStore per spec.md §1 (projection/
// snapshot sinks are external collaborators).
type Store interface {
	Save(ctx context.Context, objectName, objectID, name string, version int64, state []byte) error
	// Load returns found=false (not an error) when the bytes are absent
	// or unreadable; callers must fall back to full replay, per spec.md
	// §4.9's correctness rule.
	Load(ctx context.Context, objectName, objectID, name string, version int64) (state []byte, found bool)
}

// Policy decides when to snapshot after a commit.
type Policy struct {
	Name     string
	Interval int64
}

// ShouldSnapshot implements spec.md §4.9: committed.max_version -
// last_snapshot_version >= interval.
func (p Policy) ShouldSnapshot(committedMaxVersion int64, lastSnapshotVersion int64) bool {
	if p.Interval <= 0 {
		return false
	}
	return committedMaxVersion-lastSnapshotVersion >= p.Interval
}

// Manager ties a Policy to a Store and the object document's snapshot
// list.
type Manager struct {
	store  Store
	policy Policy
	codec  registry.Codec
}

// New builds a Manager. codec defaults to registry.JSONCodec.
func New(store Store, policy Policy, codec registry.Codec) *Manager {
	if codec == nil {
		codec = registry.JSONCodec{}
	}
	return &Manager{store: store, policy: policy, codec: codec}
}

// MaterializeIfDue writes a snapshot of state if the policy says it is
// due, and only then appends the snapshot reference to doc (spec.md
// §4.9: "write snapshot to the snapshot store then update the object
// document's snapshot list").
func (m *Manager) MaterializeIfDue(ctx context.Context, doc *document.Document, committedMaxVersion int64, state any) error {
	lastVersion := int64(-1)
	if len(doc.Active.Snapshots) > 0 {
		lastVersion = doc.Active.Snapshots[len(doc.Active.Snapshots)-1].Version
	}
	if !m.policy.ShouldSnapshot(committedMaxVersion, lastVersion) {
		return nil
	}

	data, err := m.codec.Encode(state)
	if err != nil {
		return fmt.Errorf("snapshot: encode state: %w", err)
	}
	if err := m.store.Save(ctx, doc.ObjectName, doc.ObjectID, m.policy.Name, committedMaxVersion, data); err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	doc.WithSnapshot(m.policy.Name, committedMaxVersion)
	return nil
}

// Restore loads the highest snapshot at or below until and decodes it
// into dest. found is false (not an error) when no usable snapshot
// exists, per spec.md §4.9's fallback rule.
func (m *Manager) Restore(ctx context.Context, doc *document.Document, until int64, dest any) (version int64, found bool) {
	ref, ok := doc.Active.LatestSnapshotAtOrBelow(until)
	if !ok {
		return 0, false
	}
	data, ok := m.store.Load(ctx, doc.ObjectName, doc.ObjectID, ref.Name, ref.Version)
	if !ok {
		return 0, false
	}
	if err := m.codec.Decode(data, dest); err != nil {
		return 0, false
	}
	return ref.Version, true
}
