// Package migration implements the migration routing table and the
// 6-step saga (spec.md §4.10): phase-aware read/write routing, a
// distributed lock scoped to the saga, and a resumable, rollback-capable
// workflow that moves one object from an old stream to a new one.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nullstream/eventstream/errcode"
)

// Phase is one of the five strictly monotonic migration phases.
type Phase int

const (
	Normal Phase = iota
	DualWrite
	DualRead
	Cutover
	BookClosed
)

func (p Phase) String() string {
	switch p {
	case Normal:
		return "Normal"
	case DualWrite:
		return "DualWrite"
	case DualRead:
		return "DualRead"
	case Cutover:
		return "Cutover"
	case BookClosed:
		return "BookClosed"
	default:
		return "Unknown"
	}
}

// RoutingEntry is the per-object migration record, wire-formatted per
// spec.md §4.10: stored at `{object_id}.routing.json`.
type RoutingEntry struct {
	ObjectID    string    `json:"objectId"`
	Phase       Phase     `json:"-"`
	OldStream   string    `json:"oldStream"`
	NewStream   string    `json:"newStream"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	MigrationID string    `json:"migrationId"`
}

// MarshalJSON emits Phase as its literal name, per spec.md §4.10's wire
// format ("phase (one of the five literal names)").
func (r RoutingEntry) MarshalJSON() ([]byte, error) {
	type wire struct {
		ObjectID    string    `json:"objectId"`
		Phase       string    `json:"phase"`
		OldStream   string    `json:"oldStream"`
		NewStream   string    `json:"newStream"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
		MigrationID string    `json:"migrationId"`
	}
	return json.Marshal(wire{
		ObjectID: r.ObjectID, Phase: r.Phase.String(), OldStream: r.OldStream,
		NewStream: r.NewStream, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		MigrationID: r.MigrationID,
	})
}

// RoutingTable tracks one RoutingEntry per object, enforcing monotonic
// phase advancement. Implementations must be safe for concurrent use;
// the in-process Table here backs tests and the single-node worked
// example.
type RoutingTable interface {
	// Get returns the routing entry for objectID, or ok=false when none
	// exists (caller treats absence as Normal per spec.md §4.10).
	Get(ctx context.Context, objectID string) (RoutingEntry, bool, error)
	// Create installs a fresh entry at phase Normal-or-DualWrite, failing
	// if one already exists for objectID.
	Create(ctx context.Context, entry RoutingEntry) error
	// Advance moves objectID to next, failing with CodePhaseRegression if
	// next <= the entry's current phase.
	Advance(ctx context.Context, objectID string, next Phase) error
	// Remove deletes the entry, used after BookClosed or an aborted
	// rollback.
	Remove(ctx context.Context, objectID string) error
}

func errPhaseRegression(objectID string, from, to Phase) error {
	return errcode.New(errcode.CodePhaseRegression, errcode.Saga,
		fmt.Sprintf("%s: cannot move from %s to %s", objectID, from, to), nil)
}
