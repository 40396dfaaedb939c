// Package document models the Object Document: the persisted metadata
// that locates an aggregate's active stream, its chunk and snapshot
// state, and its broken-stream/rollback history, per spec.md §3.2-3.3.
package document

import (
	"fmt"
	"sort"
	"time"

	"github.com/nullstream/eventstream/errcode"
)

// SnapshotRef is one entry in a stream's ordered snapshot list.
type SnapshotRef struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// BrokenInfo records the orphaned range left by a partial commit.
type BrokenInfo struct {
	OrphanedFromVersion int64     `json:"orphanedFromVersion"`
	OrphanedToVersion   int64     `json:"orphanedToVersion"`
	ErrorMessage        string    `json:"errorMessage"`
	BrokenAt            time.Time `json:"brokenAt"`
}

// RollbackRecord is one append-only audit entry left by the repair
// service when it clears a broken stream.
type RollbackRecord struct {
	RolledBackAt  time.Time `json:"rolledBackAt"`
	FromVersion   int64     `json:"fromVersion"`
	ToVersion     int64     `json:"toVersion"`
	EventsRemoved int64     `json:"eventsRemoved"`
	OriginalError string    `json:"originalError"`
}

// ChunkSettings configures stream chunking. ChunkSize is immutable for
// the stream's lifetime once the stream is created.
type ChunkSettings struct {
	ChunksEnabled     bool  `json:"chunksEnabled"`
	ChunkSize         int64 `json:"chunkSize"`
	ChunkIndexCeiling int64 `json:"chunkIndexCeiling"`
}

// StreamInformation is the active-stream metadata record embedded in a
// Document, per spec.md §3.2.
type StreamInformation struct {
	StreamIdentifier      string            `json:"streamIdentifier"`
	StreamType            string            `json:"streamType"`
	CurrentStreamVersion  int64             `json:"currentStreamVersion"`
	ChunkSettings         ChunkSettings     `json:"chunkSettings"`
	Snapshots             []SnapshotRef     `json:"snapshots"`
	IsBroken              bool              `json:"isBroken"`
	BrokenInfo            *BrokenInfo       `json:"brokenInfo,omitempty"`
	RollbackHistory       []RollbackRecord  `json:"rollbackHistory,omitempty"`
}

// WithSnapshot returns a copy of si with a new snapshot reference
// appended, keeping the list sorted ascending by version.
func (si StreamInformation) WithSnapshot(name string, version int64) StreamInformation {
	out := si
	out.Snapshots = append(append([]SnapshotRef(nil), si.Snapshots...), SnapshotRef{Name: name, Version: version})
	sort.Slice(out.Snapshots, func(i, j int) bool { return out.Snapshots[i].Version < out.Snapshots[j].Version })
	return out
}

// LatestSnapshotAtOrBelow returns the highest snapshot with Version <=
// until, if any.
func (si StreamInformation) LatestSnapshotAtOrBelow(until int64) (SnapshotRef, bool) {
	var best SnapshotRef
	found := false
	for _, s := range si.Snapshots {
		if s.Version <= until && (!found || s.Version > best.Version) {
			best = s
			found = true
		}
	}
	return best, found
}

// Document is the per-aggregate metadata record: object name/id, its
// single active stream, and any closed streams retained as history from
// prior migrations (spec.md §3.3).
type Document struct {
	ObjectName    string              `json:"objectName"`
	ObjectID      string              `json:"objectId"`
	SchemaVersion int                 `json:"schemaVersion"`
	Active        StreamInformation   `json:"active"`
	PriorStreams  []StreamInformation `json:"priorStreams,omitempty"`
}

// New creates a fresh document with an empty active stream at version -1
// (spec.md §3.2 invariant: current_stream_version >= -1, -1 when empty).
func New(objectName, objectID, streamIdentifier, streamType string) *Document {
	return &Document{
		ObjectName:    objectName,
		ObjectID:      objectID,
		SchemaVersion: 1,
		Active: StreamInformation{
			StreamIdentifier:     streamIdentifier,
			StreamType:           streamType,
			CurrentStreamVersion: -1,
			ChunkSettings:        ChunkSettings{ChunksEnabled: false, ChunkSize: 1},
		},
	}
}

// Clone performs a deep copy so readers can take a consistent snapshot
// without aliasing the stream engine's internal state (spec.md §3.3
// "readers take a consistent snapshot").
func (d *Document) Clone() *Document {
	out := *d
	out.Active.Snapshots = append([]SnapshotRef(nil), d.Active.Snapshots...)
	out.Active.RollbackHistory = append([]RollbackRecord(nil), d.Active.RollbackHistory...)
	if d.Active.BrokenInfo != nil {
		bi := *d.Active.BrokenInfo
		out.Active.BrokenInfo = &bi
	}
	out.PriorStreams = append([]StreamInformation(nil), d.PriorStreams...)
	return &out
}

// WithSnapshot appends a snapshot reference to the active stream.
func (d *Document) WithSnapshot(name string, version int64) {
	d.Active = d.Active.WithSnapshot(name, version)
}

// MarkBroken records an orphaned-event range from a failed commit.
// Requires the stream is not currently broken.
func (d *Document) MarkBroken(from, to int64, reason string) error {
	if d.Active.IsBroken {
		return errcode.New(errcode.CodeStreamBroken, errcode.PartialFailure,
			fmt.Sprintf("stream %s is already broken", d.Active.StreamIdentifier), nil)
	}
	d.Active.IsBroken = true
	d.Active.BrokenInfo = &BrokenInfo{
		OrphanedFromVersion: from,
		OrphanedToVersion:   to,
		ErrorMessage:        reason,
		BrokenAt:            time.Now().UTC(),
	}
	return nil
}

// ClearBroken clears the broken marker and appends a rollback record.
// Requires the stream is currently broken.
func (d *Document) ClearBroken(record RollbackRecord) error {
	if !d.Active.IsBroken {
		return errcode.New(errcode.CodeStreamBroken, errcode.Validation,
			fmt.Sprintf("stream %s is not broken", d.Active.StreamIdentifier), nil)
	}
	d.Active.IsBroken = false
	d.Active.BrokenInfo = nil
	d.Active.RollbackHistory = append(d.Active.RollbackHistory, record)
	return nil
}
