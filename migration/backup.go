package migration

import (
	"context"
	"time"

	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/event"
)

// BackupRecord is a frozen copy of the source stream at migration start,
// per spec.md §3.6. Immutable once created.
type BackupRecord struct {
	MigrationID string
	CreatedAt   time.Time
	Document    document.Document
	Events      []event.Event
	EventCount  int64
	StreamVersion int64
}

// BackupStore persists BackupRecords, keyed by migration id.
type BackupStore interface {
	Save(ctx context.Context, record BackupRecord) error
	Load(ctx context.Context, migrationID string) (BackupRecord, bool, error)
}

// MemoryBackupStore is an in-process BackupStore for tests and the
// single-node worked example.
type MemoryBackupStore struct {
	records map[string]BackupRecord
}

// NewMemoryBackupStore returns an empty store.
func NewMemoryBackupStore() *MemoryBackupStore {
	return &MemoryBackupStore{records: make(map[string]BackupRecord)}
}

func (s *MemoryBackupStore) Save(ctx context.Context, record BackupRecord) error {
	s.records[record.MigrationID] = record
	return nil
}

func (s *MemoryBackupStore) Load(ctx context.Context, migrationID string) (BackupRecord, bool, error) {
	r, ok := s.records[migrationID]
	return r, ok, nil
}

var _ BackupStore = (*MemoryBackupStore)(nil)
