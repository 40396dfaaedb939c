package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
)

// Backup freezes the source stream and document, per spec.md §4.10 step
// 1. When called directly rather than through Run, the source document
// is loaded from Config.Docs, or started fresh on Config.OldStream when
// none is stored.
func (s *Saga) Backup(ctx context.Context) error {
	if s.doc == nil {
		doc, err := s.cfg.Docs.Load(ctx, s.cfg.ObjectName, s.cfg.ObjectID)
		if errors.Is(err, datastore.ErrDocumentNotFound) {
			doc, err = document.New(s.cfg.ObjectName, s.cfg.ObjectID, s.cfg.OldStream, ""), nil
		}
		if err != nil {
			return fmt.Errorf("migration: backup load source document: %w", err)
		}
		s.mu.Lock()
		s.doc = doc
		s.mu.Unlock()
	}
	events, err := s.cfg.Data.Read(ctx, s.doc, 0, -1)
	if err != nil {
		return fmt.Errorf("migration: backup read source events: %w", err)
	}
	s.backup = BackupRecord{
		MigrationID:   s.migrationID,
		Document:      *s.doc.Clone(),
		Events:        events,
		EventCount:    int64(len(events)),
		StreamVersion: s.doc.Active.CurrentStreamVersion,
	}
	if err := s.cfg.Backups.Save(ctx, s.backup); err != nil {
		return fmt.Errorf("migration: persist backup: %w", err)
	}

	entry := RoutingEntry{ObjectID: s.cfg.ObjectID, Phase: Normal, OldStream: s.cfg.OldStream, NewStream: s.cfg.NewStream, MigrationID: s.migrationID}
	if err := s.cfg.Routing.Create(ctx, entry); err != nil {
		return fmt.Errorf("migration: create routing entry: %w", err)
	}
	return nil
}

// Analyze counts source events and projects the target version
// sequence, per spec.md §4.10 step 2.
func (s *Saga) Analyze(ctx context.Context) error {
	s.mu.Lock()
	s.totalEvents = s.backup.EventCount
	s.mu.Unlock()
	return nil
}

// CopyTransform enters DualWrite, then copies the source in ascending
// version order through the transformation pipeline onto the target
// stream, per spec.md §4.10 step 3.
func (s *Saga) CopyTransform(ctx context.Context) error {
	if err := s.cfg.Routing.Advance(ctx, s.cfg.ObjectID, DualWrite); err != nil {
		return fmt.Errorf("migration: advance to DualWrite: %w", err)
	}
	s.mu.Lock()
	s.phase = DualWrite
	s.mu.Unlock()

	return s.drain(ctx)
}

// drain copies every source event beyond the target's current tip
// through the transform, appending to the target stream. It is called
// once during CopyTransform and again during Cutover's retry loop for
// events that landed while the prior drain was running.
func (s *Saga) drain(ctx context.Context) error {
	targetDoc := s.targetDocument()
	sourceEvents, err := s.cfg.Data.Read(ctx, s.doc, targetDoc.Active.CurrentStreamVersion+1, -1)
	if err != nil {
		return fmt.Errorf("migration: drain read source: %w", err)
	}

	var outgoing []event.Event
	for _, e := range sourceEvents {
		if s.cfg.Filter != nil && !s.cfg.Filter(e) {
			continue
		}
		transformed, err := s.cfg.Transform(e)
		if err != nil {
			return fmt.Errorf("migration: transform event version %d: %w", e.EventVersion, err)
		}
		outgoing = append(outgoing, transformed...)
	}
	if len(outgoing) == 0 {
		return nil
	}

	base := targetDoc.Active.CurrentStreamVersion
	for i := range outgoing {
		outgoing[i].EventVersion = base + 1 + int64(i)
	}
	if err := s.cfg.Data.Append(ctx, targetDoc, outgoing, datastore.AppendOptions{ExpectedTip: base}); err != nil {
		return fmt.Errorf("migration: append to target stream %s: %w", s.cfg.NewStream, err)
	}
	targetDoc.Active.CurrentStreamVersion = outgoing[len(outgoing)-1].EventVersion
	s.setTargetDocument(targetDoc)

	s.mu.Lock()
	s.processed += int64(len(sourceEvents))
	s.mu.Unlock()
	return nil
}

func (s *Saga) targetDocument() *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetDoc == nil {
		s.targetDoc = document.New(s.cfg.ObjectName, s.cfg.ObjectID, s.cfg.NewStream, s.doc.Active.StreamType)
	}
	return s.targetDoc
}

func (s *Saga) setTargetDocument(d *document.Document) {
	s.mu.Lock()
	s.targetDoc = d
	s.mu.Unlock()
}

// Verify confirms every source version has a corresponding target
// version whose transformed payload matches, per spec.md §4.10 step 4.
func (s *Saga) Verify(ctx context.Context) error {
	sourceEvents, err := s.cfg.Data.Read(ctx, s.doc, 0, -1)
	if err != nil {
		return fmt.Errorf("migration: verify read source: %w", err)
	}
	targetDoc := s.targetDocument()
	targetEvents, err := s.cfg.Data.Read(ctx, targetDoc, 0, -1)
	if err != nil {
		return fmt.Errorf("migration: verify read target: %w", err)
	}

	var expected []event.Event
	for _, e := range sourceEvents {
		if s.cfg.Filter != nil && !s.cfg.Filter(e) {
			continue
		}
		transformed, err := s.cfg.Transform(e)
		if err != nil {
			return fmt.Errorf("migration: verify transform version %d: %w", e.EventVersion, err)
		}
		expected = append(expected, transformed...)
	}

	if len(expected) != len(targetEvents) {
		return errcode.New(errcode.CodeVerificationFailed, errcode.Saga,
			fmt.Sprintf("migration: verify count mismatch: expected %d, target has %d", len(expected), len(targetEvents)), nil)
	}
	for i := range expected {
		if string(expected[i].Payload) != string(targetEvents[i].Payload) || expected[i].EventType != targetEvents[i].EventType {
			return errcode.New(errcode.CodeVerificationFailed, errcode.Saga,
				fmt.Sprintf("migration: verify payload mismatch at index %d", i), nil)
		}
	}
	return nil
}

// Cutover advances to Cutover phase, closes the source to further
// writes, and drains any late-arriving events with a bounded retry, per
// spec.md §4.10 step 5.
func (s *Saga) Cutover(ctx context.Context) error {
	if err := s.cfg.Routing.Advance(ctx, s.cfg.ObjectID, DualRead); err != nil {
		return fmt.Errorf("migration: advance to DualRead: %w", err)
	}
	if err := s.cfg.Routing.Advance(ctx, s.cfg.ObjectID, Cutover); err != nil {
		return fmt.Errorf("migration: advance to Cutover: %w", err)
	}
	s.mu.Lock()
	s.phase = Cutover
	s.mu.Unlock()

	tipBefore := s.doc.Active.CurrentStreamVersion
	for attempt := 0; attempt < s.cfg.MaxCutoverRetries; attempt++ {
		if err := s.drain(ctx); err != nil {
			return fmt.Errorf("migration: cutover drain attempt %d: %w", attempt+1, err)
		}
		latest, err := s.cfg.Data.Read(ctx, s.doc, 0, -1)
		if err != nil {
			return fmt.Errorf("migration: cutover re-check source tip: %w", err)
		}
		tipNow := int64(len(latest)) - 1
		if tipNow <= tipBefore {
			return nil
		}
		s.cfg.Log.Printf("migration: source tip advanced from %d to %d during cutover, retrying drain (attempt %d/%d)", tipBefore, tipNow, attempt+1, s.cfg.MaxCutoverRetries)
		tipBefore = tipNow
	}
	return errcode.New(errcode.CodeCutoverRetryExceeds, errcode.Saga,
		fmt.Sprintf("migration: cutover exceeded %d drain retries while source kept advancing", s.cfg.MaxCutoverRetries), nil)
}

// CloseBooks repoints the object document at the new stream and advances
// routing to BookClosed, per spec.md §4.10 step 6.
func (s *Saga) CloseBooks(ctx context.Context) error {
	targetDoc := s.targetDocument()
	s.doc.Active = targetDoc.Active
	s.doc.PriorStreams = append(s.doc.PriorStreams, s.backup.Document.Active)

	if err := s.cfg.Docs.Save(ctx, s.doc); err != nil {
		return fmt.Errorf("migration: close-books save document: %w", err)
	}
	if err := s.cfg.Routing.Advance(ctx, s.cfg.ObjectID, BookClosed); err != nil {
		return fmt.Errorf("migration: advance to BookClosed: %w", err)
	}
	if err := s.cfg.Routing.Remove(ctx, s.cfg.ObjectID); err != nil {
		s.cfg.Log.Printf("migration: warning: failed to remove routing entry after BookClosed for %s: %v", s.cfg.ObjectID, err)
	}
	s.mu.Lock()
	s.phase = BookClosed
	s.mu.Unlock()
	return nil
}
