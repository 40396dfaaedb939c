// Package repair implements the repair service (spec.md §4.11): clearing
// a broken stream left by a partial commit, by removing the orphaned
// event range, recording a rollback entry, and persisting the document.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/internal/logging"
)

// Marker, when non-nil, is appended to the repaired stream as a visible
// audit event after the broken range is cleared (spec.md §4.11 "optional
// visible marker").
type Marker func(removed int64) event.Event

// Service clears broken streams against one DataStore/DocumentStore pair.
type Service struct {
	data datastore.DataStore
	docs datastore.DocumentStore
	log  logging.Logger
}

// New builds a Service.
func New(data datastore.DataStore, docs datastore.DocumentStore, log logging.Logger) *Service {
	if log == nil {
		log = logging.Discard
	}
	return &Service{data: data, docs: docs, log: log}
}

// Repair clears doc's recorded broken range: spec.md §4.11's default
// path, operating on broken_info.orphaned_from..orphaned_to.
func (s *Service) Repair(ctx context.Context, doc *document.Document) error {
	if !doc.Active.IsBroken || doc.Active.BrokenInfo == nil {
		return errcode.New(errcode.CodeStreamBroken, errcode.Validation,
			fmt.Sprintf("document %s/%s is not broken", doc.ObjectName, doc.ObjectID), nil)
	}
	info := doc.Active.BrokenInfo
	return s.RepairRange(ctx, doc, info.OrphanedFromVersion, info.OrphanedToVersion, info.ErrorMessage, nil)
}

// RepairRange clears an explicit [from, to] range, for manual recovery
// when the orphaned range must be narrowed or widened by an operator
// (spec.md §4.11 "explicit-range overload").
func (s *Service) RepairRange(ctx context.Context, doc *document.Document, from, to int64, originalError string, marker Marker) error {
	removed, err := s.data.RemoveEventsForFailedCommit(ctx, doc, from, to)
	if err != nil {
		return fmt.Errorf("repair: remove orphaned events for %s/%s: %w", doc.ObjectName, doc.ObjectID, err)
	}

	record := document.RollbackRecord{
		RolledBackAt:  time.Now().UTC(),
		FromVersion:   from,
		ToVersion:     to,
		EventsRemoved: removed,
		OriginalError: originalError,
	}
	if err := doc.ClearBroken(record); err != nil {
		return fmt.Errorf("repair: clear broken for %s/%s: %w", doc.ObjectName, doc.ObjectID, err)
	}
	doc.Active.CurrentStreamVersion = from - 1

	if marker != nil {
		markerEvent := marker(removed)
		markerEvent.EventVersion = doc.Active.CurrentStreamVersion + 1
		if err := s.data.Append(ctx, doc, []event.Event{markerEvent}, datastore.AppendOptions{ExpectedTip: doc.Active.CurrentStreamVersion}); err != nil {
			return fmt.Errorf("repair: append rollback marker for %s/%s: %w", doc.ObjectName, doc.ObjectID, err)
		}
		doc.Active.CurrentStreamVersion = markerEvent.EventVersion
	}

	if err := s.docs.Save(ctx, doc); err != nil {
		return fmt.Errorf("repair: save document for %s/%s: %w", doc.ObjectName, doc.ObjectID, err)
	}

	s.log.Printf("repair: cleared %s/%s orphaned range %d..%d (%d events removed)", doc.ObjectName, doc.ObjectID, from, to, removed)
	return nil
}
