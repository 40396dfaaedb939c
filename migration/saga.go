package migration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/internal/logging"
	"github.com/nullstream/eventstream/migration/lock"
)

// Transform converts one source event into zero or more target events,
// composable with an optional Filter (spec.md §4.10 step 3).
type Transform func(e event.Event) ([]event.Event, error)

// Filter decides whether a source event is copied at all, applied before
// Transform.
type Filter func(e event.Event) bool

// Identity is the default Transform: copy the event unchanged.
func Identity(e event.Event) ([]event.Event, error) { return []event.Event{e}, nil }

// Progress is a non-authoritative, advisory snapshot of saga state
// (spec.md §4.10 "Progress reporting"). Run emits one after each step,
// repeatedly while paused, and on failure; there is no time-based
// sampling and Config.ProgressInterval is not read. A snapshot is dropped
// when the channel's 16-slot buffer is full.
type Progress struct {
	MigrationID        string
	Phase              Phase
	EventsProcessed    int64
	TotalEvents        int64
	EventsPerSecond    float64
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
	IsPaused           bool
	Err                error
}

// Config wires a Saga to its collaborators.
type Config struct {
	ObjectName string
	ObjectID   string
	OldStream  string
	NewStream  string

	Data    datastore.DataStore
	Docs    datastore.DocumentStore
	Routing RoutingTable
	Locker  lock.Locker
	Backups BackupStore

	Transform Transform
	Filter    Filter

	MaxCutoverRetries int
	ProgressInterval  time.Duration
	Log               logging.Logger
}

// Saga drives one object's migration through its six named steps under a
// held distributed lock, exposing pause/resume/cancel/rollback control.
type Saga struct {
	cfg         Config
	migrationID string

	mu          sync.Mutex
	doc         *document.Document
	targetDoc   *document.Document
	backup      BackupRecord
	totalEvents int64
	processed   int64
	startedAt   time.Time
	phase       Phase
	lastErr     error

	paused    int32
	cancelled int32

	progressCh chan Progress
	heldLock   lock.Lock
}

// New constructs a Saga for a single object migration, assigning it a
// fresh migration id.
func New(cfg Config, migrationID string) *Saga {
	if cfg.Log == nil {
		cfg.Log = logging.Discard
	}
	if cfg.Transform == nil {
		cfg.Transform = Identity
	}
	if cfg.MaxCutoverRetries <= 0 {
		cfg.MaxCutoverRetries = 3
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	return &Saga{cfg: cfg, migrationID: migrationID, phase: Normal, progressCh: make(chan Progress, 16)}
}

// Progress returns a read-only channel of advisory progress snapshots.
func (s *Saga) Progress() <-chan Progress { return s.progressCh }

// Pause requests the saga halt before its next step. Always permitted
// between phases, per spec.md §4.10.
func (s *Saga) Pause() { atomic.StoreInt32(&s.paused, 1) }

// Resume clears a pending pause request.
func (s *Saga) Resume() { atomic.StoreInt32(&s.paused, 0) }

// Cancel requests the saga stop. Before Cutover this triggers rollback;
// after Cutover it is a no-op (BookClosed is terminal).
func (s *Saga) Cancel() { atomic.StoreInt32(&s.cancelled, 1) }

func (s *Saga) waitIfPaused(ctx context.Context) error {
	for atomic.LoadInt32(&s.paused) == 1 {
		s.emitProgress(nil)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

func (s *Saga) checkCancelled() bool { return atomic.LoadInt32(&s.cancelled) == 1 }

// Run drives the saga end to end: acquire the lock, run steps 1-6 in
// order, release the lock, and emit a final progress snapshot.
func (s *Saga) Run(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	s.doc = doc
	s.startedAt = time.Now()
	s.mu.Unlock()

	key := fmt.Sprintf("%s/%s", s.cfg.ObjectName, s.cfg.ObjectID)
	held, err := s.cfg.Locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("migration: acquire lock for %s: %w", key, err)
	}
	s.heldLock = held
	defer held.Release(context.Background())

	lockLost := make(chan struct{})
	go func() {
		for range held.Heartbeats() {
		}
		close(lockLost)
	}()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"backup", s.Backup},
		{"analyze", s.Analyze},
		{"copy-transform", s.CopyTransform},
		{"verify", s.Verify},
		{"cutover", s.Cutover},
		{"close-books", s.CloseBooks},
	}

	for i, step := range steps {
		select {
		case <-lockLost:
			s.lastErr = errcode.New(errcode.CodeHeartbeatLost, errcode.Saga, "migration: lease lost during "+step.name, nil)
			s.emitProgress(s.lastErr)
			return s.lastErr
		default:
		}

		if err := s.waitIfPaused(ctx); err != nil {
			return err
		}
		if s.checkCancelled() {
			if s.phase < Cutover {
				s.cfg.Log.Printf("migration: cancel requested before cutover for %s, rolling back", key)
				return s.rollback(ctx, cancelledError())
			}
			s.cfg.Log.Printf("migration: cancel requested after cutover for %s, ignored (terminal)", key)
		}

		s.cfg.Log.Printf("migration: %s step %d/%d (%s) starting for %s", s.migrationID, i+1, len(steps), step.name, key)
		if err := step.fn(ctx); err != nil {
			s.lastErr = err
			s.emitProgress(err)
			if s.phase < Cutover {
				return s.rollback(ctx, err)
			}
			s.cfg.Log.Printf("migration: CRITICAL: %s failed after cutover for %s: %v. forward-fix required, new stream is authoritative", step.name, key, err)
			return err
		}
		s.emitProgress(nil)
	}

	return nil
}

func cancelledError() error {
	return errcode.New(errcode.CodeVerificationFailed, errcode.Saga, "migration cancelled by operator before cutover", nil)
}

func (s *Saga) rollback(ctx context.Context, cause error) error {
	if s.backup.MigrationID != "" {
		restored := s.backup.Document
		*s.doc = restored
		if err := s.cfg.Docs.Save(ctx, s.doc); err != nil {
			s.cfg.Log.Printf("migration: CRITICAL: rollback failed to restore document for %s/%s: %v", s.cfg.ObjectName, s.cfg.ObjectID, err)
		}
	}
	if err := s.cfg.Routing.Remove(ctx, s.cfg.ObjectID); err != nil {
		s.cfg.Log.Printf("migration: warning: rollback failed to remove routing entry for %s: %v", s.cfg.ObjectID, err)
	}
	s.cfg.Log.Printf("migration: rolled back %s/%s (migration %s): %v", s.cfg.ObjectName, s.cfg.ObjectID, s.migrationID, cause)
	return fmt.Errorf("migration: rolled back after %v: %w", cause, cause)
}

// Rollback is the operator-invoked control-plane equivalent of an
// internal rollback, valid only before Cutover.
func (s *Saga) Rollback(ctx context.Context) error {
	if s.phase >= Cutover {
		return errcode.New(errcode.CodeVerificationFailed, errcode.Saga, "migration: cannot roll back after cutover", nil)
	}
	return s.rollback(ctx, errcode.New(errcode.CodeVerificationFailed, errcode.Saga, "operator-requested rollback", nil))
}

func (s *Saga) emitProgress(err error) {
	s.mu.Lock()
	elapsed := time.Since(s.startedAt)
	p := Progress{
		MigrationID:     s.migrationID,
		Phase:           s.phase,
		EventsProcessed: s.processed,
		TotalEvents:     s.totalEvents,
		Elapsed:         elapsed,
		IsPaused:        atomic.LoadInt32(&s.paused) == 1,
		Err:             err,
	}
	if elapsed > 0 {
		p.EventsPerSecond = float64(s.processed) / elapsed.Seconds()
	}
	if p.EventsPerSecond > 0 && s.totalEvents > s.processed {
		remaining := float64(s.totalEvents-s.processed) / p.EventsPerSecond
		p.EstimatedRemaining = time.Duration(remaining * float64(time.Second))
	}
	s.mu.Unlock()

	select {
	case s.progressCh <- p:
	default:
	}
}
