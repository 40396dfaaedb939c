// Package pgstore is a PostgreSQL-backed DataStore using pgx, grounded
// on mickamy-go-event-sourcing/stores/pgx's EventStore: a transaction
// reads the current tip with SELECT MAX(version), CAS-checks it against
// the expected tip, then inserts one row per event with a unique
// (stream_id, version) constraint catching any race the MAX-read missed.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/event"
)

// Store is a pgx-pool-backed DataStore. It does not implement
// DocumentStore: object documents are small and, in the reference
// deployment this backend targets, live in a separate table store
// (spec.md §1 treats DocumentStore as a distinct collaborator).
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgxpool.Pool. Schema (events table keyed by
// (stream_id, version) with a unique constraint) is assumed already
// migrated, mirroring the retrieved pgx_store.go which makes the same
// assumption.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func streamID(doc *document.Document) string {
	return doc.ObjectName + "/" + doc.ObjectID + "/" + doc.Active.StreamIdentifier
}

func (s *Store) Append(ctx context.Context, doc *document.Document, events []event.Event, opts datastore.AppendOptions) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var currentVersion int64 = -1
	var maxVersion *int64
	if err := tx.QueryRow(ctx,
		`SELECT MAX(version) FROM events WHERE stream_id = $1`, streamID(doc),
	).Scan(&maxVersion); err != nil {
		return fmt.Errorf("pgstore: read tip: %w", err)
	}
	if maxVersion != nil {
		currentVersion = *maxVersion
	}
	if currentVersion != opts.ExpectedTip {
		return datastore.AsConcurrencyConflict(opts.ExpectedTip, currentVersion)
	}

	// The whole loop runs inside one pgx transaction: any error below
	// rolls back every row already Exec'd, so this backend never leaves a
	// true partial write behind for the caller to mark broken.
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("pgstore: marshal event version %d: %w", e.EventVersion, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (stream_id, version, event_type, payload) VALUES ($1, $2, $3, $4)`,
			streamID(doc), e.EventVersion, e.EventType, payload,
		); err != nil {
			if isUniqueViolation(err) {
				return datastore.AsConcurrencyConflict(opts.ExpectedTip, e.EventVersion-1)
			}
			return fmt.Errorf("pgstore: insert event version %d: %w", e.EventVersion, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) ([]event.Event, error) {
	query := `SELECT version, payload FROM events WHERE stream_id = $1 AND version >= $2`
	args := []any{streamID(doc), fromVersion}
	if untilVersion >= 0 {
		query += ` AND version <= $3`
		args = append(args, untilVersion)
	}
	query += ` ORDER BY version ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var version int64
		var payload []byte
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		var e event.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("pgstore: decode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ReadStream(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) (datastore.EventIterator, error) {
	events, err := s.Read(ctx, doc, fromVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &pgIterator{events: events, idx: -1}, nil
}

func (s *Store) RemoveEventsForFailedCommit(ctx context.Context, doc *document.Document, from, to int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE stream_id = $1 AND version BETWEEN $2 AND $3`,
		streamID(doc), from, to,
	)
	if err != nil {
		return 0, fmt.Errorf("pgstore: remove range: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.Code == "23505"
	}
	return false
}

// asPgError is a small indirection around errors.As so this file reads
// the same way the retrieved pgx_store.go's isUniqueViolation helper
// does (kept local rather than imported to avoid depending on that
// package's unexported helper).
func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

type pgIterator struct {
	events []event.Event
	idx    int
}

func (it *pgIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	it.idx++
	return it.idx < len(it.events)
}
func (it *pgIterator) Event() event.Event { return it.events[it.idx] }
func (it *pgIterator) Err() error         { return nil }
func (it *pgIterator) Close() error       { return nil }

var _ datastore.DataStore = (*Store)(nil)
