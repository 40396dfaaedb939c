// Package boltstore is an embedded-file DataStore/DocumentStore backed
// by go.etcd.io/bbolt, grounded on evalgo-org-eve/db/bolt's
// bucket-per-concern, PutJSON/GetJSON style: one bucket holds documents
// keyed by "{object}/{id}", one bucket per stream holds events keyed by
// their event_version as an 8-byte big-endian integer.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/event"
)

var (
	docsBucket    = []byte("documents")
	streamsBucket = []byte("streams")
)

// Store wraps a single bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the bbolt file at path with default options (no
// lock timeout: Open blocks while another process holds the file).
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(docsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(streamsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func docKey(objectName, objectID string) []byte { return []byte(objectName + "/" + objectID) }

func streamBucketName(objectName, objectID, streamID string) []byte {
	return []byte(fmt.Sprintf("stream:%s/%s/%s", objectName, objectID, streamID))
}

func versionKey(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func (s *Store) Load(ctx context.Context, objectName, objectID string) (*document.Document, error) {
	var doc document.Document
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(docsBucket).Get(docKey(objectName, objectID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load document: %w", err)
	}
	if !found {
		return nil, datastore.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *Store) Save(ctx context.Context, doc *document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("boltstore: marshal document: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(docsBucket).Put(docKey(doc.ObjectName, doc.ObjectID), data)
	})
}

func (s *Store) Append(ctx context.Context, doc *document.Document, events []event.Event, opts datastore.AppendOptions) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsBucket)
		name := streamBucketName(doc.ObjectName, doc.ObjectID, doc.Active.StreamIdentifier)
		b, err := root.CreateBucketIfNotExists(name)
		if err != nil {
			return err
		}

		currentTip := int64(-1)
		if c := b.Cursor(); true {
			k, _ := c.Last()
			if k != nil {
				currentTip = int64(binary.BigEndian.Uint64(k))
			}
		}
		if currentTip != opts.ExpectedTip {
			return datastore.AsConcurrencyConflict(opts.ExpectedTip, currentTip)
		}

		// db.Update runs this whole loop inside one bbolt transaction: any
		// error here rolls the entire batch back, so there is never a
		// partial commit to report for this backend.
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("boltstore: marshal event version %d: %w", e.EventVersion, err)
			}
			if err := b.Put(versionKey(e.EventVersion), data); err != nil {
				return fmt.Errorf("boltstore: put event version %d: %w", e.EventVersion, err)
			}
		}
		return nil
	})
}

func (s *Store) Read(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) ([]event.Event, error) {
	var out []event.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsBucket)
		b := root.Bucket(streamBucketName(doc.ObjectName, doc.ObjectID, doc.Active.StreamIdentifier))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(versionKey(fromVersion)); k != nil; k, v = c.Next() {
			version := int64(binary.BigEndian.Uint64(k))
			if untilVersion >= 0 && version > untilVersion {
				break
			}
			var e event.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: read: %w", err)
	}
	return out, nil
}

func (s *Store) ReadStream(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) (datastore.EventIterator, error) {
	events, err := s.Read(ctx, doc, fromVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &boltIterator{events: events, idx: -1}, nil
}

func (s *Store) RemoveEventsForFailedCommit(ctx context.Context, doc *document.Document, from, to int64) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsBucket)
		b := root.Bucket(streamBucketName(doc.ObjectName, doc.ObjectID, doc.Active.StreamIdentifier))
		if b == nil {
			return nil
		}
		for v := from; v <= to; v++ {
			k := versionKey(v)
			if b.Get(k) != nil {
				removed++
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: remove range: %w", err)
	}
	return removed, nil
}

type boltIterator struct {
	events []event.Event
	idx    int
}

func (it *boltIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	it.idx++
	return it.idx < len(it.events)
}
func (it *boltIterator) Event() event.Event { return it.events[it.idx] }
func (it *boltIterator) Err() error         { return nil }
func (it *boltIterator) Close() error       { return nil }

var _ datastore.DataStore = (*Store)(nil)
var _ datastore.DocumentStore = (*Store)(nil)
