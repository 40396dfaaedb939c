// Package resilient wraps any datastore.DataStore with exponential
// backoff and jitter for the External/transient error class of
// spec.md §7. Concurrency/PartialFailure errors are never retried and are
// returned unchanged. When retries of a transient error are exhausted the
// caller receives a CodeRetriesExhausted error of kind Transient wrapping
// the last failure; it is not escalated to Concurrency or PartialFailure.
package resilient

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/event"
)

// TransientClassifier decides whether an error from the wrapped backend
// is a transient/retriable network-level failure as opposed to a
// Concurrency or PartialFailure signal that must never be retried (event
// commits are at-most-once per spec.md §5).
type TransientClassifier func(error) bool

// DefaultClassifier treats anything that is not a ConcurrencyConflictError
// or PartialWriteError as transient.
func DefaultClassifier(err error) bool {
	var conflict *datastore.ConcurrencyConflictError
	var partial *datastore.PartialWriteError
	if errors.As(err, &conflict) || errors.As(err, &partial) {
		return false
	}
	return err != nil
}

// Store wraps a datastore.DataStore with retry around Read-path
// operations, and a single non-retried attempt around Append (event
// commits are never auto-retried, per spec.md §5).
type Store struct {
	inner        datastore.DataStore
	newBackOff   func() backoff.BackOff
	classify     TransientClassifier
	maxAttempts  uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts bounds the number of retry attempts for read-path
// operations. Default is 5.
func WithMaxAttempts(n uint64) Option {
	return func(s *Store) { s.maxAttempts = n }
}

// WithClassifier overrides DefaultClassifier.
func WithClassifier(c TransientClassifier) Option {
	return func(s *Store) { s.classify = c }
}

// Wrap returns a resilient DataStore around inner.
func Wrap(inner datastore.DataStore, opts ...Option) *Store {
	s := &Store{
		inner:       inner,
		classify:    DefaultClassifier,
		maxAttempts: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			return b
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithMaxRetries(s.newBackOff(), s.maxAttempts)
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !s.classify(err) {
			// Non-transient: stop retrying, surface immediately.
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))

	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return errcode.New(errcode.CodeRetriesExhausted, errcode.Transient, "backend retries exhausted", err)
}

// Append is attempted once: event commits are never auto-retried.
func (s *Store) Append(ctx context.Context, doc *document.Document, events []event.Event, opts datastore.AppendOptions) error {
	return s.inner.Append(ctx, doc, events, opts)
}

func (s *Store) Read(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) ([]event.Event, error) {
	var out []event.Event
	err := s.retry(ctx, func() error {
		var err error
		out, err = s.inner.Read(ctx, doc, fromVersion, untilVersion)
		return err
	})
	return out, err
}

func (s *Store) ReadStream(ctx context.Context, doc *document.Document, fromVersion, untilVersion int64) (datastore.EventIterator, error) {
	var it datastore.EventIterator
	err := s.retry(ctx, func() error {
		var err error
		it, err = s.inner.ReadStream(ctx, doc, fromVersion, untilVersion)
		return err
	})
	return it, err
}

func (s *Store) RemoveEventsForFailedCommit(ctx context.Context, doc *document.Document, from, to int64) (int64, error) {
	var n int64
	err := s.retry(ctx, func() error {
		var err error
		n, err = s.inner.RemoveEventsForFailedCommit(ctx, doc, from, to)
		return err
	})
	return n, err
}

var _ datastore.DataStore = (*Store)(nil)
