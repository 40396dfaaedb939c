// Package lock implements the distributed lock the migration saga holds
// across its steps (spec.md §4.10): acquire-with-timeout, lease renewal
// heartbeat, and fencing-token-checked release.
package lock

import (
	"context"
	"strings"
)

// Lock is held for the duration of one saga run, keyed by object_id.
type Lock interface {
	// Heartbeats returns a channel that receives a value on every
	// successful lease renewal and is closed when the lease is lost —
	// the saga must cancel promptly on closure to avoid split-brain.
	Heartbeats() <-chan struct{}
	// Release gives up the lock. A Release after the lease already
	// expired is a no-op (another holder may already own it).
	Release(ctx context.Context) error
}

// Locker acquires Locks scoped to a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// SanitizeKey applies spec.md §4.10's lock-key sanitization rule,
// replacing path- and URL-hostile characters and appending the ".lock"
// suffix.
func SanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "?", "-", "#", "-", "[", "-", "]", "-", "@", "-",
	)
	return replacer.Replace(key) + ".lock"
}
