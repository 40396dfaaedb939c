// Package memlock is an in-process migration/lock.Locker for tests and
// the single-node worked example, avoiding a Redis dependency when
// exercising the saga in isolation.
package memlock

import (
	"context"
	"sync"
	"time"

	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/migration/lock"
)

// Locker hands out mutex-backed locks keyed by the sanitized lock key.
type Locker struct {
	mu    sync.Mutex
	held  map[string]bool
}

// New returns an empty in-process locker.
func New() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) Acquire(ctx context.Context, key string) (lock.Lock, error) {
	sanitized := lock.SanitizeKey(key)
	deadline, hasDeadline := ctx.Deadline()
	for {
		l.mu.Lock()
		if !l.held[sanitized] {
			l.held[sanitized] = true
			l.mu.Unlock()
			ml := &memLock{locker: l, key: sanitized, heartbeats: make(chan struct{}), done: make(chan struct{})}
			go ml.pulse(ctx)
			return ml, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errcode.New(errcode.CodeLockTimeout, errcode.Saga, "memlock: acquire "+sanitized+" timed out", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
		if hasDeadline && time.Now().After(deadline) {
			return nil, errcode.New(errcode.CodeLockTimeout, errcode.Saga, "memlock: acquire "+sanitized+" timed out", ctx.Err())
		}
	}
}

type memLock struct {
	locker     *Locker
	key        string
	heartbeats chan struct{}
	done       chan struct{}
	once       sync.Once
}

func (m *memLock) pulse(ctx context.Context) {
	defer close(m.heartbeats)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			select {
			case m.heartbeats <- struct{}{}:
			default:
			}
		}
	}
}

func (m *memLock) Heartbeats() <-chan struct{} { return m.heartbeats }

func (m *memLock) Release(ctx context.Context) error {
	m.once.Do(func() {
		close(m.done)
		m.locker.mu.Lock()
		delete(m.locker.held, m.key)
		m.locker.mu.Unlock()
	})
	return nil
}

var _ lock.Locker = (*Locker)(nil)
