// ABOUTME: Per-session turn locks, reference counted so idle sessions hold no entry
// ABOUTME: Turns on one session run one at a time; waiting respects the caller's context

package conversation

import (
	"context"
	"sync"
)

type lockEntry struct {
	held chan struct{} // buffered(1); a send acquires
	refs int
}

// sessionLocks serializes work per session key.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*lockEntry)}
}

// lock blocks until key is free or ctx is done. On success the returned
// func releases the lock and must be called exactly once.
func (l *sessionLocks) lock(ctx context.Context, key string) (func(), error) {
	entry := l.acquire(key)

	select {
	case entry.held <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}

	return func() {
		<-entry.held
		l.release(key)
	}, nil
}

func (l *sessionLocks) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{held: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *sessionLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}
