// ABOUTME: TTL window of recently claimed turn keys, bounded in size
// ABOUTME: The gateway claims an Idempotency-Key before running a turn so client retries are not run twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when the gateway has no idempotency settings.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxKeys = 10000
)

type claim struct {
	at   time.Time
	elem *list.Element
}

// Window remembers claimed keys for a TTL. When full, the oldest claim is
// dropped first. Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New returns a Window and starts its sweeper. Non-positive arguments fall
// back to DefaultTTL and DefaultMaxKeys.
func New(ttl time.Duration, maxKeys int) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	w := &Window{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go w.sweepLoop(sweepInterval(ttl))
	return w
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Claim records key and reports true, or reports false when key was already
// claimed within the TTL. Check and record happen under one lock.
func (w *Window) Claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if c, ok := w.claims[key]; ok {
		if now.Sub(c.at) < w.ttl {
			return false
		}
		c.at = now
		w.order.MoveToBack(c.elem)
		return true
	}

	if len(w.claims) >= w.maxKeys {
		w.dropOldest()
	}
	w.claims[key] = &claim{at: now, elem: w.order.PushBack(key)}
	return true
}

// Release forgets key so a later Claim succeeds. Used when the claimed work
// failed before producing anything worth protecting.
func (w *Window) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.claims[key]; ok {
		w.order.Remove(c.elem)
		delete(w.claims, key)
	}
}

// Must be called with mu held.
func (w *Window) dropOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.claims, key)
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// sweep drops expired claims. Claims are ordered by time, so it stops at
// the first live one.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for e := w.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		c := w.claims[key]
		if c == nil || now.Sub(c.at) < w.ttl {
			return
		}
		next := e.Next()
		w.order.Remove(e)
		delete(w.claims, key)
		e = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
