// ABOUTME: In-memory fan-out broadcaster for cross-client awareness
// ABOUTME: Publishes newly recorded history entries to all subscribers of a session

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-concierge/internal/history"
	"github.com/2389/coven-concierge/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Update is one record that was just written to a session's history.
type Update struct {
	SessionID string         `json:"session_id"`
	Record    history.Record `json:"record"`
}

// Broadcaster provides in-memory pub/sub for recorded history entries.
// Subscribers register for a session key and receive updates as records are
// written. This lets a second client follow a session without polling.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // sessionKey -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for updates to the given session.
// Returns a channel that receives updates and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, ref store.SessionRef) (<-chan *Update, string) {
	key := ref.Key()
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan *Update)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"session_key", key,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(ref, subID)
	}()

	return ch, subID
}

// Publish sends an update to all subscribers of the given session.
// If excludeSubID is non-empty, that subscriber is skipped.
// Non-blocking: updates are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(ref store.SessionRef, update *Update, excludeSubID string) {
	key := ref.Key()

	// Held across the sends so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[key] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"session_key", key,
				"role", update.Record.Role)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ref store.SessionRef, subID string) {
	key := ref.Key()

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed",
		"session_key", key,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
