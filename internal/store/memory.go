// ABOUTME: In-memory SessionStore implementation
// ABOUTME: Used by the chat shell and tests that do not need a database

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory SessionStore. State is kept in encoded form so
// reads never alias a caller's map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession // keyed by session ID
}

type memorySession struct {
	appName   string
	userID    string
	state     []byte
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
	}
}

// CreateSession stores a new session with a generated ID.
func (m *MemoryStore) CreateSession(ctx context.Context, appName, userID string, state map[string]any) (*Session, error) {
	data, err := encodeState(state)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New().String()

	m.mu.Lock()
	m.sessions[id] = &memorySession{
		appName:   appName,
		userID:    userID,
		state:     data,
		createdAt: now,
		updatedAt: now,
	}
	m.mu.Unlock()

	return m.GetSession(ctx, appName, userID, id)
}

// GetSession retrieves a session scoped to its app and user.
func (m *MemoryStore) GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.appName != appName || s.userID != userID {
		return nil, ErrSessionNotFound
	}
	return s.toSession(sessionID)
}

// UpdateSession replaces the state of an existing session.
func (m *MemoryStore) UpdateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.appName != appName || s.userID != userID {
		return ErrSessionNotFound
	}
	s.state = data
	s.updatedAt = time.Now().UTC()
	return nil
}

// ListSessions returns the user's sessions, newest first.
func (m *MemoryStore) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for id, s := range m.sessions {
		if s.appName != appName || s.userID != userID {
			continue
		}
		sess, err := s.toSession(id)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func (s *memorySession) toSession(id string) (*Session, error) {
	state, err := decodeState(s.state)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		AppName:   s.appName,
		UserID:    s.userID,
		State:     state,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}, nil
}
