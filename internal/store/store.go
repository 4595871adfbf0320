// ABOUTME: Session store interface and data types for coven-concierge persistence
// ABOUTME: Defines Session, SessionStore and the state-copy helpers shared by every backend

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a session does not exist for the given
// app name, user and session ID.
var ErrSessionNotFound = errors.New("session not found")

// HistoryKey is the state key holding the ordered interaction log.
const HistoryKey = "interaction_history"

// SessionRef addresses one session.
type SessionRef struct {
	AppName   string
	UserID    string
	SessionID string
}

// Key identifies the session across apps and users.
func (r SessionRef) Key() string {
	return r.AppName + "/" + r.UserID + "/" + r.SessionID
}

// Session is one conversation's durable state.
type Session struct {
	ID        string
	AppName   string
	UserID    string
	State     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the address of the session.
func (s *Session) Ref() SessionRef {
	return SessionRef{AppName: s.AppName, UserID: s.UserID, SessionID: s.ID}
}

// SessionStore defines create/read/update access to sessions identified by
// (app name, user ID, session ID).
type SessionStore interface {
	CreateSession(ctx context.Context, appName, userID string, state map[string]any) (*Session, error)
	GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	UpdateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) error
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// encodeState serializes state for storage. A nil state is stored as an empty object.
func encodeState(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding session state: %w", err)
	}
	return data, nil
}

// decodeState parses stored state. Every backend returns state through here so
// callers always see the same JSON value shapes ([]any, map[string]any, float64).
func decodeState(data []byte) (map[string]any, error) {
	state := map[string]any{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}
	return state, nil
}
