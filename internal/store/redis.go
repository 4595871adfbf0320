// ABOUTME: Redis implementation of the SessionStore interface
// ABOUTME: Stores session JSON under prefixed keys with a per-user sorted-set index

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// RedisStore implements SessionStore using Redis.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration applied to sessions on every write. Zero means no expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis store connected to the given address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "concierge:session:",
		logger: slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// redisSession is the JSON document stored per session
type redisSession struct {
	ID        string          `json:"id"`
	AppName   string          `json:"app_name"`
	UserID    string          `json:"user_id"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// keyPart escapes the key separator so user and session ids cannot borrow
// each other's keys. Parts without ':' or '%' are unchanged.
var keyPart = strings.NewReplacer("%", "%25", ":", "%3A")

func (s *RedisStore) key(appName, userID, sessionID string) string {
	return s.prefix + keyPart.Replace(appName) + ":" + keyPart.Replace(userID) + ":" + keyPart.Replace(sessionID)
}

func (s *RedisStore) indexKey(appName, userID string) string {
	return s.prefix + "index:" + keyPart.Replace(appName) + ":" + keyPart.Replace(userID)
}

// owns reports whether doc is the session addressed by the key parts.
func (d *redisSession) owns(appName, userID, sessionID string) bool {
	return d.AppName == appName && d.UserID == userID && d.ID == sessionID
}

// CreateSession stores a new session with a generated ID.
func (s *RedisStore) CreateSession(ctx context.Context, appName, userID string, state map[string]any) (*Session, error) {
	data, err := encodeState(state)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &redisSession{
		ID:        uuid.New().String(),
		AppName:   appName,
		UserID:    userID,
		State:     data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.write(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Debug("session created", "session_id", doc.ID, "app_name", appName, "user_id", userID)
	return doc.toSession()
}

// GetSession retrieves a session scoped to its app and user.
func (s *RedisStore) GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	doc, err := s.read(ctx, appName, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return doc.toSession()
}

// UpdateSession replaces the state of an existing session.
// The read-modify-write runs inside WATCH so a concurrent delete or expiry is not resurrected.
func (s *RedisStore) UpdateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	key := s.key(appName, userID, sessionID)
	txf := func(tx *backend.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, backend.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get from redis: %w", err)
		}

		var doc redisSession
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if !doc.owns(appName, userID, sessionID) {
			return ErrSessionNotFound
		}
		doc.State = data
		doc.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// ListSessions returns the user's sessions, newest first. Index entries whose
// session key has expired are pruned lazily.
func (s *RedisStore) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(appName, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*Session
	for _, id := range ids {
		doc, err := s.read(ctx, appName, userID, id)
		if errors.Is(err, ErrSessionNotFound) {
			s.client.ZRem(ctx, s.indexKey(appName, userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sess, err := doc.toSession()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) write(ctx context.Context, doc *redisSession) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(doc.AppName, doc.UserID, doc.ID), encoded, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(doc.AppName, doc.UserID), backend.Z{
		Score:  float64(doc.CreatedAt.UnixNano()),
		Member: doc.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) read(ctx context.Context, appName, userID, sessionID string) (*redisSession, error) {
	raw, err := s.client.Get(ctx, s.key(appName, userID, sessionID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var doc redisSession
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !doc.owns(appName, userID, sessionID) {
		return nil, ErrSessionNotFound
	}
	return &doc, nil
}

func (d *redisSession) toSession() (*Session, error) {
	state, err := decodeState(d.State)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        d.ID,
		AppName:   d.AppName,
		UserID:    d.UserID,
		State:     state,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}
