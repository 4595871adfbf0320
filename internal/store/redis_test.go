// ABOUTME: Tests for the Redis session store
// ABOUTME: Uses miniredis to check key layout, TTL handling, and index pruning

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "app", "user", map[string]any{HistoryKey: []any{}})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:session:app:user:"+sess.ID))
	members, err := mr.ZMembers("test:session:index:app:user")
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, members)
}

func TestRedisStore_KeyPartsAreEscaped(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "app", "alice:x", nil)
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:session:app:alice%3Ax:"+sess.ID), "keys: %v", mr.Keys())
	assert.True(t, mr.Exists("test:session:index:app:alice%3Ax"))
	assert.Equal(t, "test:session:app:50%2525:u%3A1", s.key("app", "50%25", "u:1"))
}

func TestRedisStore_RejectsDocumentOfAnotherOwner(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	// A document whose body names a different user than its key
	doc := `{"id":"s1","app_name":"app","user_id":"mallory","state":{},` +
		`"created_at":"2026-03-01T09:29:00Z","updated_at":"2026-03-01T09:29:00Z"}`
	require.NoError(t, mr.Set("test:session:app:alice:s1", doc))

	_, err := s.GetSession(ctx, "app", "alice", "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = s.UpdateSession(ctx, "app", "alice", "s1", map[string]any{"k": "v"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, WithPrefix("ttl:"), WithTTL(time.Minute))
	defer s.Close()
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "app", "user", nil)
	require.NoError(t, err)

	key := "ttl:app:user:" + sess.ID
	assert.Equal(t, time.Minute, mr.TTL(key))

	// Updates refresh the expiry
	mr.FastForward(30 * time.Second)
	require.NoError(t, s.UpdateSession(ctx, "app", "user", sess.ID, map[string]any{"k": "v"}))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	_, err = s.GetSession(ctx, "app", "user", sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	kept, err := s.CreateSession(ctx, "app", "user", nil)
	require.NoError(t, err)
	gone, err := s.CreateSession(ctx, "app", "user", nil)
	require.NoError(t, err)

	mr.Del("test:session:app:user:" + gone.ID)

	sessions, err := s.ListSessions(ctx, "app", "user")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, kept.ID, sessions[0].ID)

	members, err := mr.ZMembers("test:session:index:app:user")
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, members)
}

func TestRedisStore_UpdateDoesNotResurrect(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "app", "user", nil)
	require.NoError(t, err)
	mr.Del("test:session:app:user:" + sess.ID)

	err = s.UpdateSession(ctx, "app", "user", sess.ID, map[string]any{"k": "v"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, mr.Exists("test:session:app:user:"+sess.ID))
}

func TestRedisStore_PingFailsWhenDown(t *testing.T) {
	s, mr := setupRedisStore(t)
	mr.Close()

	assert.Error(t, s.Ping(context.Background()))
}
