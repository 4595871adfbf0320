// Package store provides durable conversation sessions for the concierge.
//
// # Architecture
//
// SessionStore is the single interface the rest of the module depends on. A
// session is addressed by (app name, user ID, session ID) and owns a JSON state
// bag. The ordered interaction log lives inside that bag under HistoryKey and
// is maintained by the history package, never by the store itself.
//
// Backends:
//
//   - MemoryStore: process-local, used by the chat shell and unit tests
//   - SQLiteStore: database/sql over modernc.org/sqlite ("sqlite") or
//     github.com/mattn/go-sqlite3 ("sqlite3")
//   - RedisStore: go-redis with a per-user sorted-set index and optional TTL
//
// Open picks a backend from Options.Driver.
//
// # State Shape
//
// Every backend stores state as JSON and decodes it on read, so callers always
// receive a fresh copy built from []any, map[string]any, string, float64 and
// bool values regardless of which backend is configured.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
//
// # Error Handling
//
//   - ErrSessionNotFound: no session with that ID for that app and user
//
// All methods accept context.Context for cancellation support.
package store
