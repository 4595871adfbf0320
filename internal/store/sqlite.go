// ABOUTME: SQLite implementation of the SessionStore interface
// ABOUTME: Stores session state as JSON text with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite is the pure-Go modernc.org/sqlite driver
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo github.com/mattn/go-sqlite3 driver
	DriverSQLite3 = "sqlite3"
)

// timeFormat is fixed-width so stored timestamps sort lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements SessionStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure-Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverSQLite, path)
}

// NewSQLiteStoreWithDriver is NewSQLiteStore with an explicit database/sql driver name.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver != DriverSQLite && driver != DriverSQLite3 {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			app_name   TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			state      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner
			ON sessions(app_name, user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a new session with a generated ID.
func (s *SQLiteStore) CreateSession(ctx context.Context, appName, userID string, state map[string]any) (*Session, error) {
	data, err := encodeState(state)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(timeFormat)

	query := `
		INSERT INTO sessions (id, app_name, user_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, appName, userID, string(data), now, now); err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("session created", "session_id", id, "app_name", appName, "user_id", userID)
	return s.GetSession(ctx, appName, userID, id)
}

// GetSession retrieves a session scoped to its app and user.
func (s *SQLiteStore) GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	query := `
		SELECT id, app_name, user_id, state, created_at, updated_at
		FROM sessions
		WHERE id = ? AND app_name = ? AND user_id = ?
	`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID, appName, userID))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// UpdateSession replaces the state of an existing session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions
		SET state = ?, updated_at = ?
		WHERE id = ? AND app_name = ? AND user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(data),
		time.Now().UTC().Format(timeFormat),
		sessionID,
		appName,
		userID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListSessions returns the user's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	query := `
		SELECT id, app_name, user_id, state, created_at, updated_at
		FROM sessions
		WHERE app_name = ? AND user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var stateStr, createdAtStr, updatedAtStr string

	if err := row.Scan(&sess.ID, &sess.AppName, &sess.UserID, &stateStr, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	state, err := decodeState([]byte(stateStr))
	if err != nil {
		return nil, err
	}
	sess.State = state

	sess.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}
