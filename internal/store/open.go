// ABOUTME: Backend selection for the session store
// ABOUTME: Opens memory, SQLite (pure-Go or cgo driver) or Redis stores by driver name

package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DriverMemory and DriverRedis name the non-SQL backends accepted by Open.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Options selects and configures a SessionStore backend.
type Options struct {
	Driver string // "sqlite" (default), "sqlite3", "redis" or "memory"
	Path   string // SQLite database path

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration
}

// Open creates the SessionStore described by opts and verifies it is reachable.
func Open(ctx context.Context, opts Options) (SessionStore, error) {
	var s SessionStore
	var err error

	switch opts.Driver {
	case "", DriverSQLite, DriverSQLite3:
		driver := opts.Driver
		if driver == "" {
			driver = DriverSQLite
		}
		s, err = NewSQLiteStoreWithDriver(driver, opts.Path)
		if err != nil {
			return nil, err
		}
	case DriverRedis:
		var ropts []RedisOption
		if opts.RedisPrefix != "" {
			ropts = append(ropts, WithPrefix(opts.RedisPrefix))
		}
		if opts.RedisTTL > 0 {
			ropts = append(ropts, WithTTL(opts.RedisTTL))
		}
		s = NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, ropts...)
	case DriverMemory:
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}

	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("pinging %s store: %w", opts.Driver, err)
	}
	return s, nil
}
