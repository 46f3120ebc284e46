// Package kvstore provides durable key/value stores used for provider
// affinity persistence.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-resolver-go/pkg/logging"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a byte-oriented key/value store with optional per-key TTL.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Path          string // badger directory or sqlite file
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the configured store.
func Open(opts Options, log *logging.Logger) (Store, error) {
	log = log.WithComponent("kvstore")

	switch opts.Backend {
	case "", BackendMemory:
		log.Info("using in-memory affinity store")
		return NewMemory(), nil
	case BackendBadger:
		store, err := OpenBadger(opts.Path)
		if err != nil {
			return nil, err
		}
		log.Info("opened badger affinity store", "path", opts.Path)
		return store, nil
	case BackendRedis:
		store, err := NewRedis(RedisOptions{Addr: opts.RedisAddr, Password: opts.RedisPassword, DB: opts.RedisDB})
		if err != nil {
			return nil, err
		}
		log.Info("connected to redis affinity store", "addr", opts.RedisAddr, "db", opts.RedisDB)
		return store, nil
	case BackendSQLite:
		store, err := OpenSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		log.Info("opened sqlite affinity store", "path", opts.Path)
		return store, nil
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", opts.Backend)
	}
}

// Maintain runs the backend's housekeeping: expiring rows, sweeping memory
// or collecting the value log. It returns how many entries were removed
// when the backend can tell. Redis expires keys itself.
func Maintain(ctx context.Context, s Store) (int64, error) {
	switch store := s.(type) {
	case *Memory:
		return int64(store.Sweep()), nil
	case *SQLite:
		return store.Sweep(ctx)
	case *Badger:
		return 0, store.RunGC()
	default:
		return 0, nil
	}
}
