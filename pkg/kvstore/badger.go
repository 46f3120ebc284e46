package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by an embedded badger database.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: failed to open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Get implements Store.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: badger get: %w", err)
	}
	return out, nil
}

// Set implements Store.
func (b *Badger) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete implements Store.
func (b *Badger) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// RunGC reclaims value log space. Nothing to collect is not an error.
func (b *Badger) RunGC() error {
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close implements Store.
func (b *Badger) Close() error { return b.db.Close() }
