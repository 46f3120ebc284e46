// Package affinity remembers which provider last produced a playable stream
// for a media key, so later resolutions can try it first.
package affinity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/kvstore"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

const keyPrefix = "affinity:"

// Options tunes the store.
type Options struct {
	// ReadTimeout bounds durable reads. Slower reads count as a miss.
	ReadTimeout time.Duration
	// WriteTimeout bounds detached durable writes.
	WriteTimeout time.Duration
	// MemoryTTL is how long the in-process tier keeps an entry.
	MemoryTTL time.Duration
	// MemorySize caps the in-process tier.
	MemorySize int
	// DurableTTL expires durable entries; zero keeps them.
	DurableTTL time.Duration
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:  350 * time.Millisecond,
		WriteTimeout: 3 * time.Second,
		MemoryTTL:    10 * time.Minute,
		MemorySize:   2048,
		DurableTTL:   30 * 24 * time.Hour,
	}
}

// Store is a two-tier affinity store: an expiring LRU over a durable kvstore.
type Store struct {
	mem     *expirable.LRU[types.MediaKey, types.ProviderAffinity]
	durable kvstore.Store
	opts    Options
	log     *logging.Logger
	now     func() time.Time

	writes sync.WaitGroup
}

var _ interfaces.AffinityStore = (*Store)(nil)

// New creates a Store. durable may be nil for a memory-only store.
func New(durable kvstore.Store, opts Options, log *logging.Logger) *Store {
	d := DefaultOptions()
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = d.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = d.WriteTimeout
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = d.MemoryTTL
	}
	if opts.MemorySize <= 0 {
		opts.MemorySize = d.MemorySize
	}

	return &Store{
		mem:     expirable.NewLRU[types.MediaKey, types.ProviderAffinity](opts.MemorySize, nil, opts.MemoryTTL),
		durable: durable,
		opts:    opts,
		log:     log.WithComponent("affinity"),
		now:     time.Now,
	}
}

// Get returns the affinity for key, or nil. The durable read is bounded by
// ReadTimeout; any error or timeout is treated as no affinity.
func (s *Store) Get(ctx context.Context, key types.MediaKey) *types.ProviderAffinity {
	if aff, ok := s.mem.Get(key); ok {
		return &aff
	}
	if s.durable == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	defer cancel()

	aff, err := s.readDurable(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.log.Debug("affinity read failed", "media_key", key, "error", err)
		}
		return nil
	}

	s.mem.Add(key, *aff)
	return aff
}

// readDurable runs the store read in its own goroutine so a backend that
// ignores ctx still cannot hold the caller past the deadline.
func (s *Store) readDurable(ctx context.Context, key types.MediaKey) (*types.ProviderAffinity, error) {
	type result struct {
		aff *types.ProviderAffinity
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("affinity read panic: %v", r)}
			}
		}()
		raw, err := s.durable.Get(ctx, keyPrefix+string(key))
		if err != nil {
			done <- result{err: err}
			return
		}
		var aff types.ProviderAffinity
		if err := json.Unmarshal(raw, &aff); err != nil {
			done <- result{err: fmt.Errorf("failed to decode affinity: %w", err)}
			return
		}
		if aff.SourceID == "" {
			done <- result{err: kvstore.ErrNotFound}
			return
		}
		done <- result{aff: &aff}
	}()

	select {
	case r := <-done:
		return r.aff, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put records an affinity in memory and schedules a detached durable write.
// It never blocks on the durable tier.
func (s *Store) Put(key types.MediaKey, aff types.ProviderAffinity) {
	if aff.SourceID == "" {
		return
	}
	if aff.UpdatedAtMillis == 0 {
		aff.UpdatedAtMillis = s.now().UnixMilli()
	}
	s.mem.Add(key, aff)

	if s.durable == nil {
		return
	}

	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Warn("affinity write panicked", "media_key", key, "panic", r)
			}
		}()

		raw, err := json.Marshal(aff)
		if err != nil {
			s.log.Debug("affinity encode failed", "media_key", key, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		if err := s.durable.Set(ctx, keyPrefix+string(key), raw, s.opts.DurableTTL); err != nil {
			s.log.Debug("affinity write failed", "media_key", key, "error", err)
		}
	}()
}

// Forget drops key from both tiers.
func (s *Store) Forget(ctx context.Context, key types.MediaKey) {
	s.mem.Remove(key)
	if s.durable != nil {
		if err := s.durable.Delete(ctx, keyPrefix+string(key)); err != nil {
			s.log.Debug("affinity delete failed", "media_key", key, "error", err)
		}
	}
}

// Len returns the number of entries in the memory tier.
func (s *Store) Len() int {
	return s.mem.Len()
}

// Wait blocks until detached writes finish. Used on shutdown and in tests.
func (s *Store) Wait() {
	s.writes.Wait()
}
