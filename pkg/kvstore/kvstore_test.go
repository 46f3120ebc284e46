package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/logging"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"badger": func(t *testing.T) Store {
			s, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedis(RedisOptions{Addr: mr.Addr()})
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "movie:1", []byte(`{"source_id":"a"}`), 0))
			got, err := store.Get(ctx, "movie:1")
			require.NoError(t, err)
			assert.Equal(t, `{"source_id":"a"}`, string(got))

			require.NoError(t, store.Set(ctx, "movie:1", []byte(`{"source_id":"b"}`), time.Hour))
			got, err = store.Get(ctx, "movie:1")
			require.NoError(t, err)
			assert.Equal(t, `{"source_id":"b"}`, string(got))

			require.NoError(t, store.Delete(ctx, "movie:1"))
			_, err = store.Get(ctx, "movie:1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, store.Delete(ctx, "never-set"))
		})
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := NewMemory()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, store.Sweep())
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteTTLAndSweep(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, store.Set(ctx, "forever", []byte("v"), 0))

	now = now.Add(2 * time.Second)
	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := NewRedis(RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	log := logging.Discard()

	store, err := Open(Options{Backend: BackendMemory}, log)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)

	store, err = Open(Options{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "a.db")}, log)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, store)
	require.NoError(t, store.Close())

	_, err = Open(Options{Backend: "etcd"}, log)
	assert.Error(t, err)
}

func TestMaintain(t *testing.T) {
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	mem := NewMemory()
	mem.now = func() time.Time { return now }
	require.NoError(t, mem.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(time.Minute)

	removed, err := Maintain(ctx, mem)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			_, err := Maintain(ctx, store)
			assert.NoError(t, err)
		})
	}
}
