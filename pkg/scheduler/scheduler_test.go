package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/kvstore"
	"media-resolver-go/pkg/logging"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(nil, logging.Discard())
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestRegisterTaskValidation(t *testing.T) {
	s := newScheduler(t)
	noop := func(context.Context) error { return nil }

	require.Error(t, s.RegisterTask(TaskConfig{ID: "zero", Func: noop}))
	require.NoError(t, s.RegisterTask(TaskConfig{ID: "a", Interval: time.Hour, Func: noop}))
	require.Error(t, s.RegisterTask(TaskConfig{ID: "a", Interval: time.Hour, Func: noop}))
}

func TestRunNowRecordsOutcome(t *testing.T) {
	s := newScheduler(t)
	var calls atomic.Int32
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "failing",
		Interval: time.Hour,
		Func: func(context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		},
	}))

	require.NoError(t, s.RunNow("failing"))
	require.Eventually(t, func() bool {
		info, err := s.GetTask("failing")
		return err == nil && info.LastRun != nil && !info.Running
	}, time.Second, 5*time.Millisecond)

	info, err := s.GetTask("failing")
	require.NoError(t, err)
	assert.Equal(t, "boom", info.LastError)
	assert.Equal(t, "1h0m0s", info.Interval)
	assert.NotNil(t, info.NextRun)
	assert.EqualValues(t, 1, calls.Load())

	require.Error(t, s.RunNow("missing"))
	_, err = s.GetTask("missing")
	require.Error(t, err)
}

type countingCache struct{ calls atomic.Int32 }

func (c *countingCache) Sweep() int {
	c.calls.Add(1)
	return 2
}

type countingSessions struct {
	calls atomic.Int32
	idle  atomic.Int64
}

func (c *countingSessions) SweepIdle(d time.Duration) int {
	c.calls.Add(1)
	c.idle.Store(int64(d))
	return 0
}

func TestJanitor(t *testing.T) {
	s := newScheduler(t)
	cache := &countingCache{}
	sessions := &countingSessions{}
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Nanosecond))

	require.NoError(t, RegisterJanitor(s, cache, store, sessions, JanitorOptions{Interval: time.Hour, SessionIdle: 30 * time.Minute}, logging.Discard()))

	var ids []string
	for _, task := range s.ListTasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{TaskAffinityStore, TaskIdleSessions, TaskResolutionCache}, ids)

	for _, id := range ids {
		require.NoError(t, s.RunNow(id))
	}
	require.Eventually(t, func() bool {
		return cache.calls.Load() == 1 && sessions.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(30*time.Minute), sessions.idle.Load())

	require.Eventually(t, func() bool {
		info, err := s.GetTask(TaskAffinityStore)
		return err == nil && info.LastRun != nil && info.LastError == ""
	}, time.Second, 5*time.Millisecond)
}

func TestJanitorSkipsNilCollaborators(t *testing.T) {
	s := newScheduler(t)
	require.NoError(t, RegisterJanitor(s, nil, nil, nil, JanitorOptions{}, logging.Discard()))
	assert.Empty(t, s.ListTasks())
}
