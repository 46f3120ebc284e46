package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/prefetch"
	"media-resolver-go/pkg/types"
)

type recordingPrefetcher struct {
	mu   sync.Mutex
	uris []string
}

func (p *recordingPrefetcher) Prefetch(_ context.Context, req prefetch.Request) prefetch.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uris = append(p.uris, req.ManifestURI)
	return prefetch.Result{Planned: 1, Fetched: 1}
}

func (p *recordingPrefetcher) count(uri string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.uris {
		if u == uri {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []types.ProgressUpdate
}

func (n *recordingNotifier) NotifyProgress(_ context.Context, u types.ProgressUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

type fixedPlan types.PlanTier

func (p fixedPlan) PlanTier(context.Context) types.PlanTier { return types.PlanTier(p) }

type managerHarness struct {
	manager    *Manager
	resolver   *fakeResolver
	manifests  *fakeManifests
	prefetcher *recordingPrefetcher
	notifier   *recordingNotifier
	clock      *clockwork.FakeClock
}

func newManagerHarness(t *testing.T, plans interfaces.PlanTierLookup) managerHarness {
	t.Helper()
	h := managerHarness{
		resolver:   &fakeResolver{fn: hlsSource("https://cdn.example/master.m3u8")},
		manifests:  &fakeManifests{analysis: sampleAnalysis()},
		prefetcher: &recordingPrefetcher{},
		notifier:   &recordingNotifier{},
		clock:      clockwork.NewFakeClock(),
	}
	h.manager = NewManager(
		Deps{Resolver: h.resolver, Manifests: h.manifests, Clock: h.clock},
		h.prefetcher, h.notifier, plans,
		ManagerOptions{ProgressInterval: 10 * time.Second, PrefetchInterval: 30 * time.Second},
		logging.Discard(),
	)
	t.Cleanup(func() { _ = h.manager.Close() })
	return h
}

func TestManagerCreate(t *testing.T) {
	h := newManagerHarness(t, fixedPlan(types.PlanPremium))

	snap, err := h.manager.Create(context.Background(), heat())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, StateReady, snap.State)
	assert.False(t, snap.ShowAds)
	assert.Equal(t, 1, h.manager.Len())

	got, err := h.manager.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
}

func TestManagerFreeTierShowsAds(t *testing.T) {
	h := newManagerHarness(t, fixedPlan(types.PlanFree))
	snap, err := h.manager.Create(context.Background(), heat())
	require.NoError(t, err)
	assert.True(t, snap.ShowAds)
}

func TestManagerCreateFailureKeepsSessionForRetry(t *testing.T) {
	h := newManagerHarness(t, nil)
	h.resolver.fn = func(types.MediaReference) (*types.PlaybackSource, error) { return nil, errUpstream }

	snap, err := h.manager.Create(context.Background(), heat())
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateFailed, snap.State)

	h.resolver.fn = hlsSource("https://cdn.example/master.m3u8")
	snap, err = h.manager.Dispatch(context.Background(), snap.ID, Event{Type: EventRetry})
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State)
}

func TestManagerDispatchErrors(t *testing.T) {
	h := newManagerHarness(t, nil)

	_, err := h.manager.Dispatch(context.Background(), "missing", Event{Type: EventPlay})
	require.ErrorIs(t, err, ErrNotFound)

	snap, err := h.manager.Create(context.Background(), heat())
	require.NoError(t, err)
	_, err = h.manager.Dispatch(context.Background(), snap.ID, Event{Type: "rewind"})
	require.ErrorIs(t, err, ErrUnknownEvent)
	_, err = h.manager.Dispatch(context.Background(), snap.ID, Event{Type: EventEpisode})
	require.Error(t, err)
}

func TestManagerProgressNotifications(t *testing.T) {
	h := newManagerHarness(t, nil)
	ctx := context.Background()

	snap, err := h.manager.Create(ctx, heat())
	require.NoError(t, err)
	id := snap.ID

	_, err = h.manager.Dispatch(ctx, id, Event{Type: EventPlay})
	require.NoError(t, err)
	for _, pos := range []int64{2_000, 5_000, 10_000, 12_000} {
		_, err = h.manager.Dispatch(ctx, id, Event{Type: EventPosition, PositionMillis: pos, DurationMillis: 6_000_000})
		require.NoError(t, err)
	}
	_, err = h.manager.Dispatch(ctx, id, Event{Type: EventPause})
	require.NoError(t, err)
	_, err = h.manager.Dispatch(ctx, id, Event{Type: EventEnded})
	require.NoError(t, err)

	require.NoError(t, h.manager.Close())

	key := heat().Key()
	assert.ElementsMatch(t, []types.ProgressUpdate{
		{Key: key, PositionMillis: 10_000, DurationMillis: 6_000_000},
		{Key: key, PositionMillis: 12_000, DurationMillis: 6_000_000},
		{Key: key, PositionMillis: 12_000, DurationMillis: 6_000_000, Ended: true},
	}, h.notifier.updates)
}

func TestManagerPrefetchFollowsActiveRendition(t *testing.T) {
	h := newManagerHarness(t, nil)
	ctx := context.Background()
	master := "https://cdn.example/master.m3u8"
	hd := "https://cdn.example/1080p.m3u8"

	snap, err := h.manager.Create(ctx, heat())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.prefetcher.count(master) == 1 }, time.Second, 5*time.Millisecond)

	_, err = h.manager.Dispatch(ctx, snap.ID, Event{Type: EventQuality, VariantID: "1080p"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.prefetcher.count(hd) == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return h.prefetcher.count(hd) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.prefetcher.count(master))
}

func TestManagerEpisodeChange(t *testing.T) {
	h := newManagerHarness(t, nil)
	ctx := context.Background()

	snap, err := h.manager.Create(ctx, heat())
	require.NoError(t, err)

	next := types.NewEpisode("Show", "1399", "", 2011, types.SeasonInfo{Number: 1}, 2)
	snap, err = h.manager.Dispatch(ctx, snap.ID, Event{Type: EventEpisode, Media: &next})
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Media.Episode)
	assert.EqualValues(t, 2, snap.Generation)
	assert.Equal(t, StateReady, snap.State)
}

func TestManagerSweepIdle(t *testing.T) {
	h := newManagerHarness(t, nil)
	ctx := context.Background()

	snap, err := h.manager.Create(ctx, heat())
	require.NoError(t, err)

	assert.Zero(t, h.manager.SweepIdle(30*time.Minute))
	h.clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, h.manager.SweepIdle(30*time.Minute))

	_, err = h.manager.Get(snap.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, h.manager.Len())
}
