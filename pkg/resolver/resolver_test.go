package resolver

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/providers"
	"media-resolver-go/pkg/types"
)

type fakeSource struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context) (types.ProviderOutcome, error)
}

func (s *fakeSource) ID() string { return s.id }

func (s *fakeSource) Scrape(ctx context.Context, _ types.MediaReference) (types.ProviderOutcome, error) {
	s.calls.Add(1)
	return s.fn(ctx)
}

type fakeEmbed struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context, ref types.EmbedRef) (*types.StreamCandidate, error)
}

func (e *fakeEmbed) ID() string              { return e.id }
func (e *fakeEmbed) CanScrape(u string) bool { return strings.Contains(u, e.id+".example") }
func (e *fakeEmbed) Close() error            { return nil }
func (e *fakeEmbed) Scrape(ctx context.Context, ref types.EmbedRef) (*types.StreamCandidate, error) {
	e.calls.Add(1)
	return e.fn(ctx, ref)
}

// probeFunc adapts a function to interfaces.StreamProbe.
type probeFunc func(t types.StreamType, uri string, hdrs map[string]string) bool

func (f probeFunc) Probe(_ context.Context, t types.StreamType, uri string, hdrs map[string]string) bool {
	return f(t, uri, hdrs)
}

// passUnlessBad accepts every URI that does not contain "bad".
var passUnlessBad = probeFunc(func(_ types.StreamType, uri string, _ map[string]string) bool {
	return !strings.Contains(uri, "bad")
})

type memAffinity struct {
	mu   sync.Mutex
	m    map[types.MediaKey]types.ProviderAffinity
	puts []types.ProviderAffinity
}

func newMemAffinity() *memAffinity {
	return &memAffinity{m: make(map[types.MediaKey]types.ProviderAffinity)}
}

func (a *memAffinity) Get(_ context.Context, key types.MediaKey) *types.ProviderAffinity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if aff, ok := a.m[key]; ok {
		return &aff
	}
	return nil
}

func (a *memAffinity) Put(key types.MediaKey, aff types.ProviderAffinity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[key] = aff
	a.puts = append(a.puts, aff)
}

func (a *memAffinity) putCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.puts)
}

func hls(uri string) func(context.Context) (types.ProviderOutcome, error) {
	return func(context.Context) (types.ProviderOutcome, error) {
		return types.StreamOutcome(types.StreamCandidate{
			Stream: types.StreamDescriptor{Type: types.StreamTypeHLS, PlaylistURL: uri},
		}), nil
	}
}

func failing(context.Context) (types.ProviderOutcome, error) {
	return types.ProviderOutcome{}, errors.New("upstream down")
}

func discovery(refs ...types.EmbedRef) func(context.Context) (types.ProviderOutcome, error) {
	return func(context.Context) (types.ProviderOutcome, error) {
		return types.DiscoveryOutcome(refs), nil
	}
}

func embedReturning(uri string) func(context.Context, types.EmbedRef) (*types.StreamCandidate, error) {
	return func(context.Context, types.EmbedRef) (*types.StreamCandidate, error) {
		return &types.StreamCandidate{
			Stream: types.StreamDescriptor{Type: types.StreamTypeHLS, PlaylistURL: uri},
		}, nil
	}
}

type fixture struct {
	resolver *Resolver
	affinity *memAffinity
}

func newFixture(t *testing.T, sources []*fakeSource, embeds []*fakeEmbed, opts Options) fixture {
	t.Helper()

	srcReg := providers.NewSourceRegistry()
	var order []string
	for _, s := range sources {
		srcReg.Register(s)
		order = append(order, s.id)
	}
	embReg := providers.NewEmbedRegistry()
	for _, e := range embeds {
		embReg.Register(e)
	}
	embReg.SetFallback(providers.NewDirectEmbed(logging.Discard()))

	if opts.SourceOrder == nil {
		opts.SourceOrder = order
	}
	aff := newMemAffinity()
	r := New(srcReg, embReg, passUnlessBad, aff, NewCache(time.Minute), opts, logging.Discard())
	return fixture{resolver: r, affinity: aff}
}

func heat() types.MediaReference {
	return types.NewMovie("Heat", "949", "tt0113277", 1995)
}

func TestResolveSharesOneFlight(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{id: "slow", fn: func(ctx context.Context) (types.ProviderOutcome, error) {
		<-release
		return hls("https://cdn.example/shared.m3u8")(ctx)
	}}
	f := newFixture(t, []*fakeSource{src}, nil, Options{})

	const callers = 8
	results := make([]*types.PlaybackSource, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
			assert.NoError(t, err)
			results[i] = got
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	for _, got := range results {
		require.NotNil(t, got)
		assert.Same(t, results[0], got)
	}
}

func TestResolveSharedFailure(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{id: "down", fn: func(ctx context.Context) (types.ProviderOutcome, error) {
		<-release
		return failing(ctx)
	}}
	f := newFixture(t, []*fakeSource{src}, nil, Options{})

	errs := make(chan error, 4)
	for range 4 {
		go func() {
			_, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	for range 4 {
		assert.ErrorIs(t, <-errs, ErrNoPlayableStream)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestResolveCacheTTL(t *testing.T) {
	src := &fakeSource{id: "a", fn: hls("https://cdn.example/a.m3u8")}
	f := newFixture(t, []*fakeSource{src}, nil, Options{})

	now := time.Unix(1_700_000_000, 0)
	f.resolver.cache.now = func() time.Time { return now }

	first, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	second, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, src.calls.Load())

	now = now.Add(2 * time.Second)
	third, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestResolveFirstSuccessWins(t *testing.T) {
	slow := &fakeSource{id: "slow", fn: func(ctx context.Context) (types.ProviderOutcome, error) {
		time.Sleep(150 * time.Millisecond)
		return hls("https://cdn.example/slow.m3u8")(ctx)
	}}
	fast := &fakeSource{id: "fast", fn: hls("https://cdn.example/fast.m3u8")}
	never := &fakeSource{id: "never", fn: hls("https://cdn.example/never.m3u8")}
	f := newFixture(t, []*fakeSource{slow, fast, never}, nil, Options{SourceWidth: 2})

	got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fast", got.SourceID)
	assert.Equal(t, "https://cdn.example/fast.m3u8", got.URI)

	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 0, never.calls.Load(), "branches not yet started never launch")

	cached, ok := f.resolver.Cache().Get(heat().Key())
	require.True(t, ok)
	assert.Equal(t, "fast", cached.SourceID, "late finishers do not replace the winner")

	require.Equal(t, 1, f.affinity.putCount())
	assert.Equal(t, "fast", f.affinity.puts[0].SourceID)
}

func TestResolveFailedBranchLaunchesNext(t *testing.T) {
	a := &fakeSource{id: "a", fn: failing}
	b := &fakeSource{id: "b", fn: hls("https://cdn.example/bad.m3u8")}
	c := &fakeSource{id: "c", fn: hls("https://cdn.example/c.m3u8")}
	f := newFixture(t, []*fakeSource{a, b, c}, nil, Options{SourceWidth: 1})

	got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "c", got.SourceID)
}

func TestResolveExhaustion(t *testing.T) {
	brokenEmbed := &fakeEmbed{id: "broken", fn: func(context.Context, types.EmbedRef) (*types.StreamCandidate, error) {
		return nil, errors.New("scrape failed")
	}}
	invalidEmbed := &fakeEmbed{id: "invalid", fn: embedReturning("https://cdn.example/bad.m3u8")}

	sources := []*fakeSource{
		{id: "err", fn: failing},
		{id: "invalid", fn: hls("https://cdn.example/bad/master.m3u8")},
		{id: "embeds", fn: discovery(
			types.EmbedRef{URL: "https://broken.example/e/1"},
			types.EmbedRef{URL: "https://invalid.example/e/2"},
			types.EmbedRef{URL: "https://cdn.example/bad.mp4"},
		)},
		{id: "empty", fn: discovery()},
	}
	f := newFixture(t, sources, []*fakeEmbed{brokenEmbed, invalidEmbed}, Options{})

	got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	assert.Nil(t, got)
	require.ErrorIs(t, err, ErrNoPlayableStream)
	assert.Equal(t, ErrNoPlayableStream, err, "exhaustion surfaces no other error")

	assert.EqualValues(t, 1, brokenEmbed.calls.Load())
	assert.EqualValues(t, 1, invalidEmbed.calls.Load())
	assert.Zero(t, f.affinity.putCount())
	_, cached := f.resolver.Cache().Get(heat().Key())
	assert.False(t, cached)
}

func TestResolveNoUsableSources(t *testing.T) {
	f := newFixture(t, nil, nil, Options{SourceOrder: []string{"missing"}})

	_, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	assert.ErrorIs(t, err, ErrNoPlayableStream)

	_, err = f.resolver.Resolve(context.Background(), types.MediaReference{Kind: types.MediaKindMovie}, types.ResolveOptions{})
	assert.ErrorIs(t, err, ErrNoPlayableStream)
}

func TestResolveAffinityBias(t *testing.T) {
	a := &fakeSource{id: "a", fn: hls("https://cdn.example/a.m3u8")}
	b := &fakeSource{id: "b", fn: hls("https://cdn.example/b.m3u8")}
	c := &fakeSource{id: "c", fn: hls("https://cdn.example/c.m3u8")}
	f := newFixture(t, []*fakeSource{a, b, c}, nil, Options{SourceWidth: 1})
	f.affinity.m[heat().Key()] = types.ProviderAffinity{SourceID: "c"}

	got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "c", got.SourceID)
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Zero(t, a.calls.Load())
	assert.Zero(t, b.calls.Load())
}

func TestResolveEmbedOrdering(t *testing.T) {
	newEmbeds := func() []*fakeEmbed {
		return []*fakeEmbed{
			{id: "one", fn: embedReturning("https://cdn.example/one.m3u8")},
			{id: "two", fn: embedReturning("https://cdn.example/two.m3u8")},
			{id: "three", fn: embedReturning("https://cdn.example/three.m3u8")},
		}
	}
	refs := []types.EmbedRef{
		{URL: "https://one.example/e/1", Label: "Server 1"},
		{URL: "https://two.example/e/2", Label: "English"},
		{URL: "https://three.example/e/3"},
	}

	t.Run("english first", func(t *testing.T) {
		src := &fakeSource{id: "s", fn: discovery(refs...)}
		f := newFixture(t, []*fakeSource{src}, newEmbeds(), Options{EmbedWidth: 1})

		got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
		require.NoError(t, err)
		assert.Equal(t, "two", got.EmbedID)
		assert.Equal(t, "s", got.SourceID)
		assert.Equal(t, types.ProviderAffinity{SourceID: "s", EmbedID: "two", UpdatedAtMillis: f.affinity.puts[0].UpdatedAtMillis}, f.affinity.puts[0])
	})

	t.Run("affinity embed first", func(t *testing.T) {
		src := &fakeSource{id: "s", fn: discovery(refs...)}
		embeds := newEmbeds()
		f := newFixture(t, []*fakeSource{src}, embeds, Options{EmbedWidth: 1})
		f.affinity.m[heat().Key()] = types.ProviderAffinity{SourceID: "s", EmbedID: "three"}

		got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
		require.NoError(t, err)
		assert.Equal(t, "three", got.EmbedID)
		assert.Zero(t, embeds[0].calls.Load())
		assert.Zero(t, embeds[1].calls.Load())
	})

	t.Run("affinity for another source is ignored", func(t *testing.T) {
		src := &fakeSource{id: "s", fn: discovery(refs...)}
		f := newFixture(t, []*fakeSource{src}, newEmbeds(), Options{EmbedWidth: 1})
		f.affinity.m[heat().Key()] = types.ProviderAffinity{SourceID: "other", EmbedID: "three"}

		got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
		require.NoError(t, err)
		assert.Equal(t, "two", got.EmbedID)
	})
}

func TestResolveDoesNotExpandEmbedsAfterWin(t *testing.T) {
	embed := &fakeEmbed{id: "late", fn: embedReturning("https://cdn.example/late.m3u8")}
	slow := &fakeSource{id: "slow", fn: func(ctx context.Context) (types.ProviderOutcome, error) {
		time.Sleep(80 * time.Millisecond)
		return discovery(types.EmbedRef{URL: "https://late.example/e/1"})(ctx)
	}}
	fast := &fakeSource{id: "fast", fn: hls("https://cdn.example/fast.m3u8")}
	f := newFixture(t, []*fakeSource{slow, fast}, []*fakeEmbed{embed}, Options{})

	got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fast", got.SourceID)

	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, embed.calls.Load())
}

func TestResolveCallerOrderOverridesDefault(t *testing.T) {
	a := &fakeSource{id: "a", fn: hls("https://cdn.example/a.m3u8")}
	b := &fakeSource{id: "b", fn: hls("https://cdn.example/b.m3u8")}
	f := newFixture(t, []*fakeSource{a, b}, nil, Options{SourceWidth: 1})

	got, err := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{SourceOrder: []string{"b", "a"}, DebugTag: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "b", got.SourceID)
	assert.Zero(t, a.calls.Load())
}

func TestResolveCancelledCallerDoesNotFailJoiners(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{id: "slow", fn: func(ctx context.Context) (types.ProviderOutcome, error) {
		<-release
		return hls("https://cdn.example/ok.m3u8")(ctx)
	}}
	f := newFixture(t, []*fakeSource{src}, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(ctx, heat(), types.ResolveOptions{})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	joined := make(chan *types.PlaybackSource, 1)
	go func() {
		got, _ := f.resolver.Resolve(context.Background(), heat(), types.ResolveOptions{})
		joined <- got
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-joined
	require.NotNil(t, got)
	assert.Equal(t, "https://cdn.example/ok.m3u8", got.URI)
}

func TestBuildFileQualityOrder(t *testing.T) {
	var probed []string
	var mu sync.Mutex
	probe := probeFunc(func(_ types.StreamType, uri string, _ map[string]string) bool {
		mu.Lock()
		probed = append(probed, uri)
		mu.Unlock()
		return !strings.Contains(uri, "bad")
	})
	r := New(providers.NewSourceRegistry(), providers.NewEmbedRegistry(), probe, nil, nil, Options{}, logging.Discard())

	c := types.StreamCandidate{
		Stream: types.StreamDescriptor{
			Type: types.StreamTypeFile,
			Qualities: map[string]string{
				"360":     "https://cdn.example/360.mp4",
				"1080p":   "https://cdn.example/1080.mp4",
				"4k":      "https://cdn.example/bad-4k.mp4",
				"unknown": "https://cdn.example/x.mp4",
			},
		},
		SourceID: "s",
	}

	got, err := r.build(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "1080p", got.Quality)
	assert.Equal(t, "https://cdn.example/1080.mp4", got.URI)
	assert.Equal(t, []string{"https://cdn.example/bad-4k.mp4", "https://cdn.example/1080.mp4"}, probed)
}

func TestOrderQualities(t *testing.T) {
	got := OrderQualities(map[string]string{
		"unknown": "u", "360": "a", "720p": "b", "2160p": "c", "480": "d", "1080": "e", "auto": "f",
	})
	assert.Equal(t, []string{"2160p", "1080", "720p", "480", "360", "auto", "unknown"}, got)
}

func TestBuildUnwrapsProxyAndSanitizes(t *testing.T) {
	var seen map[string]string
	probe := probeFunc(func(_ types.StreamType, _ string, hdrs map[string]string) bool {
		seen = hdrs
		return true
	})
	r := New(providers.NewSourceRegistry(), providers.NewEmbedRegistry(), probe, nil, nil, Options{}, logging.Discard())

	inner := "https://cdn.example/master.m3u8"
	wrapped := "https://wrap.example/m3u8-proxy?url=" + url.QueryEscape(inner) +
		"&headers=" + url.QueryEscape(`{"referer":"https://player.example/"}`)

	got, err := r.build(context.Background(), types.StreamCandidate{
		Stream:  types.StreamDescriptor{Type: types.StreamTypeHLS, PlaylistURL: wrapped},
		Headers: map[string]string{"Referer": "https://old.example/", "Host": "wrap.example", "X-Token": "t"},
	})
	require.NoError(t, err)
	assert.Equal(t, inner, got.URI)
	assert.Equal(t, "https://player.example/", got.Headers["Referer"])
	assert.Equal(t, "https://player.example/", got.Headers["referer"])
	assert.Equal(t, "t", got.Headers["X-Token"])
	assert.NotContains(t, got.Headers, "Host")
	assert.Equal(t, got.Headers, seen, "probe sees the sanitized headers")
	assert.True(t, got.IsAdaptive())
}

func TestBuildRejects(t *testing.T) {
	r := New(providers.NewSourceRegistry(), providers.NewEmbedRegistry(), passUnlessBad, nil, nil, Options{}, logging.Discard())

	for name, c := range map[string]types.StreamCandidate{
		"hls without playlist": {Stream: types.StreamDescriptor{Type: types.StreamTypeHLS}},
		"file without urls":    {Stream: types.StreamDescriptor{Type: types.StreamTypeFile}},
		"all qualities bad":    {Stream: types.StreamDescriptor{Type: types.StreamTypeFile, Qualities: map[string]string{"720": "https://bad.example/a.mp4"}}},
		"unknown type":         {Stream: types.StreamDescriptor{Type: "dash", PlaylistURL: "https://cdn.example/a.mpd"}},
	} {
		_, err := r.build(context.Background(), c)
		assert.Error(t, err, name)
	}
}

var _ interfaces.Source = (*fakeSource)(nil)
var _ interfaces.Embed = (*fakeEmbed)(nil)
