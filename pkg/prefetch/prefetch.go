// Package prefetch warms CDN caches for upcoming HLS segments.
package prefetch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/manifest"
	"media-resolver-go/pkg/metrics"
)

const (
	warmRange = "bytes=0-0"

	// liveTailSegments is how far from the end a live playlist starts.
	liveTailSegments = 3
)

// Options bounds a prefetch pass.
type Options struct {
	MaxSegments  int
	Window       time.Duration
	BatchSize    int
	FetchTimeout time.Duration
	Timeout      time.Duration
}

// DefaultOptions returns the stock limits.
func DefaultOptions() Options {
	return Options{
		MaxSegments:  10,
		Window:       60 * time.Second,
		BatchSize:    3,
		FetchTimeout: 8 * time.Second,
		Timeout:      25 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxSegments <= 0 {
		o.MaxSegments = d.MaxSegments
	}
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// SeenSet remembers segment URIs already warmed. It is cleared once it
// grows past its cap.
type SeenSet struct {
	mu   sync.Mutex
	uris map[string]struct{}
	cap  int
}

// NewSeenSet creates a SeenSet holding at most capacity URIs.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 512
	}
	return &SeenSet{uris: make(map[string]struct{}), cap: capacity}
}

// Has reports whether uri was recorded.
func (s *SeenSet) Has(uri string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uris[uri]
	return ok
}

// Add records uri, clearing the set first if it is full.
func (s *SeenSet) Add(uri string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.uris) >= s.cap {
		clear(s.uris)
	}
	s.uris[uri] = struct{}{}
}

// Len returns the number of recorded URIs.
func (s *SeenSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uris)
}

// Request describes one prefetch pass.
type Request struct {
	ManifestURI string
	Headers     map[string]string
	Position    time.Duration
	Seen        *SeenSet
}

// Result summarizes a pass. It is informational only.
type Result struct {
	Planned int
	Fetched int
	Failed  int
}

// Plan selects segments to warm. For VOD it skips forward until the
// accumulated duration reaches start; for live it starts near the tail.
// It stops at maxSegments or once window is covered, skipping seen URIs.
func Plan(playlist manifest.MediaPlaylist, start time.Duration, maxSegments int, window time.Duration, seen *SeenSet) []manifest.Segment {
	segments := playlist.Segments
	if len(segments) == 0 || maxSegments <= 0 {
		return nil
	}

	first := 0
	if playlist.Ended {
		startSecs := start.Seconds()
		var elapsed float64
		for first < len(segments) && elapsed+segments[first].Duration <= startSecs {
			elapsed += segments[first].Duration
			first++
		}
	} else {
		first = max(len(segments)-min(maxSegments, liveTailSegments), 0)
	}

	windowSecs := window.Seconds()
	var planned []manifest.Segment
	var covered float64
	for _, seg := range segments[first:] {
		if len(planned) >= maxSegments || covered >= windowSecs {
			break
		}
		if seen.Has(seg.URI) {
			continue
		}
		planned = append(planned, seg)
		covered += seg.Duration
	}
	return planned
}

// Prefetcher warms upcoming segments with tiny ranged requests.
type Prefetcher struct {
	client interfaces.HTTPClient
	loader *manifest.Loader
	opts   Options
	log    *logging.Logger
}

// New creates a Prefetcher.
func New(client interfaces.HTTPClient, opts Options, log *logging.Logger) *Prefetcher {
	return &Prefetcher{
		client: client,
		loader: manifest.NewLoader(client, log),
		opts:   opts.withDefaults(),
		log:    log.WithComponent("prefetch"),
	}
}

// Prefetch runs one best-effort pass. Errors are logged and swallowed.
func (p *Prefetcher) Prefetch(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	playlist, ok := p.mediaPlaylist(ctx, req.ManifestURI, req.Headers)
	if !ok {
		return Result{}
	}

	planned := Plan(playlist, req.Position, p.opts.MaxSegments, p.opts.Window, req.Seen)
	for _, seg := range planned {
		req.Seen.Add(seg.URI)
	}

	var fetched, failed atomic.Int32
	for start := 0; start < len(planned); start += p.opts.BatchSize {
		if ctx.Err() != nil {
			break
		}
		batch := planned[start:min(start+p.opts.BatchSize, len(planned))]

		var g errgroup.Group
		for _, seg := range batch {
			g.Go(func() error {
				if p.warm(ctx, seg.URI, req.Headers) {
					fetched.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	result := Result{Planned: len(planned), Fetched: int(fetched.Load()), Failed: int(failed.Load())}
	p.log.Debug("prefetch pass finished",
		"url", req.ManifestURI,
		"planned", result.Planned,
		"fetched", result.Fetched,
		"failed", result.Failed,
	)
	return result
}

// mediaPlaylist fetches uri and, for a master manifest, descends into the
// best prefetch variant.
func (p *Prefetcher) mediaPlaylist(ctx context.Context, uri string, hdrs map[string]string) (manifest.MediaPlaylist, bool) {
	body, err := p.loader.Fetch(ctx, uri, hdrs)
	if err != nil {
		p.log.Debug("prefetch manifest fetch failed", "url", uri, "error", err)
		return manifest.MediaPlaylist{}, false
	}

	if manifest.IsMaster(body) {
		best, ok := manifest.BestForPrefetch(manifest.ParseVariants(body, uri))
		if !ok {
			return manifest.MediaPlaylist{}, false
		}
		uri = best.URI
		if body, err = p.loader.Fetch(ctx, uri, hdrs); err != nil {
			p.log.Debug("prefetch variant fetch failed", "url", uri, "error", err)
			return manifest.MediaPlaylist{}, false
		}
	}

	return manifest.ParseMediaPlaylist(body, uri), true
}

func (p *Prefetcher) warm(ctx context.Context, uri string, hdrs map[string]string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	resp, err := httpclient.Fetch(ctx, p.client, http.MethodGet, uri, hdrs, warmRange)
	ok := err == nil && httpclient.IsSuccess(resp.StatusCode)
	if err == nil {
		httpclient.Drain(resp)
	}
	metrics.RecordPrefetch(ok)
	return ok
}
