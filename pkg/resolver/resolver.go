// Package resolver turns a media reference into one validated playback
// source by racing sources and their embeds.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/race"
	"media-resolver-go/pkg/types"
)

// ErrNoPlayableStream is returned when every source and embed failed.
var ErrNoPlayableStream = errors.New("no playable stream found")

// errSuperseded marks a branch skipped because the call was already won.
var errSuperseded = errors.New("resolution already won")

// SourceLookup finds sources by id.
type SourceLookup interface {
	GetByID(id string) interfaces.Source
}

// EmbedLookup picks the embed scraper for a discovered reference.
type EmbedLookup interface {
	Lookup(embedID, url string) interfaces.Embed
}

// Options configures a Resolver.
type Options struct {
	// SourceOrder is used when a call does not name its own order.
	SourceOrder []string
	// SourceWidth and EmbedWidth bound the sliding windows.
	SourceWidth int
	EmbedWidth  int
	// AffinityTimeout bounds the affinity read.
	AffinityTimeout time.Duration
	// ProviderTimeout bounds each Scrape call.
	ProviderTimeout time.Duration
	// Timeout bounds one whole resolution.
	Timeout time.Duration
}

// DefaultOptions returns the stock resolver settings.
func DefaultOptions() Options {
	return Options{
		SourceWidth:     race.DefaultWidth,
		EmbedWidth:      race.DefaultWidth,
		AffinityTimeout: 350 * time.Millisecond,
		ProviderTimeout: 15 * time.Second,
		Timeout:         90 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SourceWidth <= 0 {
		o.SourceWidth = d.SourceWidth
	}
	if o.EmbedWidth <= 0 {
		o.EmbedWidth = d.EmbedWidth
	}
	if o.AffinityTimeout <= 0 {
		o.AffinityTimeout = d.AffinityTimeout
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = d.ProviderTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// Resolver searches sources and embeds for a playable stream.
type Resolver struct {
	sources  SourceLookup
	embeds   EmbedLookup
	probe    interfaces.StreamProbe
	affinity interfaces.AffinityStore
	cache    *Cache
	opts     Options
	log      *logging.Logger
	now      func() time.Time
}

// New creates a resolver. cache may be shared with a janitor that sweeps it.
func New(sources SourceLookup, embeds EmbedLookup, probe interfaces.StreamProbe, affinity interfaces.AffinityStore, cache *Cache, opts Options, log *logging.Logger) *Resolver {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	return &Resolver{
		sources:  sources,
		embeds:   embeds,
		probe:    probe,
		affinity: affinity,
		cache:    cache,
		opts:     opts.withDefaults(),
		log:      log.WithComponent("resolver"),
		now:      time.Now,
	}
}

// Cache returns the resolution cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns a validated playback source for media. Concurrent calls
// for the same media share one search, and successful results are reused
// for the cache TTL. The only failure is ErrNoPlayableStream (or the
// caller's own context error).
func (r *Resolver) Resolve(ctx context.Context, media types.MediaReference, opts types.ResolveOptions) (*types.PlaybackSource, error) {
	if err := media.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlayableStream, err)
	}

	key := media.Key()
	log := r.log.WithMediaKey(string(key))
	if opts.DebugTag != "" {
		log = log.With("debug_tag", opts.DebugTag)
	}

	order := opts.SourceOrder
	if len(order) == 0 {
		order = r.opts.SourceOrder
	}

	start := r.now()
	src, lookup, err := r.cache.Do(ctx, key, func(ctx context.Context) (*types.PlaybackSource, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
		return r.search(ctx, media, order, log)
	})

	switch {
	case err != nil && errors.Is(err, ErrNoPlayableStream):
		metrics.RecordResolve("exhausted")
	case err != nil:
		metrics.RecordResolve("cancelled")
	case lookup == LookupHit:
		metrics.RecordResolve("cache_hit")
	case lookup == LookupJoined:
		metrics.RecordResolve("joined")
	default:
		metrics.RecordResolve("success")
	}
	if lookup != LookupHit {
		metrics.ObserveResolveDuration(r.now().Sub(start).Seconds())
	}
	return src, err
}

// search runs the source race for one media item.
func (r *Resolver) search(ctx context.Context, media types.MediaReference, order []string, log *logging.Logger) (*types.PlaybackSource, error) {
	key := media.Key()
	aff := r.readAffinity(ctx, key)
	ordered := ReorderSources(order, aff)

	log.Debug("resolving", "sources", ordered, "affinity", aff != nil)

	var won atomic.Bool
	tasks := make([]race.Task[*types.PlaybackSource], 0, len(ordered))
	for _, id := range ordered {
		source := r.sources.GetByID(id)
		if source == nil {
			log.Debug("unknown source skipped", "source", id)
			continue
		}
		tasks = append(tasks, func(ctx context.Context) (*types.PlaybackSource, error) {
			src, err := r.trySource(ctx, source, media, aff, &won, log)
			if err == nil {
				won.Store(true)
			}
			return src, err
		})
	}

	best, err := race.FirstSuccess(ctx, r.opts.SourceWidth, tasks)
	if err != nil {
		log.Info("no playable stream", "error", err)
		return nil, ErrNoPlayableStream
	}

	log.Info("resolved stream",
		"source", best.SourceID,
		"embed", best.EmbedID,
		"type", best.Type,
		"quality", best.Quality)

	if r.affinity != nil {
		r.affinity.Put(key, types.ProviderAffinity{
			SourceID:        best.SourceID,
			EmbedID:         best.EmbedID,
			UpdatedAtMillis: r.now().UnixMilli(),
		})
	}
	return best, nil
}

func (r *Resolver) readAffinity(ctx context.Context, key types.MediaKey) *types.ProviderAffinity {
	if r.affinity == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.AffinityTimeout)
	defer cancel()
	return r.affinity.Get(ctx, key)
}

// trySource asks one source for an outcome and builds or races it.
func (r *Resolver) trySource(ctx context.Context, source interfaces.Source, media types.MediaReference, aff *types.ProviderAffinity, won *atomic.Bool, log *logging.Logger) (*types.PlaybackSource, error) {
	id := source.ID()

	scrapeCtx, cancel := context.WithTimeout(ctx, r.opts.ProviderTimeout)
	out, err := source.Scrape(scrapeCtx, media)
	cancel()
	metrics.RecordProviderAttempt("source", id, err == nil)
	if err != nil {
		log.Debug("source failed", "source", id, "error", err)
		return nil, fmt.Errorf("source %s: %w", id, err)
	}

	switch out.Kind {
	case types.OutcomeStream:
		if out.Stream == nil {
			return nil, fmt.Errorf("source %s: empty stream outcome", id)
		}
		c := *out.Stream
		if c.SourceID == "" {
			c.SourceID = id
		}
		src, err := r.build(ctx, c)
		if err != nil {
			log.Debug("source stream rejected", "source", id, "error", err)
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		return src, nil

	case types.OutcomeDiscovery:
		if won.Load() {
			return nil, errSuperseded
		}
		return r.raceEmbeds(ctx, id, out.Embeds, aff, won, log)

	default:
		return nil, fmt.Errorf("source %s: unknown outcome kind %d", id, out.Kind)
	}
}

// raceEmbeds runs the embed-level race for one source's discovery result.
func (r *Resolver) raceEmbeds(ctx context.Context, sourceID string, refs []types.EmbedRef, aff *types.ProviderAffinity, won *atomic.Bool, log *logging.Logger) (*types.PlaybackSource, error) {
	type job struct {
		ref   types.EmbedRef
		embed interfaces.Embed
	}

	jobs := make(map[string]job, len(refs))
	tagged := make([]types.EmbedRef, 0, len(refs))
	for _, ref := range refs {
		embed := r.embeds.Lookup(ref.EmbedID, ref.URL)
		if embed == nil {
			log.Debug("no embed scraper for url", "source", sourceID, "url", ref.URL)
			continue
		}
		ref.EmbedID = embed.ID()
		if ref.SourceID == "" {
			ref.SourceID = sourceID
		}
		if _, dup := jobs[ref.URL]; dup {
			continue
		}
		jobs[ref.URL] = job{ref: ref, embed: embed}
		tagged = append(tagged, ref)
	}

	ordered := ReorderEmbeds(tagged, aff, sourceID)
	tasks := make([]race.Task[*types.PlaybackSource], 0, len(ordered))
	for _, ref := range ordered {
		j := jobs[ref.URL]
		tasks = append(tasks, func(ctx context.Context) (*types.PlaybackSource, error) {
			if won.Load() {
				return nil, errSuperseded
			}
			return r.tryEmbed(ctx, j.embed, j.ref, log)
		})
	}

	src, err := race.FirstSuccess(ctx, r.opts.EmbedWidth, tasks)
	if err != nil {
		return nil, fmt.Errorf("source %s embeds: %w", sourceID, err)
	}
	return src, nil
}

func (r *Resolver) tryEmbed(ctx context.Context, embed interfaces.Embed, ref types.EmbedRef, log *logging.Logger) (*types.PlaybackSource, error) {
	scrapeCtx, cancel := context.WithTimeout(ctx, r.opts.ProviderTimeout)
	c, err := embed.Scrape(scrapeCtx, ref)
	cancel()
	metrics.RecordProviderAttempt("embed", embed.ID(), err == nil && c != nil)
	if err != nil {
		log.Debug("embed failed", "embed", embed.ID(), "url", ref.URL, "error", err)
		return nil, fmt.Errorf("embed %s: %w", embed.ID(), err)
	}
	if c == nil {
		return nil, fmt.Errorf("embed %s: no candidate", embed.ID())
	}

	cand := *c
	if cand.SourceID == "" {
		cand.SourceID = ref.SourceID
	}
	if cand.EmbedID == "" {
		cand.EmbedID = embed.ID()
	}

	src, err := r.build(ctx, cand)
	if err != nil {
		log.Debug("embed stream rejected", "embed", embed.ID(), "error", err)
		return nil, fmt.Errorf("embed %s: %w", embed.ID(), err)
	}
	return src, nil
}

var _ interfaces.StreamResolver = (*Resolver)(nil)
