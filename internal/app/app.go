// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"

	"media-resolver-go/pkg/affinity"
	"media-resolver-go/pkg/appctx"
	"media-resolver-go/pkg/captions"
	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/flaresolverr"
	"media-resolver-go/pkg/handlers/api"
	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/kvstore"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/manifest"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/prefetch"
	"media-resolver-go/pkg/providers"
	"media-resolver-go/pkg/relay"
	"media-resolver-go/pkg/resolver"
	"media-resolver-go/pkg/scheduler"
	"media-resolver-go/pkg/server"
	"media-resolver-go/pkg/session"
	"media-resolver-go/pkg/stremio"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/validator"
	"media-resolver-go/pkg/watchparty"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Sources    *providers.SourceRegistry
	Embeds     *providers.EmbedRegistry
	Affinity   *affinity.Store
	Store      kvstore.Store

	logCloser io.Closer
}

// New creates and initializes the application.
func New() (*App, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	// Initialize logger
	log, logCloser := logging.NewWithFile(cfg.LogLevel, cfg.LogJSON, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	})
	log.Info("initializing media resolver", "port", cfg.Port, "log_level", cfg.LogLevel)

	// Create application context
	ctx := appctx.New(cfg, log)

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Durable affinity storage
	store, err := kvstore.Open(kvstore.Options{
		Backend:       cfg.KVBackend,
		Path:          cfg.KVPath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, log)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to open affinity store: %w", err)
	}

	affOpts := affinity.DefaultOptions()
	affOpts.ReadTimeout = cfg.AffinityReadTimeout
	affOpts.MemoryTTL = cfg.AffinityTTL
	affOpts.MemorySize = cfg.AffinityMemorySize
	affinityStore := affinity.New(store, affOpts, log)

	// Create FlareSolverr client if configured
	var flareClient *flaresolverr.Client
	if cfg.FlareSolverrURL != "" {
		flareClient = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL)
	}

	// Register providers
	embeds := providers.NewEmbedRegistry()
	registerEmbeds(embeds, httpClient, flareClient, log)
	sources := providers.NewSourceRegistry()
	registerSources(sources, cfg, httpClient, flareClient, embeds, log)

	// Resolver
	probe := validator.New(httpClient, cfg.ValidatorTimeout, log)
	res := resolver.New(sources, embeds, probe, affinityStore, resolver.NewCache(cfg.CacheTTL), resolver.Options{
		SourceOrder:     cfg.SourceOrder,
		SourceWidth:     cfg.SourceWindow,
		EmbedWidth:      cfg.EmbedWindow,
		AffinityTimeout: cfg.AffinityReadTimeout,
		ProviderTimeout: cfg.ProviderTimeout,
		Timeout:         cfg.ResolveTimeout,
	}, log)

	manifests := manifest.NewLoader(httpClient, log)
	prefetcher := prefetch.New(httpClient, prefetch.Options{
		MaxSegments:  cfg.PrefetchMaxSegments,
		Window:       cfg.PrefetchWindow,
		BatchSize:    cfg.PrefetchBatchSize,
		FetchTimeout: cfg.PrefetchFetchTimeout,
		Timeout:      cfg.PrefetchTimeout,
	}, log)

	captionLoader, err := captions.NewLoader(httpClient, captions.DefaultCacheSize, log)
	if err != nil {
		logCloser.Close()
		store.Close()
		return nil, err
	}

	// Watch parties
	hub := watchparty.NewHub(watchparty.NewMemoryDocument(), log)

	// Playback sessions
	clock := clockwork.NewRealClock()
	sessions := session.NewManager(session.Deps{
		Resolver:  res,
		Manifests: manifests,
		Clock:     clock,
		Parties:   hub.Document(),
	}, prefetcher, progressLogger(log), nil, session.ManagerOptions{
		Session: session.Options{
			ConstrainedTarget: cfg.ConstrainedTarget,
			BufferingDebounce: cfg.BufferingDebounce,
			BufferingStall:    cfg.BufferingStall,
		},
		ProgressInterval: cfg.ProgressInterval,
		PrefetchInterval: cfg.PrefetchInterval,
		PrefetchSeenCap:  cfg.PrefetchSeenCap,
		Party:            partyOptions(cfg),
	}, log)

	// Background jobs
	sched, err := scheduler.New(clock, log)
	if err != nil {
		logCloser.Close()
		store.Close()
		return nil, err
	}
	if err := scheduler.RegisterJanitor(sched, res.Cache(), store, sessions, scheduler.JanitorOptions{
		Interval:    cfg.JanitorInterval,
		SessionIdle: cfg.SessionIdleTimeout,
	}, log); err != nil {
		logCloser.Close()
		store.Close()
		return nil, fmt.Errorf("failed to register janitor: %w", err)
	}

	ctx.WithResolver(res).
		WithManifests(manifests).
		WithCaptions(captionLoader).
		WithSessions(sessions).
		WithParties(hub).
		WithScheduler(sched).
		WithRelay(relay.New(httpClient, cfg.BaseURL, cfg.APIPassword, log))

	// Create HTTP server
	srv := server.New(cfg, log)

	// Create API handlers
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())
	srv.Router().Handle("GET /metrics", metrics.Handler())

	// Register Stremio addon routes
	if cfg.StremioEnabled {
		stremioHandlers := stremio.NewHandlers(ctx)
		stremioHandlers.RegisterRoutes(srv.Router())
		log.Info("stremio addon enabled", "path", "/stremio")
	}

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Sources:    sources,
		Embeds:     embeds,
		Affinity:   affinityStore,
		Store:      store,
		logCloser:  logCloser,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Scheduler.Start()
	a.Ctx.Log.Info("starting media resolver server", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	log := a.Ctx.Log
	log.Info("shutting down application")

	if err := a.Ctx.Scheduler.Stop(); err != nil {
		log.Warn("failed to stop scheduler", "error", err)
	}
	if err := a.Ctx.Sessions.Close(); err != nil {
		log.Warn("failed to close sessions", "error", err)
	}

	// Flush pending affinity writes before the store goes away
	a.Affinity.Wait()
	if err := a.Store.Close(); err != nil {
		log.Warn("failed to close affinity store", "error", err)
	}

	a.Embeds.Close()
	a.logCloser.Close()
}

// registerEmbeds registers all embed scrapers.
// Add new embeds here by:
// 1. Creating a new embed in pkg/providers/
// 2. Registering it below
func registerEmbeds(
	reg *providers.EmbedRegistry,
	client interfaces.HTTPClient,
	flareClient *flaresolverr.Client,
	log *logging.Logger,
) {
	reg.Register(providers.NewMixdropEmbed(client, flareClient, log))
	reg.Register(providers.NewStreamtapeEmbed(client, flareClient, log))

	// Direct file and HLS links need no scraping
	reg.SetFallback(providers.NewDirectEmbed(log))

	log.Info("registered embeds", "count", len(reg.All())+1) // +1 for fallback
}

// registerSources registers the configured API and iframe sources.
func registerSources(
	reg *providers.SourceRegistry,
	cfg *config.Config,
	client interfaces.HTTPClient,
	flareClient *flaresolverr.Client,
	embeds *providers.EmbedRegistry,
	log *logging.Logger,
) {
	for _, src := range cfg.APISources {
		reg.Register(providers.NewAPISource(src, client, log))
	}
	for _, src := range cfg.IframeSources {
		reg.Register(providers.NewIframeSource(src, client, flareClient, embeds, log))
	}

	log.Info("registered sources", "ids", reg.IDs(), "order", cfg.SourceOrder)
	for _, id := range cfg.SourceOrder {
		if reg.GetByID(id) == nil {
			log.Warn("source in SOURCE_ORDER is not configured", "id", id)
		}
	}
}

// progressLogger stands in for the watch-history writer, which lives
// outside this service.
// partyOptions reads the watch party sync thresholds.
func partyOptions(cfg *config.Config) watchparty.Options {
	return watchparty.Options{
		PlayingInterval: cfg.PartyPlayingInterval,
		PlayingDrift:    cfg.PartyPlayingDrift,
		PausedInterval:  cfg.PartyPausedInterval,
		PausedDrift:     cfg.PartyPausedDrift,
		SeekThreshold:   cfg.PartySeekThreshold,
	}
}

func progressLogger(log *logging.Logger) interfaces.ProgressNotifier {
	log = log.WithComponent("progress")
	return interfaces.ProgressNotifierFunc(func(_ context.Context, u types.ProgressUpdate) {
		log.Debug("playback progress",
			"media_key", u.Key,
			"position_ms", u.PositionMillis,
			"duration_ms", u.DurationMillis,
			"ended", u.Ended,
		)
	})
}
