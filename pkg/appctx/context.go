// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"context"

	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/manifest"
	"media-resolver-go/pkg/relay"
	"media-resolver-go/pkg/scheduler"
	"media-resolver-go/pkg/session"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/watchparty"
)

// ManifestAnalyzer loads and analyzes a master manifest.
type ManifestAnalyzer interface {
	Load(ctx context.Context, uri string, hdrs map[string]string) (manifest.Analysis, error)
}

// CaptionLoader fetches and parses a caption track.
type CaptionLoader interface {
	Load(ctx context.Context, track types.CaptionTrack, hdrs map[string]string) ([]types.CaptionCue, error)
}

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config    *config.Config
	Log       *logging.Logger
	Resolver  interfaces.StreamResolver
	Manifests ManifestAnalyzer
	Captions  CaptionLoader
	Sessions  *session.Manager
	Parties   *watchparty.Hub
	Scheduler *scheduler.Scheduler
	Relay     *relay.Relay
	BaseURL   string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: cfg.BaseURL,
	}
}

// WithResolver sets the stream resolver.
func (c *Context) WithResolver(r interfaces.StreamResolver) *Context {
	c.Resolver = r
	return c
}

// WithManifests sets the manifest analyzer.
func (c *Context) WithManifests(m ManifestAnalyzer) *Context {
	c.Manifests = m
	return c
}

// WithCaptions sets the caption loader.
func (c *Context) WithCaptions(l CaptionLoader) *Context {
	c.Captions = l
	return c
}

// WithSessions sets the playback session manager.
func (c *Context) WithSessions(m *session.Manager) *Context {
	c.Sessions = m
	return c
}

// WithParties sets the watch-party hub.
func (c *Context) WithParties(h *watchparty.Hub) *Context {
	c.Parties = h
	return c
}

// WithScheduler sets the background job scheduler.
func (c *Context) WithScheduler(s *scheduler.Scheduler) *Context {
	c.Scheduler = s
	return c
}

// WithRelay sets the header relay.
func (c *Context) WithRelay(r *relay.Relay) *Context {
	c.Relay = r
	return c
}
