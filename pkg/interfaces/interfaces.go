// Package interfaces defines the core abstractions for the stream resolver.
// Providers, probes and collaborators implement these interfaces, making
// the system modular and easy to test.
package interfaces

import (
	"context"
	"net/http"

	"media-resolver-go/pkg/types"
)

// Source is a top-level upstream provider of media streams.
//
// To add a new source:
// 1. Create a new file in pkg/providers/
// 2. Implement this interface
// 3. Register it in the SourceRegistry
type Source interface {
	// ID returns a unique identifier for this source.
	ID() string

	// Scrape asks the source for a stream or a list of embeds for media.
	// Any error means this branch failed.
	Scrape(ctx context.Context, media types.MediaReference) (types.ProviderOutcome, error)
}

// Embed resolves an embed page discovered by a Source into a stream.
//
// To add a new embed:
// 1. Create a new file in pkg/providers/
// 2. Implement this interface
// 3. Register it in the EmbedRegistry
type Embed interface {
	// ID returns a unique identifier for this embed.
	ID() string

	// CanScrape returns true if this embed can handle the given URL.
	CanScrape(url string) bool

	// Scrape resolves the embed reference to a stream candidate.
	Scrape(ctx context.Context, ref types.EmbedRef) (*types.StreamCandidate, error)

	// Close releases any resources held by the embed.
	Close() error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StreamProbe answers whether a URI is currently playable.
type StreamProbe interface {
	// Probe returns true if the stream at uri responds like a live stream
	// of the given type. It never returns an error; failures are false.
	Probe(ctx context.Context, streamType types.StreamType, uri string, headers map[string]string) bool
}

// AffinityStore remembers the last working provider per media key.
type AffinityStore interface {
	// Get returns the stored affinity or nil. Errors and slow reads are nil.
	Get(ctx context.Context, key types.MediaKey) *types.ProviderAffinity

	// Put records an affinity without blocking the caller.
	Put(key types.MediaKey, affinity types.ProviderAffinity)
}

// StreamResolver turns a media reference into a validated source.
type StreamResolver interface {
	Resolve(ctx context.Context, media types.MediaReference, opts types.ResolveOptions) (*types.PlaybackSource, error)
}

// ProgressNotifier receives playback progress for an external watch-history writer.
type ProgressNotifier interface {
	NotifyProgress(ctx context.Context, update types.ProgressUpdate)
}

// ProgressNotifierFunc adapts a function to ProgressNotifier.
type ProgressNotifierFunc func(ctx context.Context, update types.ProgressUpdate)

// NotifyProgress calls f.
func (f ProgressNotifierFunc) NotifyProgress(ctx context.Context, update types.ProgressUpdate) {
	f(ctx, update)
}

// PlanTierLookup reports the viewer's plan tier. Only ad layering reads it.
type PlanTierLookup interface {
	PlanTier(ctx context.Context) types.PlanTier
}

// Registry is a generic interface for component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// GetByID returns the component with the given identifier.
	GetByID(id string) T

	// All returns all registered components.
	All() []T
}
