package providers

import (
	"sync"

	"media-resolver-go/pkg/interfaces"
)

// SourceRegistry manages top-level sources by id.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources []interfaces.Source
	byID    map[string]interfaces.Source
}

// NewSourceRegistry creates a new source registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		sources: make([]interfaces.Source, 0),
		byID:    make(map[string]interfaces.Source),
	}
}

// Register adds a source. A later source with the same id replaces the earlier one.
func (r *SourceRegistry) Register(source interfaces.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[source.ID()]; exists {
		for i, s := range r.sources {
			if s.ID() == source.ID() {
				r.sources[i] = source
			}
		}
	} else {
		r.sources = append(r.sources, source)
	}
	r.byID[source.ID()] = source
}

// GetByID returns the source with the given id, or nil.
func (r *SourceRegistry) GetByID(id string) interfaces.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// All returns all registered sources in registration order.
func (r *SourceRegistry) All() []interfaces.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Source, len(r.sources))
	copy(result, r.sources)
	return result
}

// IDs returns the registered source ids in registration order.
func (r *SourceRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.sources))
	for i, s := range r.sources {
		ids[i] = s.ID()
	}
	return ids
}

// EmbedRegistry manages embed scrapers.
type EmbedRegistry struct {
	mu       sync.RWMutex
	embeds   []interfaces.Embed
	byID     map[string]interfaces.Embed
	fallback interfaces.Embed
}

// NewEmbedRegistry creates a new embed registry.
func NewEmbedRegistry() *EmbedRegistry {
	return &EmbedRegistry{
		embeds: make([]interfaces.Embed, 0),
		byID:   make(map[string]interfaces.Embed),
	}
}

// Register adds an embed to the registry.
func (r *EmbedRegistry) Register(embed interfaces.Embed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeds = append(r.embeds, embed)
	r.byID[embed.ID()] = embed
}

// SetFallback sets the embed used when no registered embed matches a URL.
func (r *EmbedRegistry) SetFallback(embed interfaces.Embed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = embed
	r.byID[embed.ID()] = embed
}

// ForURL returns the embed that can scrape url, or the fallback.
func (r *EmbedRegistry) ForURL(url string) interfaces.Embed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.embeds {
		if e.CanScrape(url) {
			return e
		}
	}
	return r.fallback
}

// GetByID returns an embed by its id, or nil.
func (r *EmbedRegistry) GetByID(id string) interfaces.Embed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Lookup picks the embed for a discovered reference: by id when the source
// named one, otherwise by URL.
func (r *EmbedRegistry) Lookup(embedID, url string) interfaces.Embed {
	if embedID != "" {
		if e := r.GetByID(embedID); e != nil {
			return e
		}
	}
	return r.ForURL(url)
}

// All returns all registered embeds, excluding the fallback.
func (r *EmbedRegistry) All() []interfaces.Embed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Embed, len(r.embeds))
	copy(result, r.embeds)
	return result
}

// Close closes all registered embeds.
func (r *EmbedRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.embeds {
		_ = e.Close()
	}
	if r.fallback != nil {
		_ = r.fallback.Close()
	}
	return nil
}

var (
	_ interfaces.Registry[interfaces.Source] = (*SourceRegistry)(nil)
	_ interfaces.Registry[interfaces.Embed]  = (*EmbedRegistry)(nil)
)
