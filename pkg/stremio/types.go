// Package stremio provides a Stremio addon that resolves streams through
// the resolver core.
package stremio

// IDPrefix marks the ids this addon answers for: tmdb:<id> for movies and
// tmdb:<id>:<season>:<episode> for series episodes.
const IDPrefix = "tmdb:"

// Manifest is the Stremio addon manifest.
var Manifest = map[string]interface{}{
	"id":          "org.stremio.media-resolver",
	"version":     "1.0.0",
	"name":        "Media Resolver",
	"description": "Validated streams for movies and series episodes",
	"resources":   []string{"stream"},
	"types":       []string{"movie", "series"},
	"catalogs":    []map[string]interface{}{},
	"idPrefixes":  []string{IDPrefix},
	"behaviorHints": map[string]interface{}{
		"configurable": false,
	},
}

// Stream represents a Stremio stream item.
type Stream struct {
	URL           string         `json:"url"`
	Name          string         `json:"name,omitempty"`
	Title         string         `json:"title"`
	Subtitles     []Subtitle     `json:"subtitles,omitempty"`
	BehaviorHints *BehaviorHints `json:"behaviorHints,omitempty"`
}

// Subtitle is an external caption track offered with a stream.
type Subtitle struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

// BehaviorHints tells the player how to fetch the stream.
type BehaviorHints struct {
	NotWebReady  bool          `json:"notWebReady,omitempty"`
	BingeGroup   string        `json:"bingeGroup,omitempty"`
	ProxyHeaders *ProxyHeaders `json:"proxyHeaders,omitempty"`
}

// ProxyHeaders carries upstream request headers for the streaming server.
type ProxyHeaders struct {
	Request map[string]string `json:"request,omitempty"`
}
