package stremio

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"media-resolver-go/pkg/appctx"
	"media-resolver-go/pkg/headers"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

// Handlers contains all Stremio addon handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Stremio Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("stremio"),
	}
}

// RegisterRoutes registers all Stremio addon routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stremio", h.handleHome)
	mux.HandleFunc("GET /stremio/{$}", h.handleHome)
	mux.HandleFunc("GET /stremio/manifest.json", h.handleManifest)
	mux.HandleFunc("GET /stremio/stream/{type}/{id}", h.handleStream)
}

// handleHome serves the Stremio addon installation page.
func (h *Handlers) handleHome(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := r.Host
	manifestURL := fmt.Sprintf("%s://%s/stremio/manifest.json", scheme, host)
	stremioURL := fmt.Sprintf("stremio://%s/stremio/manifest.json", host)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Media Resolver - Stremio Addon</title></head>
<body>
    <h1>Media Resolver</h1>
    <p><a href="%s">Install in Stremio</a></p>
    <p>Or add the manifest manually: <code>%s</code></p>
</body>
</html>`, stremioURL, manifestURL)
}

// handleManifest returns the Stremio addon manifest.
func (h *Handlers) handleManifest(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, Manifest)
}

// handleStream resolves a movie or episode and returns it as a single stream.
// Unknown ids and failed resolutions both yield an empty list, which is
// what Stremio expects from an addon with nothing to offer.
func (h *Handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	streamType := r.PathValue("type")
	streamID := strings.TrimSuffix(r.PathValue("id"), ".json")

	media, err := ParseID(streamType, streamID)
	if err != nil {
		h.log.Debug("ignoring stream request", "type", streamType, "id", streamID, "error", err)
		h.jsonResponse(w, map[string][]Stream{"streams": {}})
		return
	}

	src, err := h.ctx.Resolver.Resolve(r.Context(), media, types.ResolveOptions{
		DebugTag: "stremio:" + streamID,
	})
	if err != nil {
		h.log.Info("no stream for stremio request", "media_key", media.Key(), "error", err)
		h.jsonResponseNoCache(w, map[string][]Stream{"streams": {}})
		return
	}

	h.jsonResponseNoCache(w, map[string][]Stream{"streams": {ToStream(media, src)}})
}

// ParseID converts a Stremio type and id into a media reference.
func ParseID(streamType, id string) (types.MediaReference, error) {
	if !strings.HasPrefix(id, IDPrefix) {
		return types.MediaReference{}, fmt.Errorf("unsupported id %q", id)
	}
	parts := strings.Split(strings.TrimPrefix(id, IDPrefix), ":")

	var media types.MediaReference
	switch streamType {
	case "movie":
		if len(parts) != 1 {
			return types.MediaReference{}, fmt.Errorf("malformed movie id %q", id)
		}
		media = types.NewMovie("", parts[0], "", 0)
	case "series":
		if len(parts) != 3 {
			return types.MediaReference{}, fmt.Errorf("malformed episode id %q", id)
		}
		season, err := strconv.Atoi(parts[1])
		if err != nil {
			return types.MediaReference{}, fmt.Errorf("invalid season in %q", id)
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil {
			return types.MediaReference{}, fmt.Errorf("invalid episode in %q", id)
		}
		media = types.NewEpisode("", parts[0], "", 0, types.SeasonInfo{Number: season}, episode)
	default:
		return types.MediaReference{}, fmt.Errorf("unsupported type %q", streamType)
	}

	if err := media.Validate(); err != nil {
		return types.MediaReference{}, err
	}
	return media, nil
}

// ToStream converts a resolved source into a Stremio stream.
func ToStream(media types.MediaReference, src *types.PlaybackSource) Stream {
	title := strings.ToUpper(string(src.Type))
	if src.Quality != "" {
		title = src.Quality + " " + title
	}
	if src.EmbedID != "" {
		title += "\n" + src.SourceID + " / " + src.EmbedID
	} else {
		title += "\n" + src.SourceID
	}

	stream := Stream{
		URL:   src.URI,
		Name:  "Media Resolver",
		Title: title,
	}

	hints := &BehaviorHints{}
	if media.Kind == types.MediaKindEpisode {
		hints.BingeGroup = "media-resolver-" + src.SourceID
	}
	if req := headers.Canonical(src.Headers); len(req) > 0 {
		hints.NotWebReady = true
		hints.ProxyHeaders = &ProxyHeaders{Request: req}
	}
	if *hints != (BehaviorHints{}) {
		stream.BehaviorHints = hints
	}

	for _, c := range src.Captions {
		stream.Subtitles = append(stream.Subtitles, Subtitle{ID: c.ID, URL: c.URL, Lang: c.Language})
	}
	return stream
}

// jsonResponse writes a JSON response.
func (h *Handlers) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
	json.NewEncoder(w).Encode(data)
}

// jsonResponseNoCache writes a JSON response with no-cache headers.
func (h *Handlers) jsonResponseNoCache(w http.ResponseWriter, data any) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	h.jsonResponse(w, data)
}
