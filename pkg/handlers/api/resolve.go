package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"media-resolver-go/pkg/captions"
	"media-resolver-go/pkg/manifest"
	"media-resolver-go/pkg/resolver"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/urlutil"
)

// ParseMediaQuery builds a media reference from query parameters:
// type (movie, episode or tv), tmdb, imdb, title, year, season, episode.
// The optional sources parameter is a comma-separated source order.
func ParseMediaQuery(q url.Values) (types.MediaReference, []string, error) {
	year, err := optionalInt(q, "year")
	if err != nil {
		return types.MediaReference{}, nil, err
	}

	var media types.MediaReference
	switch strings.ToLower(q.Get("type")) {
	case "", "movie":
		media = types.NewMovie(q.Get("title"), q.Get("tmdb"), q.Get("imdb"), year)
	case "episode", "tv", "series", "show":
		season, err := optionalInt(q, "season")
		if err != nil {
			return types.MediaReference{}, nil, err
		}
		episode, err := optionalInt(q, "episode")
		if err != nil {
			return types.MediaReference{}, nil, err
		}
		media = types.NewEpisode(q.Get("title"), q.Get("tmdb"), q.Get("imdb"), year, types.SeasonInfo{Number: season}, episode)
	default:
		return types.MediaReference{}, nil, fmt.Errorf("unknown media type %q", q.Get("type"))
	}

	if err := media.Validate(); err != nil {
		return types.MediaReference{}, nil, err
	}

	var order []string
	for _, id := range strings.Split(q.Get("sources"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			order = append(order, id)
		}
	}
	return media, order, nil
}

func optionalInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

// handleResolve resolves a media reference to a validated playback source.
func (h *Handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	media, order, err := ParseMediaQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src, err := h.ctx.Resolver.Resolve(r.Context(), media, types.ResolveOptions{
		SourceOrder: order,
		DebugTag:    r.Header.Get("X-Request-ID"),
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, resolver.ErrNoPlayableStream) {
			status = http.StatusNotFound
		}
		h.log.Info("resolve failed", "media_key", media.Key(), "error", err)
		h.writeError(w, status, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, src)
}

// manifestResponse is the analyzed view of a master manifest.
type manifestResponse struct {
	URL         string                   `json:"url"`
	Variants    []types.QualityVariant   `json:"variants"`
	AudioTracks []types.AudioTrackOption `json:"audio_tracks"`
	Prefetch    *types.QualityVariant    `json:"prefetch_variant,omitempty"`
}

// handleManifest analyzes a master manifest and returns its variants ranked
// by playback compatibility. Proxy wrappers around url are removed first.
func (h *Handlers) handleManifest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("url")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	target, wrapped := urlutil.UnwrapProxyURL(raw)
	hdrs := urlutil.ParseHeaderParams(q)
	for k, v := range wrapped {
		if _, ok := hdrs[k]; !ok {
			hdrs[k] = v
		}
	}
	if !urlutil.IsHTTP(target) {
		h.writeError(w, http.StatusBadRequest, "url must be http or https")
		return
	}

	analysis, err := h.ctx.Manifests.Load(r.Context(), target, hdrs)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := manifestResponse{
		URL:         target,
		Variants:    manifest.RankByCompatibility(analysis.Variants),
		AudioTracks: analysis.AudioTracks,
	}
	if best, ok := manifest.BestForPrefetch(analysis.Variants); ok {
		resp.Prefetch = &best
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleCaptions fetches and parses a caption track. With position set it
// returns only the cue showing at that time.
func (h *Handlers) handleCaptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	track := types.CaptionTrack{
		URL:      q.Get("url"),
		Format:   q.Get("format"),
		Language: q.Get("language"),
	}
	if !urlutil.IsHTTP(track.URL) {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	cues, err := h.ctx.Captions.Load(r.Context(), track, urlutil.ParseHeaderParams(q))
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if raw := q.Get("position"); raw != "" {
		pos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid position %q", raw))
			return
		}
		cue, ok := captions.CueAt(cues, pos)
		if !ok {
			h.writeJSON(w, http.StatusOK, map[string]any{"cue": nil})
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"cue": cue})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"cues": cues})
}
