// Package relay serves upstream playlists and media through this server so
// players that cannot set Referer or Origin can still play a resolved source.
package relay

import (
	"bufio"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"media-resolver-go/pkg/headers"
	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/urlutil"
)

// Relay endpoints. Both are recognized by urlutil.UnwrapProxyURL, so a
// relayed URL fed back into the resolver unwraps to its upstream.
const (
	ManifestPath = "/proxy/hls/manifest.m3u8"
	StreamPath   = "/proxy/stream"
)

const maxPlaylistBytes = 4 << 20

// Relay rewrites HLS playlists so every URI routes back through it, and
// pipes segments and progressive files with the source's headers applied.
type Relay struct {
	client   interfaces.HTTPClient
	baseURL  string
	password string
	log      *logging.Logger
}

// New creates a relay. baseURL prefixes generated URLs and may be empty,
// in which case they are host-relative. A non-empty password is carried
// on every generated URL as api_password.
func New(client interfaces.HTTPClient, baseURL, password string, log *logging.Logger) *Relay {
	return &Relay{
		client:   client,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		password: password,
		log:      log.WithComponent("relay"),
	}
}

// URL returns the relay URL for target. Targets with a .m3u8 path use the
// manifest endpoint, everything else the stream endpoint.
func (r *Relay) URL(target string, hdrs map[string]string) string {
	return r.relayURL(target, hdrs, isPlaylist(target))
}

// PlaylistURL returns the manifest endpoint URL for target whatever its
// extension.
func (r *Relay) PlaylistURL(target string, hdrs map[string]string) string {
	return r.relayURL(target, hdrs, true)
}

func (r *Relay) relayURL(target string, hdrs map[string]string, playlist bool) string {
	endpoint := StreamPath
	if playlist {
		endpoint = ManifestPath
	}

	query := url.Values{}
	query.Set("url", target)
	for key, value := range headers.Canonical(hdrs) {
		query.Set("h_"+strings.ReplaceAll(key, "-", "_"), value)
	}
	if r.password != "" {
		query.Set("api_password", r.password)
	}
	return r.baseURL + endpoint + "?" + query.Encode()
}

// ServeManifest fetches the playlist named by the url query parameter and
// returns it rewritten.
func (r *Relay) ServeManifest(w http.ResponseWriter, req *http.Request) {
	target, hdrs, ok := r.target(w, req)
	if !ok {
		return
	}

	body, err := httpclient.FetchText(req.Context(), r.client, target, hdrs, maxPlaylistBytes)
	if err != nil {
		r.log.Warn("playlist fetch failed", "url", target, "error", err)
		metrics.RecordRelay("manifest", "error")
		http.Error(w, "upstream playlist unavailable", http.StatusBadGateway)
		return
	}
	metrics.RecordRelay("manifest", "ok")

	rewritten, err := r.Rewrite(body, target, hdrs)
	if err != nil {
		r.log.Warn("playlist rewrite failed", "url", target, "error", err)
		http.Error(w, "malformed playlist", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	io.WriteString(w, rewritten)
}

// ServeStream pipes a segment or file, forwarding the client's Range.
func (r *Relay) ServeStream(w http.ResponseWriter, req *http.Request) {
	target, hdrs, ok := r.target(w, req)
	if !ok {
		return
	}

	resp, err := httpclient.Fetch(req.Context(), r.client, http.MethodGet, target, hdrs, req.Header.Get("Range"))
	if err != nil {
		r.log.Debug("stream fetch failed", "url", target, "error", err)
		metrics.RecordRelay("stream", "error")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	outcome := "ok"
	if !httpclient.IsSuccess(resp.StatusCode) {
		outcome = "upstream_status"
	}
	metrics.RecordRelay("stream", outcome)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = guessContentType(target)
	}
	w.Header().Set("Content-Type", contentType)
	for _, name := range []string{"Content-Length", "Content-Range"} {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(resp.StatusCode)

	if req.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Players abort segment downloads on seek
		r.log.Debug("stream copy interrupted", "url", target, "error", err)
	}
}

// target reads the upstream URL and h_ headers from the request query.
func (r *Relay) target(w http.ResponseWriter, req *http.Request) (string, map[string]string, bool) {
	query := req.URL.Query()
	target := urlutil.DecodeURL(query.Get("url"))
	if !urlutil.IsHTTP(target) {
		http.Error(w, "url parameter must be an http(s) URL", http.StatusBadRequest)
		return "", nil, false
	}
	return target, urlutil.ParseHeaderParams(query), true
}

// Rewrite routes every URI in playlist, including those inside URI="..."
// attributes, through the relay. Relative references resolve against
// playlistURL. The URI following EXT-X-STREAM-INF and the URI attribute of
// EXT-X-MEDIA and EXT-X-I-FRAME-STREAM-INF are playlists even without a
// .m3u8 extension.
func (r *Relay) Rewrite(playlist, playlistURL string, hdrs map[string]string) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	scanner.Buffer(make([]byte, 64*1024), maxPlaylistBytes)

	variantNext := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			out.WriteString(line)
		case strings.HasPrefix(trimmed, "#"):
			if strings.HasPrefix(trimmed, "#EXT-X-STREAM-INF") {
				variantNext = true
			}
			out.WriteString(r.rewriteURIAttr(line, playlistURL, hdrs, playlistTag(trimmed)))
		default:
			target := urlutil.ResolveURL(trimmed, playlistURL)
			out.WriteString(r.relayURL(target, hdrs, variantNext || isPlaylist(target)))
			variantNext = false
		}
		out.WriteByte('\n')
	}
	return out.String(), scanner.Err()
}

// playlistTag reports whether a tag's URI attribute names a playlist.
func playlistTag(tag string) bool {
	return strings.HasPrefix(tag, "#EXT-X-MEDIA:") || strings.HasPrefix(tag, "#EXT-X-I-FRAME-STREAM-INF")
}

// rewriteURIAttr rewrites the URI attribute of tags such as EXT-X-KEY,
// EXT-X-MAP and EXT-X-MEDIA.
func (r *Relay) rewriteURIAttr(line, playlistURL string, hdrs map[string]string, playlist bool) string {
	start := strings.Index(line, `URI="`)
	if start == -1 {
		return line
	}
	start += len(`URI="`)

	end := strings.IndexByte(line[start:], '"')
	if end == -1 {
		return line
	}

	uri := line[start : start+end]
	if strings.HasPrefix(uri, "data:") || strings.HasPrefix(uri, "skd:") {
		return line
	}
	target := urlutil.ResolveURL(uri, playlistURL)
	return line[:start] + r.relayURL(target, hdrs, playlist || isPlaylist(target)) + line[start+end:]
}

func isPlaylist(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return strings.Contains(strings.ToLower(target), ".m3u8")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".ts":   "video/MP2T",
	".m4s":  "video/iso.segment",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".mp3":  "audio/mpeg",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
	".key":  "application/octet-stream",
}

// guessContentType guesses the content type from the URL path extension.
func guessContentType(target string) string {
	p := target
	if u, err := url.Parse(target); err == nil {
		p = u.Path
	}
	if ct, ok := contentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}
