// Package validator probes stream candidates for liveness before the
// resolver trusts them.
package validator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/types"
)

const (
	// DefaultTimeout bounds a single validation.
	DefaultTimeout = 11 * time.Second

	hlsMagic        = "#EXTM3U"
	playlistRange   = "bytes=0-2047"
	fileRange       = "bytes=0-1"
	maxPlaylistRead = 64 * 1024
)

// Validator checks that a stream URI answers like a playable stream.
type Validator struct {
	client  interfaces.HTTPClient
	timeout time.Duration
	log     *logging.Logger
}

var _ interfaces.StreamProbe = (*Validator)(nil)

// New creates a Validator. A zero timeout uses DefaultTimeout.
func New(client interfaces.HTTPClient, timeout time.Duration, log *logging.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{
		client:  client,
		timeout: timeout,
		log:     log.WithComponent("validator"),
	}
}

// Probe reports whether uri is live. Failures are logged at debug and
// reported as false; Probe never panics on network errors.
func (v *Validator) Probe(ctx context.Context, streamType types.StreamType, uri string, hdrs map[string]string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	var ok bool
	switch streamType {
	case types.StreamTypeHLS:
		ok = v.probePlaylist(ctx, uri, hdrs)
	default:
		ok = v.probeFile(ctx, uri, hdrs)
	}

	metrics.RecordValidation(string(streamType), ok)
	v.log.Debug("validation finished",
		"url", uri,
		"type", streamType,
		"ok", ok,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ok
}

// Validate probes the candidate's playlist, or any of its file qualities.
func (v *Validator) Validate(ctx context.Context, c types.StreamCandidate) bool {
	if c.Stream.Type == types.StreamTypeHLS {
		return c.Stream.PlaylistURL != "" && v.Probe(ctx, types.StreamTypeHLS, c.Stream.PlaylistURL, c.Headers)
	}
	for _, uri := range c.Stream.Qualities {
		if uri != "" && v.Probe(ctx, types.StreamTypeFile, uri, c.Headers) {
			return true
		}
	}
	return false
}

// probePlaylist tries a small ranged read first, then a full GET.
func (v *Validator) probePlaylist(ctx context.Context, uri string, hdrs map[string]string) bool {
	if ok, conclusive := v.playlistHasMagic(ctx, uri, hdrs, playlistRange); conclusive {
		return ok
	}
	ok, _ := v.playlistHasMagic(ctx, uri, hdrs, "")
	return ok
}

// playlistHasMagic fetches uri and checks for the HLS marker. conclusive is
// false when the ranged attempt could not answer and a full GET should follow.
func (v *Validator) playlistHasMagic(ctx context.Context, uri string, hdrs map[string]string, byteRange string) (ok, conclusive bool) {
	resp, err := httpclient.Fetch(ctx, v.client, http.MethodGet, uri, hdrs, byteRange)
	if err != nil {
		v.log.Debug("playlist probe failed", "url", uri, "range", byteRange, "error", err)
		return false, ctx.Err() != nil
	}
	defer resp.Body.Close()

	if !httpclient.IsSuccess(resp.StatusCode) {
		v.log.Debug("playlist probe bad status", "url", uri, "range", byteRange, "status", resp.StatusCode)
		return false, byteRange == ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistRead))
	if err != nil {
		return false, byteRange == ""
	}
	if bytes.Contains(body, []byte(hlsMagic)) {
		return true, true
	}
	return false, byteRange == ""
}

// probeFile tries HEAD, falling back to a two-byte ranged GET.
func (v *Validator) probeFile(ctx context.Context, uri string, hdrs map[string]string) bool {
	resp, err := httpclient.Fetch(ctx, v.client, http.MethodHead, uri, hdrs, "")
	if err == nil {
		httpclient.Drain(resp)
		if httpclient.IsSuccess(resp.StatusCode) {
			return true
		}
		v.log.Debug("HEAD not accepted, trying ranged GET", "url", uri, "status", resp.StatusCode)
	} else if ctx.Err() != nil {
		v.log.Debug("file probe timed out", "url", uri, "error", err)
		return false
	}

	resp, err = httpclient.Fetch(ctx, v.client, http.MethodGet, uri, hdrs, fileRange)
	if err != nil {
		v.log.Debug("file probe failed", "url", uri, "error", err)
		return false
	}
	httpclient.Drain(resp)
	return httpclient.IsSuccess(resp.StatusCode)
}
