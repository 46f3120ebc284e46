package resolver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"media-resolver-go/pkg/headers"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/urlutil"
)

var errInvalidStream = errors.New("stream failed validation")

// qualityOrder ranks file quality labels, best first.
var qualityOrder = []string{"4k", "1080", "720", "480", "360"}

// QualityRank maps a file quality label to its position in the preference
// order. Labels such as "1080p", "2160p" or "UHD" are normalised; anything
// unrecognised ranks last.
func QualityRank(label string) int {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.TrimSuffix(l, "p")
	switch l {
	case "4k", "2160", "uhd":
		return 0
	case "fhd":
		return 1
	case "hd":
		return 2
	}
	if i := slices.Index(qualityOrder, l); i >= 0 {
		return i
	}
	return len(qualityOrder)
}

// OrderQualities returns the labels of a file descriptor best first.
func OrderQualities(qualities map[string]string) []string {
	labels := slices.Collect(maps.Keys(qualities))
	slices.SortFunc(labels, func(a, b string) int {
		if d := QualityRank(a) - QualityRank(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return labels
}

// build validates a candidate and turns it into a PlaybackSource. Proxy
// wrapper URLs are unwrapped first and their embedded headers merged over
// the candidate's own.
func (r *Resolver) build(ctx context.Context, c types.StreamCandidate) (*types.PlaybackSource, error) {
	switch c.Stream.Type {
	case types.StreamTypeHLS:
		if c.Stream.PlaylistURL == "" {
			return nil, fmt.Errorf("hls candidate without playlist")
		}
		uri, hdrs := r.prepare(c.Stream.PlaylistURL, c.Headers)
		if !r.probe.Probe(ctx, types.StreamTypeHLS, uri, hdrs) {
			return nil, errInvalidStream
		}
		return newSource(c, uri, hdrs, ""), nil

	case types.StreamTypeFile:
		for _, label := range OrderQualities(c.Stream.Qualities) {
			raw := c.Stream.Qualities[label]
			if raw == "" {
				continue
			}
			uri, hdrs := r.prepare(raw, c.Headers)
			if r.probe.Probe(ctx, types.StreamTypeFile, uri, hdrs) {
				return newSource(c, uri, hdrs, label), nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return nil, errInvalidStream

	default:
		return nil, fmt.Errorf("unknown stream type %q", c.Stream.Type)
	}
}

func (r *Resolver) prepare(raw string, candidateHeaders map[string]string) (string, map[string]string) {
	uri, wrapped := urlutil.UnwrapProxyURL(raw)
	merged := maps.Clone(candidateHeaders)
	if merged == nil {
		merged = make(map[string]string, len(wrapped))
	}
	for key, value := range wrapped {
		maps.DeleteFunc(merged, func(k, _ string) bool { return strings.EqualFold(k, key) })
		merged[key] = value
	}
	return uri, headers.Sanitize(merged)
}

func newSource(c types.StreamCandidate, uri string, hdrs map[string]string, quality string) *types.PlaybackSource {
	return &types.PlaybackSource{
		URI:      uri,
		Headers:  hdrs,
		Type:     c.Stream.Type,
		Quality:  quality,
		Captions: slices.Clone(c.Captions),
		SourceID: c.SourceID,
		EmbedID:  c.EmbedID,
	}
}
