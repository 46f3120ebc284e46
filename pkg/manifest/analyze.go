// Package manifest parses HLS master and media playlists and ranks quality
// variants by playback compatibility.
package manifest

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/urlutil"
)

const (
	tagStreamInf = "#EXT-X-STREAM-INF"
	tagMedia     = "#EXT-X-MEDIA"

	maxManifestSize = 4 << 20
)

// Analysis is what the session learns from a master manifest.
// Empty slices mean adaptive features are disabled.
type Analysis struct {
	Variants    []types.QualityVariant   `json:"variants"`
	AudioTracks []types.AudioTrackOption `json:"audio_tracks"`
}

// Analyze parses audio tracks and quality variants from manifest text.
// manifestURL resolves relative variant URIs.
func Analyze(manifest, manifestURL string) Analysis {
	return Analysis{
		Variants:    ParseVariants(manifest, manifestURL),
		AudioTracks: ParseAudioTracks(manifest),
	}
}

// IsMaster reports whether the manifest lists variants.
func IsMaster(manifest string) bool {
	return strings.Contains(manifest, tagStreamInf)
}

// ParseAudioTracks returns the TYPE=AUDIO renditions declared by
// #EXT-X-MEDIA lines, in manifest order.
func ParseAudioTracks(manifest string) []types.AudioTrackOption {
	var tracks []types.AudioTrackOption

	scanner := newLineScanner(manifest)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		list, ok := tagAttributes(line, tagMedia)
		if !ok {
			continue
		}
		attrs := ParseAttributes(list)
		if !strings.EqualFold(attrs["TYPE"], "AUDIO") {
			continue
		}

		track := types.AudioTrackOption{
			Name:      attrs["NAME"],
			Language:  attrs["LANGUAGE"],
			GroupID:   attrs["GROUP-ID"],
			IsDefault: strings.EqualFold(attrs["DEFAULT"], "YES"),
		}
		track.ID = audioTrackID(track, len(tracks))
		tracks = append(tracks, track)
	}

	return tracks
}

// ParseVariants returns the variants declared by #EXT-X-STREAM-INF lines,
// sorted by descending height then descending bandwidth. A directive with no
// following URI line is dropped.
func ParseVariants(manifest, manifestURL string) []types.QualityVariant {
	var variants []types.QualityVariant

	var pending map[string]string
	scanner := newLineScanner(manifest)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if list, ok := tagAttributes(line, tagStreamInf); ok {
			pending = ParseAttributes(list)
			continue
		}
		if strings.HasPrefix(line, "#") || pending == nil {
			continue
		}

		variants = append(variants, buildVariant(pending, urlutil.ResolveURL(line, manifestURL), len(variants)))
		pending = nil
	}

	slices.SortStableFunc(variants, func(a, b types.QualityVariant) int {
		if c := cmp.Compare(b.Height(), a.Height()); c != 0 {
			return c
		}
		return cmp.Compare(b.Bandwidth, a.Bandwidth)
	})
	return variants
}

func buildVariant(attrs map[string]string, uri string, index int) types.QualityVariant {
	v := types.QualityVariant{
		URI:        uri,
		Resolution: parseResolution(attrs["RESOLUTION"]),
		Codecs:     attrs["CODECS"],
	}
	if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil && bw > 0 {
		v.Bandwidth = bw
	} else if bw, err := strconv.ParseInt(attrs["AVERAGE-BANDWIDTH"], 10, 64); err == nil && bw > 0 {
		v.Bandwidth = bw
	}
	v.Label = variantLabel(v)
	v.ID = fmt.Sprintf("%s-%d", slug(v.Label), index)
	return v
}

func parseResolution(s string) *types.Resolution {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return nil
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return nil
	}
	return &types.Resolution{Width: width, Height: height}
}

func variantLabel(v types.QualityVariant) string {
	switch {
	case v.Height() > 0:
		return fmt.Sprintf("%dp", v.Height())
	case v.Bandwidth >= 1_000_000:
		return fmt.Sprintf("%.1f Mbps", float64(v.Bandwidth)/1_000_000)
	case v.Bandwidth > 0:
		return fmt.Sprintf("%d kbps", v.Bandwidth/1000)
	default:
		return "Variant"
	}
}

func audioTrackID(t types.AudioTrackOption, index int) string {
	parts := make([]string, 0, 4)
	parts = append(parts, "audio")
	for _, s := range []string{t.GroupID, t.Language, t.Name} {
		if sl := slug(s); sl != "" {
			parts = append(parts, sl)
		}
	}
	parts = append(parts, strconv.Itoa(index))
	return strings.Join(parts, "-")
}

// slug lower-cases s and collapses runs of other characters to '-'.
func slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func newLineScanner(s string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return scanner
}

// Loader fetches and analyzes manifests.
type Loader struct {
	client interfaces.HTTPClient
	log    *logging.Logger
}

// NewLoader creates a manifest Loader.
func NewLoader(client interfaces.HTTPClient, log *logging.Logger) *Loader {
	return &Loader{client: client, log: log.WithComponent("manifest")}
}

// Fetch returns the manifest text at uri.
func (l *Loader) Fetch(ctx context.Context, uri string, hdrs map[string]string) (string, error) {
	body, err := httpclient.FetchText(ctx, l.client, uri, hdrs, maxManifestSize)
	if err != nil {
		return "", fmt.Errorf("failed to fetch manifest: %w", err)
	}
	return body, nil
}

// Load fetches the manifest at uri and analyzes it. A media playlist
// yields an empty Analysis.
func (l *Loader) Load(ctx context.Context, uri string, hdrs map[string]string) (Analysis, error) {
	body, err := l.Fetch(ctx, uri, hdrs)
	if err != nil {
		return Analysis{}, err
	}
	analysis := Analyze(body, uri)
	l.log.Debug("manifest analyzed",
		"url", uri,
		"variants", len(analysis.Variants),
		"audio_tracks", len(analysis.AudioTracks),
	)
	return analysis, nil
}
