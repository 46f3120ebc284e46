package manifest

import (
	"strconv"
	"strings"

	"media-resolver-go/pkg/urlutil"
)

// Segment is one media segment of a media playlist.
type Segment struct {
	URI      string
	Duration float64 // seconds, from the preceding #EXTINF
}

// MediaPlaylist is a parsed media (segment) playlist.
type MediaPlaylist struct {
	Segments       []Segment
	TargetDuration float64
	// Ended is true when #EXT-X-ENDLIST is present (VOD).
	Ended bool
}

// TotalDuration sums the declared segment durations.
func (p MediaPlaylist) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// ParseMediaPlaylist extracts segments with their declared durations.
// Segment URIs are resolved against manifestURL. A URI with no preceding
// #EXTINF gets the target duration.
func ParseMediaPlaylist(manifest, manifestURL string) MediaPlaylist {
	var playlist MediaPlaylist

	duration := -1.0
	scanner := newLineScanner(manifest)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			value, _, _ := strings.Cut(line[len("#EXTINF:"):], ",")
			if d, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && d >= 0 {
				duration = d
			}
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if d, err := strconv.ParseFloat(strings.TrimSpace(line[len("#EXT-X-TARGETDURATION:"):]), 64); err == nil {
				playlist.TargetDuration = d
			}
		case line == "#EXT-X-ENDLIST":
			playlist.Ended = true
		case strings.HasPrefix(line, "#"):
		default:
			d := duration
			if d < 0 {
				d = playlist.TargetDuration
			}
			playlist.Segments = append(playlist.Segments, Segment{
				URI:      urlutil.ResolveURL(line, manifestURL),
				Duration: d,
			})
			duration = -1
		}
	}

	return playlist
}
