// Package types defines core domain types used throughout the application.
package types

import (
	"fmt"
	"strings"
)

// MediaKind identifies what a MediaReference points at.
type MediaKind string

const (
	MediaKindMovie   MediaKind = "movie"
	MediaKindEpisode MediaKind = "episode"
)

// SeasonInfo carries season metadata for episode references.
type SeasonInfo struct {
	Number       int    `json:"number"`
	Title        string `json:"title,omitempty"`
	EpisodeCount int    `json:"episode_count,omitempty"`
}

// MediaReference identifies what to play. Treat it as immutable once built.
type MediaReference struct {
	Kind        MediaKind   `json:"kind"`
	Title       string      `json:"title"`
	TMDBID      string      `json:"tmdb_id"`
	IMDBID      string      `json:"imdb_id,omitempty"`
	ReleaseYear int         `json:"release_year,omitempty"`
	Season      *SeasonInfo `json:"season,omitempty"`
	Episode     int         `json:"episode,omitempty"`
}

// NewMovie builds a movie reference.
func NewMovie(title, tmdbID, imdbID string, year int) MediaReference {
	return MediaReference{
		Kind:        MediaKindMovie,
		Title:       title,
		TMDBID:      strings.TrimSpace(tmdbID),
		IMDBID:      strings.TrimSpace(imdbID),
		ReleaseYear: year,
	}
}

// NewEpisode builds an episode reference.
func NewEpisode(title, tmdbID, imdbID string, year int, season SeasonInfo, episode int) MediaReference {
	return MediaReference{
		Kind:        MediaKindEpisode,
		Title:       title,
		TMDBID:      strings.TrimSpace(tmdbID),
		IMDBID:      strings.TrimSpace(imdbID),
		ReleaseYear: year,
		Season:      &season,
		Episode:     episode,
	}
}

// SeasonNumber returns the season number, or 0 for movies.
func (m MediaReference) SeasonNumber() int {
	if m.Season == nil {
		return 0
	}
	return m.Season.Number
}

// Validate reports whether the reference carries enough data to resolve.
func (m MediaReference) Validate() error {
	if strings.TrimSpace(m.TMDBID) == "" {
		return fmt.Errorf("media reference: tmdb id is required")
	}
	switch m.Kind {
	case MediaKindMovie:
		return nil
	case MediaKindEpisode:
		if m.Season == nil || m.Season.Number <= 0 || m.Episode <= 0 {
			return fmt.Errorf("media reference: episode requires season and episode numbers")
		}
		return nil
	default:
		return fmt.Errorf("media reference: unknown kind %q", m.Kind)
	}
}

// MediaKey is the stable cache/affinity key derived from a MediaReference.
type MediaKey string

// Key derives the MediaKey.
// Format: movie:<tmdb> or show:<tmdb>:s<season>:e<episode>.
func (m MediaReference) Key() MediaKey {
	id := strings.ToLower(strings.TrimSpace(m.TMDBID))
	if m.Kind == MediaKindEpisode {
		return MediaKey(fmt.Sprintf("show:%s:s%d:e%d", id, m.SeasonNumber(), m.Episode))
	}
	return MediaKey("movie:" + id)
}

// StreamType identifies the type of stream being handled.
type StreamType string

const (
	StreamTypeHLS  StreamType = "hls"
	StreamTypeFile StreamType = "file"
)

// CaptionTrack references a caption file offered alongside a stream.
type CaptionTrack struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	URL      string `json:"url"`
	Format   string `json:"format"` // "vtt" or "srt"
}

// StreamDescriptor describes what a provider offers. HLS streams set
// PlaylistURL; file streams set Qualities (label -> URL).
type StreamDescriptor struct {
	Type        StreamType        `json:"type"`
	PlaylistURL string            `json:"playlist_url,omitempty"`
	Qualities   map[string]string `json:"qualities,omitempty"`
}

// StreamCandidate is one provider's unvalidated offer.
type StreamCandidate struct {
	Stream   StreamDescriptor  `json:"stream"`
	Headers  map[string]string `json:"headers,omitempty"`
	Captions []CaptionTrack    `json:"captions,omitempty"`
	SourceID string            `json:"source_id"`
	EmbedID  string            `json:"embed_id,omitempty"`
}

// PlaybackSource is the validated, chosen result of a resolution.
// Never mutate a PlaybackSource in place; build a new one.
type PlaybackSource struct {
	URI      string            `json:"uri"`
	Headers  map[string]string `json:"headers,omitempty"`
	Type     StreamType        `json:"type"`
	Quality  string            `json:"quality,omitempty"`
	Captions []CaptionTrack    `json:"captions,omitempty"`
	SourceID string            `json:"source_id"`
	EmbedID  string            `json:"embed_id,omitempty"`
}

// IsAdaptive reports whether the source is an adaptive-bitrate manifest.
func (p *PlaybackSource) IsAdaptive() bool {
	return p != nil && p.Type == StreamTypeHLS
}

// ProviderAffinity records which upstream last worked for a media key.
type ProviderAffinity struct {
	SourceID        string `json:"source_id"`
	EmbedID         string `json:"embed_id,omitempty"`
	UpdatedAtMillis int64  `json:"updated_at"`
}

// CachedResolution is a memoized resolver result.
type CachedResolution struct {
	Source         *PlaybackSource
	StoredAtMillis int64
}

// Resolution is a parsed WIDTHxHEIGHT pair.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// QualityVariant is one rendition parsed from a master manifest.
type QualityVariant struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	URI        string      `json:"uri"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Bandwidth  int64       `json:"bandwidth,omitempty"`
	Codecs     string      `json:"codecs,omitempty"`
}

// Height returns the variant height, or 0 when unknown.
func (v QualityVariant) Height() int {
	if v.Resolution == nil {
		return 0
	}
	return v.Resolution.Height
}

// AudioTrackOption is one alternate audio rendition.
type AudioTrackOption struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Language  string `json:"language,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// CaptionCue is one timed caption line.
type CaptionCue struct {
	StartMillis int64  `json:"start"`
	EndMillis   int64  `json:"end"`
	Text        string `json:"text"`
}

// PlaybackClockState is the unit exchanged between watch-party peers.
type PlaybackClockState struct {
	IsPlaying       bool  `json:"is_playing"`
	PositionMillis  int64 `json:"position"`
	UpdatedAtMillis int64 `json:"updated_at"`
}

// ProgressUpdate is handed to the external watch-history writer.
type ProgressUpdate struct {
	Key            MediaKey `json:"key"`
	PositionMillis int64    `json:"position"`
	DurationMillis int64    `json:"duration"`
	Ended          bool     `json:"ended"`
}

// EmbedRef points at an embed page discovered by a source.
type EmbedRef struct {
	EmbedID  string            `json:"embed_id"`
	URL      string            `json:"url"`
	Label    string            `json:"label,omitempty"`
	SourceID string            `json:"source_id"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// OutcomeKind tags a ProviderOutcome.
type OutcomeKind int

const (
	OutcomeStream OutcomeKind = iota + 1
	OutcomeDiscovery
)

// ProviderOutcome is either a direct stream or a discovery result with embeds.
// Build one with StreamOutcome or DiscoveryOutcome.
type ProviderOutcome struct {
	Kind   OutcomeKind
	Stream *StreamCandidate
	Embeds []EmbedRef
}

// StreamOutcome wraps a direct stream candidate.
func StreamOutcome(c StreamCandidate) ProviderOutcome {
	return ProviderOutcome{Kind: OutcomeStream, Stream: &c}
}

// DiscoveryOutcome wraps a list of embeds to try.
func DiscoveryOutcome(embeds []EmbedRef) ProviderOutcome {
	return ProviderOutcome{Kind: OutcomeDiscovery, Embeds: embeds}
}

// ResolveOptions tunes one resolver call.
type ResolveOptions struct {
	// SourceOrder overrides the default source order when non-empty.
	SourceOrder []string
	// DebugTag is attached to every log line of the call.
	DebugTag string
}

// PlanTier is the viewer's subscription tier. It only gates ad layering.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanPremium PlanTier = "premium"
)

// ShowsAds reports whether ads are layered over playback for this tier.
func (p PlanTier) ShowsAds() bool {
	return p != PlanPremium
}
