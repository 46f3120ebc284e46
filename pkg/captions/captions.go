package captions

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

const (
	// DefaultCacheSize is the number of parsed tracks kept.
	DefaultCacheSize = 32

	maxCaptionBytes = 8 << 20
)

// Loader fetches and parses caption tracks, keeping recent tracks parsed.
type Loader struct {
	client interfaces.HTTPClient
	cache  *lru.Cache[string, []types.CaptionCue]
	log    *logging.Logger
}

// NewLoader creates a loader keeping up to size parsed tracks.
func NewLoader(client interfaces.HTTPClient, size int, log *logging.Logger) (*Loader, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []types.CaptionCue](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create caption cache: %w", err)
	}
	return &Loader{
		client: client,
		cache:  cache,
		log:    log.WithComponent("captions"),
	}, nil
}

// Load returns the cues of a track, fetching it on first use.
func (l *Loader) Load(ctx context.Context, track types.CaptionTrack, hdrs map[string]string) ([]types.CaptionCue, error) {
	if cues, ok := l.cache.Get(track.URL); ok {
		return cues, nil
	}

	body, err := httpclient.FetchText(ctx, l.client, track.URL, hdrs, maxCaptionBytes)
	if err != nil {
		return nil, err
	}

	cues, err := Parse(body, track.Format)
	if err != nil {
		return nil, err
	}

	l.log.Debug("loaded caption track", "language", track.Language, "cues", len(cues))
	l.cache.Add(track.URL, cues)
	return cues, nil
}

// SelectPreferred picks the first track whose language matches the
// preferences in order. "en" matches "en-US" and "English".
func SelectPreferred(tracks []types.CaptionTrack, preferred []string) (types.CaptionTrack, bool) {
	for _, want := range preferred {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		for _, t := range tracks {
			if languageMatches(t.Language, want) {
				return t, true
			}
		}
	}
	return types.CaptionTrack{}, false
}

// FindByID returns the track with the given id.
func FindByID(tracks []types.CaptionTrack, id string) (types.CaptionTrack, bool) {
	for _, t := range tracks {
		if t.ID == id {
			return t, true
		}
	}
	return types.CaptionTrack{}, false
}

func languageMatches(lang, want string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == want {
		return true
	}
	if strings.HasPrefix(lang, want+"-") || strings.HasPrefix(lang, want+"_") {
		return true
	}
	return len(want) == 2 && strings.HasPrefix(lang, want) && len(lang) > 3
}
