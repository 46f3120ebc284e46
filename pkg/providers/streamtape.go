package providers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"media-resolver-go/pkg/flaresolverr"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

var (
	robotlinkRe     = regexp.MustCompile(`id\s*=\s*["']?robotlink["']?[^>]*>([^<]+)<`)
	robotlinkJSRe   = regexp.MustCompile(`'robotlink'\)\.innerHTML\s*=\s*['"]([^'"]+)['"]`)
	tokenRe         = regexp.MustCompile(`(?:token|substring)\s*[=()]+\s*['"]([^'"]+)['"]`)
	streamtapeSrcRe = regexp.MustCompile(`(?:src|href)\s*[=:]\s*['"]?(//[^'">\s]+streamtape[^'">\s]+)['"]?`)
)

// StreamtapeEmbed scrapes Streamtape embed pages.
type StreamtapeEmbed struct {
	*Base
	log *logging.Logger
}

// NewStreamtapeEmbed creates a new Streamtape embed scraper.
func NewStreamtapeEmbed(client interfaces.HTTPClient, flare *flaresolverr.Client, log *logging.Logger) *StreamtapeEmbed {
	l := log.WithComponent("streamtape-embed")
	return &StreamtapeEmbed{
		Base: NewBase(client, flare, l),
		log:  l,
	}
}

// ID returns the embed id.
func (e *StreamtapeEmbed) ID() string {
	return "streamtape"
}

// CanScrape returns true for Streamtape URLs.
func (e *StreamtapeEmbed) CanScrape(url string) bool {
	lower := strings.ToLower(url)
	for _, tld := range []string{"com", "to", "net", "xyz", "site"} {
		if strings.Contains(lower, "streamtape."+tld) {
			return true
		}
	}
	return false
}

// Scrape resolves a Streamtape embed page to a get_video URL.
func (e *StreamtapeEmbed) Scrape(ctx context.Context, ref types.EmbedRef) (*types.StreamCandidate, error) {
	e.log.Debug("scraping Streamtape embed", "url", ref.URL)

	headers := mergeHeaders(map[string]string{"Referer": "https://streamtape.com/"}, ref.Headers)

	html, headers, err := e.FetchPage(ctx, ref.URL, headers)
	if err != nil {
		return nil, err
	}

	streamURL, err := extractStreamtapeURL(html)
	if err != nil {
		return nil, err
	}

	return &types.StreamCandidate{
		Stream: types.StreamDescriptor{
			Type:      types.StreamTypeFile,
			Qualities: map[string]string{QualityUnknown: streamURL},
		},
		Headers:  headers,
		SourceID: ref.SourceID,
		EmbedID:  e.ID(),
	}, nil
}

// extractStreamtapeURL reassembles the video URL, which the page splits
// between the robotlink element and an inline token.
func extractStreamtapeURL(html string) (string, error) {
	baseMatch := robotlinkRe.FindStringSubmatch(html)
	if len(baseMatch) < 2 {
		baseMatch = robotlinkJSRe.FindStringSubmatch(html)
	}
	if len(baseMatch) < 2 {
		return "", fmt.Errorf("base URL not found")
	}

	baseURL := strings.TrimSpace(baseMatch[1])

	var streamURL string
	if tokenMatch := tokenRe.FindStringSubmatch(html); len(tokenMatch) > 1 {
		streamURL = baseURL + tokenMatch[1]
	} else if fullMatch := streamtapeSrcRe.FindStringSubmatch(html); len(fullMatch) > 1 {
		streamURL = fullMatch[1]
	} else {
		streamURL = baseURL
	}

	streamURL = withScheme(streamURL)
	streamURL = strings.TrimSuffix(streamURL, "'")
	streamURL = strings.TrimSuffix(streamURL, "\"")

	if !strings.Contains(streamURL, "get_video") {
		return "", fmt.Errorf("invalid stream URL extracted")
	}

	return streamURL, nil
}

var _ interfaces.Embed = (*StreamtapeEmbed)(nil)
