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
	packedRe       = regexp.MustCompile(`eval\(function\(p,a,c,k,e,[dr]\).*?\)\)`)
	packerParamsRe = regexp.MustCompile(`\}\('(.+)',(\d+),(\d+),'([^']+)'\.split`)
	wurlRe         = regexp.MustCompile(`wurl\s*=\s*"([^"]+)"`)
	mediaSrcRe     = regexp.MustCompile(`(?:source|src)\s*[=:]\s*["']([^"']+\.(?:mp4|m3u8)[^"']*)["']`)
)

// MixdropEmbed scrapes Mixdrop embed pages.
type MixdropEmbed struct {
	*Base
	log *logging.Logger
}

// NewMixdropEmbed creates a new Mixdrop embed scraper.
func NewMixdropEmbed(client interfaces.HTTPClient, flare *flaresolverr.Client, log *logging.Logger) *MixdropEmbed {
	l := log.WithComponent("mixdrop-embed")
	return &MixdropEmbed{
		Base: NewBase(client, flare, l),
		log:  l,
	}
}

// ID returns the embed id.
func (e *MixdropEmbed) ID() string {
	return "mixdrop"
}

// CanScrape returns true for Mixdrop URLs.
func (e *MixdropEmbed) CanScrape(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "mixdrop.") ||
		strings.Contains(lower, "mixdrp.") ||
		strings.Contains(lower, "mxdrop.")
}

// Scrape resolves a Mixdrop embed page to a direct file URL.
func (e *MixdropEmbed) Scrape(ctx context.Context, ref types.EmbedRef) (*types.StreamCandidate, error) {
	pageURL := e.normalizeURL(ref.URL)
	e.log.Debug("scraping Mixdrop embed", "url", pageURL)

	headers := mergeHeaders(map[string]string{"Referer": "https://mixdrop.co/"}, ref.Headers)

	html, headers, err := e.FetchPage(ctx, pageURL, headers)
	if err != nil {
		return nil, err
	}

	streamURL, err := e.extractStreamURL(html)
	if err != nil {
		return nil, err
	}

	return &types.StreamCandidate{
		Stream:   fileOrHLS(streamURL),
		Headers:  headers,
		SourceID: ref.SourceID,
		EmbedID:  e.ID(),
	}, nil
}

// normalizeURL normalizes Mixdrop URLs to a consistent format.
func (e *MixdropEmbed) normalizeURL(urlStr string) string {
	replacements := []string{
		"mixdrp.to", "mixdrop.co",
		"mixdrp.co", "mixdrop.co",
		"mixdrop.to", "mixdrop.co",
		"mixdrop.sx", "mixdrop.co",
	}

	for i := 0; i < len(replacements); i += 2 {
		urlStr = strings.Replace(urlStr, replacements[i], replacements[i+1], 1)
	}

	// The /f/ file page carries the same player as /e/ but is never ad-gated.
	return strings.Replace(urlStr, "/e/", "/f/", 1)
}

// extractStreamURL extracts the stream URL from the page HTML.
func (e *MixdropEmbed) extractStreamURL(html string) (string, error) {
	if packed := packedRe.FindString(html); packed != "" {
		unpacked, err := unpack(packed)
		if err != nil {
			e.log.Debug("failed to unpack JavaScript", "error", err)
		} else {
			html = unpacked
		}
	}

	// MDCore.wurl
	if match := wurlRe.FindStringSubmatch(html); len(match) > 1 {
		return withScheme(match[1]), nil
	}

	if match := mediaSrcRe.FindStringSubmatch(html); len(match) > 1 {
		return withScheme(match[1]), nil
	}

	return "", fmt.Errorf("stream URL not found in page")
}

// unpack unpacks P.A.C.K.E.R. packed JavaScript.
func unpack(packed string) (string, error) {
	match := packerParamsRe.FindStringSubmatch(packed)
	if len(match) < 5 {
		return "", fmt.Errorf("failed to extract packer params")
	}

	payload := match[1]
	keywords := strings.Split(match[4], "|")

	result := payload
	for i := len(keywords) - 1; i >= 0; i-- {
		if keywords[i] == "" {
			continue
		}
		re := regexp.MustCompile(`\b` + encodeBase36(i) + `\b`)
		result = re.ReplaceAllLiteralString(result, keywords[i])
	}

	return result, nil
}

// encodeBase36 matches JavaScript's n.toString(36).
func encodeBase36(n int) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n < 36 {
		return string(chars[n])
	}
	return encodeBase36(n/36) + string(chars[n%36])
}

func withScheme(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

var _ interfaces.Embed = (*MixdropEmbed)(nil)
