// Package providers implements the upstream provider layer: sources that
// answer with a stream or a list of embeds, and embed scrapers that turn an
// embed page into a stream candidate.
//
// To add a new embed:
// 1. Create a new file (e.g., myhost.go)
// 2. Implement the interfaces.Embed interface, embedding *Base
// 3. Register it in the EmbedRegistry (see internal/app)
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"

	"media-resolver-go/pkg/flaresolverr"
	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
)

const maxPageBytes = 4 << 20

// ErrNoResult is returned when an upstream answered but offered nothing usable.
var ErrNoResult = errors.New("provider returned no stream and no embeds")

// Base provides common functionality for embeds and page-scraping sources.
type Base struct {
	client interfaces.HTTPClient
	flare  *flaresolverr.Client
	log    *logging.Logger
}

// NewBase creates a new base. flare may be nil.
func NewBase(client interfaces.HTTPClient, flare *flaresolverr.Client, log *logging.Logger) *Base {
	return &Base{
		client: client,
		flare:  flare,
		log:    log,
	}
}

// Close releases resources.
func (b *Base) Close() error {
	return nil
}

// DoRequest performs an HTTP request with the given headers.
func (b *Base) DoRequest(ctx context.Context, method, urlStr string, headers map[string]string) (*http.Response, error) {
	return httpclient.Fetch(ctx, b.client, method, urlStr, headers, "")
}

// FetchPage GETs an HTML page. When the upstream answers with a Cloudflare
// challenge (403/503) and FlareSolverr is configured, the page is fetched
// through the solver instead. The returned headers are the caller's headers
// plus whatever the solver requires (User-Agent, Cookie).
func (b *Base) FetchPage(ctx context.Context, pageURL string, headers map[string]string) (string, map[string]string, error) {
	resp, err := b.DoRequest(ctx, http.MethodGet, pageURL, headers)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if isChallenge(resp.StatusCode) && b.flare.IsConfigured() {
		b.log.Debug("page is challenge-protected, retrying via FlareSolverr", "url", pageURL, "status", resp.StatusCode)
		page, err := b.flare.FetchPage(ctx, pageURL)
		if err != nil {
			return "", nil, fmt.Errorf("failed to fetch page via FlareSolverr: %w", err)
		}
		merged := make(map[string]string, len(headers)+len(page.Headers))
		maps.Copy(merged, headers)
		maps.Copy(merged, page.Headers)
		return page.HTML, merged, nil
	}

	if !httpclient.IsSuccess(resp.StatusCode) {
		return "", nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), headers, nil
}

func isChallenge(status int) bool {
	return status == http.StatusForbidden || status == http.StatusServiceUnavailable
}

// GetDomain extracts the domain from a URL.
func GetDomain(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// mergeHeaders returns base overlaid with extra; extra wins.
func mergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
