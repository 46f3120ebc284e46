package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/flaresolverr"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/urlutil"
)

// embedSelector matches elements that point at embed players.
const embedSelector = "iframe[src], iframe[data-src], [data-embed], [data-link]"

// IframeSource scrapes a templated HTML page for embedded players.
type IframeSource struct {
	*Base
	id       string
	movieURL string
	tvURL    string
	embeds   *EmbedRegistry
	log      *logging.Logger
}

// NewIframeSource creates a page-scraping source. embeds, when set, is used
// to tag each discovered URL with the embed that can scrape it.
func NewIframeSource(cfg config.IframeSource, client interfaces.HTTPClient, flare *flaresolverr.Client, embeds *EmbedRegistry, log *logging.Logger) *IframeSource {
	l := log.WithComponent("iframe-source").With("source", cfg.ID)
	return &IframeSource{
		Base:     NewBase(client, flare, l),
		id:       cfg.ID,
		movieURL: cfg.URL,
		tvURL:    cfg.TVURL,
		embeds:   embeds,
		log:      l,
	}
}

// ID returns the source id.
func (s *IframeSource) ID() string {
	return s.id
}

// Scrape fetches the page and lists every embed player on it.
func (s *IframeSource) Scrape(ctx context.Context, media types.MediaReference) (types.ProviderOutcome, error) {
	pageURL, err := endpointFor(s.movieURL, s.tvURL, media)
	if err != nil {
		return types.ProviderOutcome{}, err
	}

	html, hdrs, err := s.FetchPage(ctx, pageURL, nil)
	if err != nil {
		return types.ProviderOutcome{}, err
	}

	embeds, err := s.parseEmbeds(html, pageURL, hdrs)
	if err != nil {
		return types.ProviderOutcome{}, err
	}
	if len(embeds) == 0 {
		return types.ProviderOutcome{}, ErrNoResult
	}

	s.log.Debug("found embeds on page", "count", len(embeds))
	return types.DiscoveryOutcome(embeds), nil
}

func (s *IframeSource) parseEmbeds(html, pageURL string, hdrs map[string]string) ([]types.EmbedRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	embedHeaders := mergeHeaders(hdrs, map[string]string{"Referer": pageURL})
	seen := make(map[string]bool)
	var embeds []types.EmbedRef

	doc.Find(embedSelector).Each(func(_ int, sel *goquery.Selection) {
		raw := firstAttr(sel, "data-embed", "data-link", "data-src", "src")
		if raw == "" || strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "javascript:") {
			return
		}
		target := urlutil.ResolveURL(strings.TrimSpace(raw), pageURL)
		if !urlutil.IsHTTP(target) || seen[target] {
			return
		}
		seen[target] = true

		label := firstAttr(sel, "data-label", "title", "aria-label")
		if label == "" {
			label = strings.TrimSpace(sel.Text())
		}

		ref := types.EmbedRef{
			URL:      target,
			Label:    label,
			SourceID: s.id,
			Headers:  embedHeaders,
		}
		if s.embeds != nil {
			if e := s.embeds.ForURL(target); e != nil {
				ref.EmbedID = e.ID()
			}
		}
		embeds = append(embeds, ref)
	})

	return embeds, nil
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var _ interfaces.Source = (*IframeSource)(nil)
