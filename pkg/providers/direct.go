package providers

import (
	"context"
	"fmt"
	"strings"

	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

// QualityUnknown labels a file URL whose resolution is not advertised.
const QualityUnknown = "unknown"

// DirectEmbed is the fallback embed: it treats the embed URL itself as the
// stream, HLS when it looks like a playlist and a single file otherwise.
type DirectEmbed struct {
	log *logging.Logger
}

// NewDirectEmbed creates the fallback embed.
func NewDirectEmbed(log *logging.Logger) *DirectEmbed {
	return &DirectEmbed{log: log.WithComponent("direct-embed")}
}

// ID returns the embed id.
func (e *DirectEmbed) ID() string {
	return "direct"
}

// CanScrape always returns false as this is the fallback.
func (e *DirectEmbed) CanScrape(url string) bool {
	return false
}

// Scrape returns the URL as-is with browser-like headers.
func (e *DirectEmbed) Scrape(_ context.Context, ref types.EmbedRef) (*types.StreamCandidate, error) {
	if ref.URL == "" {
		return nil, fmt.Errorf("embed %q has no URL", ref.EmbedID)
	}

	headers := map[string]string{"User-Agent": httpclient.DefaultUserAgent}
	if domain := GetDomain(ref.URL); domain != "" {
		headers["Referer"] = "https://" + domain + "/"
		headers["Origin"] = "https://" + domain
	}

	return &types.StreamCandidate{
		Stream:   fileOrHLS(ref.URL),
		Headers:  mergeHeaders(headers, ref.Headers),
		SourceID: ref.SourceID,
		EmbedID:  e.ID(),
	}, nil
}

// Close releases resources.
func (e *DirectEmbed) Close() error {
	return nil
}

// fileOrHLS guesses the stream type from the URL.
func fileOrHLS(u string) types.StreamDescriptor {
	if strings.Contains(strings.ToLower(u), ".m3u8") {
		return types.StreamDescriptor{Type: types.StreamTypeHLS, PlaylistURL: u}
	}
	return types.StreamDescriptor{
		Type:      types.StreamTypeFile,
		Qualities: map[string]string{QualityUnknown: u},
	}
}

var _ interfaces.Embed = (*DirectEmbed)(nil)
