package manifest

import (
	"context"
	"fmt"
	"net/http"

	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/types"
)

// Preload checks that a variant is playable before it is committed: its
// media playlist must load and its first segment must answer a ranged GET.
func (l *Loader) Preload(ctx context.Context, variant types.QualityVariant, hdrs map[string]string) error {
	body, err := l.Fetch(ctx, variant.URI, hdrs)
	if err != nil {
		return err
	}

	playlist := ParseMediaPlaylist(body, variant.URI)
	if len(playlist.Segments) == 0 {
		return fmt.Errorf("variant %s has no segments", variant.ID)
	}

	first := playlist.Segments[0].URI
	resp, err := httpclient.Fetch(ctx, l.client, http.MethodGet, first, hdrs, "bytes=0-0")
	if err != nil {
		return fmt.Errorf("failed to fetch first segment: %w", err)
	}
	defer httpclient.Drain(resp)

	if !httpclient.IsSuccess(resp.StatusCode) {
		return fmt.Errorf("first segment returned status %d", resp.StatusCode)
	}
	l.log.Debug("variant preloaded", "variant", variant.ID, "segment", first)
	return nil
}
