package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/httpclient"
	"media-resolver-go/pkg/interfaces"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

const maxAPIBody = 2 << 20

// apiResponse is the JSON shape a provider API answers with. Either Stream
// or Embeds is set.
type apiResponse struct {
	Stream *struct {
		Type      string               `json:"type"`
		Playlist  string               `json:"playlist"`
		Qualities map[string]string    `json:"qualities"`
		Headers   map[string]string    `json:"headers"`
		Captions  []types.CaptionTrack `json:"captions"`
	} `json:"stream"`
	Embeds []struct {
		EmbedID string            `json:"embed_id"`
		URL     string            `json:"url"`
		Label   string            `json:"label"`
		Headers map[string]string `json:"headers"`
	} `json:"embeds"`
}

// APISource queries a JSON endpoint for a media item.
type APISource struct {
	id       string
	movieURL string
	tvURL    string
	client   interfaces.HTTPClient
	log      *logging.Logger
}

// NewAPISource creates a source for a configured JSON endpoint.
func NewAPISource(cfg config.APISource, client interfaces.HTTPClient, log *logging.Logger) *APISource {
	return &APISource{
		id:       cfg.ID,
		movieURL: cfg.URL,
		tvURL:    cfg.TVURL,
		client:   client,
		log:      log.WithComponent("api-source").With("source", cfg.ID),
	}
}

// ID returns the source id.
func (s *APISource) ID() string {
	return s.id
}

// Scrape asks the endpoint for a stream or a list of embeds.
func (s *APISource) Scrape(ctx context.Context, media types.MediaReference) (types.ProviderOutcome, error) {
	endpoint, err := endpointFor(s.movieURL, s.tvURL, media)
	if err != nil {
		return types.ProviderOutcome{}, err
	}

	body, err := httpclient.FetchText(ctx, s.client, endpoint, map[string]string{"Accept": "application/json"}, maxAPIBody)
	if err != nil {
		return types.ProviderOutcome{}, err
	}

	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return types.ProviderOutcome{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if st := resp.Stream; st != nil && (st.Playlist != "" || len(st.Qualities) > 0) {
		desc := types.StreamDescriptor{Type: types.StreamTypeFile, Qualities: st.Qualities}
		if st.Type == string(types.StreamTypeHLS) || (st.Type == "" && st.Playlist != "") {
			desc = types.StreamDescriptor{Type: types.StreamTypeHLS, PlaylistURL: st.Playlist}
		}
		s.log.Debug("source returned a stream", "type", desc.Type)
		return types.StreamOutcome(types.StreamCandidate{
			Stream:   desc,
			Headers:  st.Headers,
			Captions: st.Captions,
			SourceID: s.id,
		}), nil
	}

	embeds := make([]types.EmbedRef, 0, len(resp.Embeds))
	for _, e := range resp.Embeds {
		if e.URL == "" {
			continue
		}
		embeds = append(embeds, types.EmbedRef{
			EmbedID:  e.EmbedID,
			URL:      e.URL,
			Label:    e.Label,
			SourceID: s.id,
			Headers:  e.Headers,
		})
	}
	if len(embeds) == 0 {
		return types.ProviderOutcome{}, ErrNoResult
	}

	s.log.Debug("source returned embeds", "count", len(embeds))
	return types.DiscoveryOutcome(embeds), nil
}

var _ interfaces.Source = (*APISource)(nil)
