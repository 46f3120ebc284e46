package stremio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/appctx"
	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/resolver"
	"media-resolver-go/pkg/types"
)

type recordingResolver struct {
	got []types.MediaReference
	src *types.PlaybackSource
	err error
}

func (r *recordingResolver) Resolve(_ context.Context, media types.MediaReference, _ types.ResolveOptions) (*types.PlaybackSource, error) {
	r.got = append(r.got, media)
	return r.src, r.err
}

func newMux(res *recordingResolver) *http.ServeMux {
	ctx := appctx.New(&config.Config{BaseURL: "http://localhost:7860"}, logging.Discard()).WithResolver(res)
	mux := http.NewServeMux()
	NewHandlers(ctx).RegisterRoutes(mux)
	return mux
}

func get(t *testing.T, mux *http.ServeMux, target string) map[string][]Stream {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]Stream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name       string
		streamType string
		id         string
		wantKey    types.MediaKey
		wantErr    bool
	}{
		{name: "movie", streamType: "movie", id: "tmdb:949", wantKey: "movie:949"},
		{name: "episode", streamType: "series", id: "tmdb:1399:2:5", wantKey: "show:1399:s2:e5"},
		{name: "imdb id", streamType: "movie", id: "tt0113277", wantErr: true},
		{name: "series without episode", streamType: "series", id: "tmdb:1399", wantErr: true},
		{name: "bad season", streamType: "series", id: "tmdb:1399:x:5", wantErr: true},
		{name: "zero episode", streamType: "series", id: "tmdb:1399:1:0", wantErr: true},
		{name: "unknown type", streamType: "channel", id: "tmdb:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media, err := ParseID(tt.streamType, tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, media.Key())
		})
	}
}

func TestHandleStream(t *testing.T) {
	res := &recordingResolver{src: &types.PlaybackSource{
		URI:      "https://cdn.example/master.m3u8",
		Type:     types.StreamTypeHLS,
		Headers:  map[string]string{"Referer": "https://site.example/", "referer": "https://site.example/"},
		Captions: []types.CaptionTrack{{ID: "en", Language: "English", URL: "https://cdn.example/en.vtt", Format: "vtt"}},
		SourceID: "alpha",
		EmbedID:  "mixdrop",
	}}
	mux := newMux(res)

	body := get(t, mux, "/stremio/stream/series/tmdb:1399:1:2.json")
	require.Len(t, body["streams"], 1)
	s := body["streams"][0]
	assert.Equal(t, "https://cdn.example/master.m3u8", s.URL)
	assert.Contains(t, s.Title, "alpha / mixdrop")
	require.NotNil(t, s.BehaviorHints)
	assert.True(t, s.BehaviorHints.NotWebReady)
	assert.Equal(t, "media-resolver-alpha", s.BehaviorHints.BingeGroup)
	assert.Equal(t, map[string]string{"Referer": "https://site.example/"}, s.BehaviorHints.ProxyHeaders.Request)
	require.Len(t, s.Subtitles, 1)
	assert.Equal(t, "English", s.Subtitles[0].Lang)

	require.Len(t, res.got, 1)
	assert.Equal(t, types.MediaKey("show:1399:s1:e2"), res.got[0].Key())
}

func TestHandleStreamEmptyResults(t *testing.T) {
	res := &recordingResolver{err: resolver.ErrNoPlayableStream}
	mux := newMux(res)

	assert.Empty(t, get(t, mux, "/stremio/stream/movie/tmdb:949.json")["streams"])
	assert.Empty(t, get(t, mux, "/stremio/stream/movie/tt0113277.json")["streams"])
	assert.Len(t, res.got, 1)
}

func TestToStreamFileSource(t *testing.T) {
	s := ToStream(types.NewMovie("Heat", "949", "", 1995), &types.PlaybackSource{
		URI:      "https://cdn.example/heat.mp4",
		Type:     types.StreamTypeFile,
		Quality:  "1080p",
		SourceID: "beta",
	})
	assert.Equal(t, "1080p FILE\nbeta", s.Title)
	assert.Nil(t, s.BehaviorHints)
	assert.Empty(t, s.Subtitles)
}

func TestHandleManifest(t *testing.T) {
	mux := newMux(&recordingResolver{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stremio/manifest.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, []any{"movie", "series"}, m["types"])
	assert.Equal(t, []any{IDPrefix}, m["idPrefixes"])
}
