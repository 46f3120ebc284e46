package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
	"media-resolver-go/pkg/watchparty"
)

func TestHandlerAppliesMiddleware(t *testing.T) {
	s := New(&config.Config{APIPassword: "secret"}, logging.Discard())
	s.Router().HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.Router().HandleFunc("GET /api/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping?api_password=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/boom?api_password=secret", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// Party sockets must upgrade through the logging wrapper.
func TestHandlerUpgradesWebSockets(t *testing.T) {
	hub := watchparty.NewHub(watchparty.NewMemoryDocument(), logging.Discard())
	s := New(&config.Config{}, logging.Discard())
	s.Router().HandleFunc("GET /parties/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeWS(w, r, r.PathValue("id"), watchparty.Role(r.URL.Query().Get("role"))); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	partyID, err := hub.Document().Create(ctx)
	require.NoError(t, err)

	host, err := watchparty.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/parties/"+partyID+"/ws", watchparty.RoleHost, logging.Discard())
	require.NoError(t, err)
	defer host.Close()

	require.NoError(t, host.Publish(ctx, types.PlaybackClockState{IsPlaying: true, PositionMillis: 1000, UpdatedAtMillis: 1}))

	require.Eventually(t, func() bool {
		snap, err := hub.Document().Get(ctx, partyID)
		return err == nil && !snap.Closed && snap.State != nil && snap.State.PositionMillis == 1000
	}, 2*time.Second, 10*time.Millisecond)
}
