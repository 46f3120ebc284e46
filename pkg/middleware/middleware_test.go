package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/config"
	"media-resolver-go/pkg/logging"
)

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name           string
		configPassword string
		queryPassword  string
		bearerToken    string
		xApiPassword   string
		expected       bool
	}{
		{
			name:           "no password configured - allow access",
			configPassword: "",
			expected:       true,
		},
		{
			name:           "correct query parameter",
			configPassword: "secret123",
			queryPassword:  "secret123",
			expected:       true,
		},
		{
			name:           "wrong query parameter",
			configPassword: "secret123",
			queryPassword:  "wrong",
			expected:       false,
		},
		{
			name:           "correct bearer token",
			configPassword: "secret123",
			bearerToken:    "secret123",
			expected:       true,
		},
		{
			name:           "wrong bearer token",
			configPassword: "secret123",
			bearerToken:    "wrong",
			expected:       false,
		},
		{
			name:           "correct X-API-Password header",
			configPassword: "secret123",
			xApiPassword:   "secret123",
			expected:       true,
		},
		{
			name:           "wrong X-API-Password header",
			configPassword: "secret123",
			xApiPassword:   "wrong",
			expected:       false,
		},
		{
			name:           "no credentials provided",
			configPassword: "secret123",
			expected:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqURL := "http://localhost/api/resolve"
			if tt.queryPassword != "" {
				reqURL += "?api_password=" + tt.queryPassword
			}

			req := httptest.NewRequest(http.MethodGet, reqURL, nil)
			if tt.bearerToken != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearerToken)
			}
			if tt.xApiPassword != "" {
				req.Header.Set("X-API-Password", tt.xApiPassword)
			}

			assert.Equal(t, tt.expected, CheckPassword(req, tt.configPassword))
		})
	}
}

func TestAuth(t *testing.T) {
	cfg := &config.Config{APIPassword: "secret123"}
	called := false
	handler := Auth(cfg, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		target string
		status int
		called bool
	}{
		{"unauthorized request", "/api/resolve", http.StatusUnauthorized, false},
		{"authorized request", "/api/resolve?api_password=secret123", http.StatusOK, true},
		{"public info", "/api/info", http.StatusOK, true},
		{"public metrics", "/metrics", http.StatusOK, true},
		{"public stremio addon", "/stremio/manifest.json", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.called, called)
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRecovery(t *testing.T) {
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }),
		Recovery(logging.Discard()),
		Logging(logging.Discard()),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingAttachesRequestLogger(t *testing.T) {
	var got *logging.Logger
	handler := Logging(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotNil(t, got)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
