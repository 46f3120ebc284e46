package urlutil

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUnwrapProxyURL(t *testing.T) {
	real := "https://cdn.example.com/hls/master.m3u8?token=abc"
	b64 := base64.StdEncoding.EncodeToString([]byte(real))

	tests := []struct {
		name        string
		raw         string
		wantURL     string
		wantHeaders map[string]string
	}{
		{
			name:    "plain url unchanged",
			raw:     real,
			wantURL: real,
		},
		{
			name:    "proxy with escaped url",
			raw:     "https://wrap.example/proxy?url=" + url.QueryEscape(real),
			wantURL: real,
		},
		{
			name:    "m3u8-proxy with json headers",
			raw:     "https://wrap.example/m3u8-proxy?url=" + url.QueryEscape(real) + "&headers=" + url.QueryEscape(`{"Referer":"https://site.example/"}`),
			wantURL: real,
			wantHeaders: map[string]string{
				"Referer": "https://site.example/",
			},
		},
		{
			name:    "h_ params become headers",
			raw:     "https://wrap.example/proxy?url=" + url.QueryEscape(real) + "&h_User_Agent=UA&h_Origin=https://o.example",
			wantURL: real,
			wantHeaders: map[string]string{
				"User-Agent": "UA",
				"Origin":     "https://o.example",
			},
		},
		{
			name:    "base64 inner url",
			raw:     "https://wrap.example/proxy?url=" + url.QueryEscape(b64),
			wantURL: real,
		},
		{
			name:    "bare base64",
			raw:     b64,
			wantURL: real,
		},
		{
			name:    "nested wrappers",
			raw:     "https://outer.example/proxy?h_Referer=r&url=" + url.QueryEscape("https://inner.example/m3u8-proxy?url="+url.QueryEscape(real)),
			wantURL: real,
			wantHeaders: map[string]string{
				"Referer": "r",
			},
		},
		{
			name:    "url param on non-proxy path is left alone",
			raw:     "https://site.example/watch?url=" + url.QueryEscape(real),
			wantURL: "https://site.example/watch?url=" + url.QueryEscape(real),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, gotHeaders := UnwrapProxyURL(tt.raw)
			if gotURL != tt.wantURL {
				t.Errorf("UnwrapProxyURL() url = %q, want %q", gotURL, tt.wantURL)
			}
			if diff := cmp.Diff(tt.wantHeaders, gotHeaders); diff != "" {
				t.Errorf("UnwrapProxyURL() headers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeURL(t *testing.T) {
	real := "https://cdn.example.com/a.mp4"
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"escaped", url.QueryEscape(real), real},
		{"std base64 unpadded", base64.RawStdEncoding.EncodeToString([]byte(real)), real},
		{"url-safe base64", base64.URLEncoding.EncodeToString([]byte(real)), real},
		{"garbage stays", "not-a-url", "not-a-url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeURL(tt.in); got != tt.want {
				t.Errorf("DecodeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseHeaderParams(t *testing.T) {
	tests := []struct {
		name     string
		query    url.Values
		expected map[string]string
	}{
		{
			name:     "empty query",
			query:    url.Values{},
			expected: map[string]string{},
		},
		{
			name: "underscore to hyphen conversion",
			query: url.Values{
				"h_User_Agent": []string{"Mozilla/5.0"},
			},
			expected: map[string]string{
				"User-Agent": "Mozilla/5.0",
			},
		},
		{
			name: "ignores non-header params",
			query: url.Values{
				"url":       []string{"https://example.com/stream.m3u8"},
				"h_Referer": []string{"https://example.com"},
				"headers":   []string{"{}"},
			},
			expected: map[string]string{
				"Referer": "https://example.com",
			},
		},
		{
			name: "only first value used",
			query: url.Values{
				"h_Multi": []string{"first", "second"},
			},
			expected: map[string]string{
				"Multi": "first",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseHeaderParams(tt.query)
			if diff := cmp.Diff(tt.expected, result); diff != "" {
				t.Errorf("ParseHeaderParams() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
