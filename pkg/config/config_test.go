package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEDIA_RESOLVER_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 7860 {
		t.Errorf("Port = %d, want 7860", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:7860" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.SourceWindow != 2 || cfg.EmbedWindow != 2 {
		t.Errorf("windows = %d/%d, want 2/2", cfg.SourceWindow, cfg.EmbedWindow)
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %v, want 2m", cfg.CacheTTL)
	}
	if cfg.ValidatorTimeout != 11*time.Second {
		t.Errorf("ValidatorTimeout = %v, want 11s", cfg.ValidatorTimeout)
	}
	if cfg.AffinityReadTimeout != 350*time.Millisecond {
		t.Errorf("AffinityReadTimeout = %v, want 350ms", cfg.AffinityReadTimeout)
	}
	if cfg.BufferingDebounce != 650*time.Millisecond {
		t.Errorf("BufferingDebounce = %v, want 650ms", cfg.BufferingDebounce)
	}
	if cfg.KVBackend != "memory" {
		t.Errorf("KVBackend = %q, want memory", cfg.KVBackend)
	}
	if diff := cmp.Diff(DefaultSourceOrder, cfg.SourceOrder); diff != "" {
		t.Errorf("SourceOrder mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CACHE_TTL", "90")
	t.Setenv("SOURCE_ORDER", "b, a")
	t.Setenv("KV_BACKEND", "Redis")
	t.Setenv("GLOBAL_PROXY", "socks5://proxy:1080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Errorf("CacheTTL = %v, want 90s", cfg.CacheTTL)
	}
	if diff := cmp.Diff([]string{"b", "a"}, cfg.SourceOrder); diff != "" {
		t.Errorf("SourceOrder mismatch (-want +got):\n%s", diff)
	}
	if cfg.KVBackend != "redis" {
		t.Errorf("KVBackend = %q, want redis", cfg.KVBackend)
	}
	if diff := cmp.Diff([]string{"socks5://proxy:1080"}, cfg.GlobalProxies); diff != "" {
		t.Errorf("GlobalProxies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.yaml")
	content := "port: 8123\nembed_window: 3\nprefetch_window: 45s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIA_RESOLVER_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8123 {
		t.Errorf("Port = %d, want 8123", cfg.Port)
	}
	if cfg.EmbedWindow != 3 {
		t.Errorf("EmbedWindow = %d, want 3", cfg.EmbedWindow)
	}
	if cfg.PrefetchWindow != 45*time.Second {
		t.Errorf("PrefetchWindow = %v, want 45s", cfg.PrefetchWindow)
	}
}

func TestParseTransportRoutes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []TransportRoute
	}{
		{name: "empty", input: "", want: nil},
		{
			name:  "single route",
			input: "{URL=cdn.example, PROXY=http://p:8080}",
			want:  []TransportRoute{{URLPattern: "cdn.example", Proxy: "http://p:8080"}},
		},
		{
			name:  "multiple with flags",
			input: "{URL=a.example, DISABLE_SSL=true}, {URL=b.example, DIRECT=true}",
			want: []TransportRoute{
				{URLPattern: "a.example", DisableSSL: true},
				{URLPattern: "b.example", Direct: true},
			},
		},
		{name: "missing url is dropped", input: "{PROXY=http://p:8080}", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTransportRoutes(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseTransportRoutes() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSources(t *testing.T) {
	input := "{ID=vidapi, URL=https://api.example/movie/{tmdb}, TV=https://api.example/tv/{tmdb}/{season}/{episode}}, {URL=https://orphan}"

	got := parseAPISources(input)
	want := []APISource{{
		ID:    "vidapi",
		URL:   "https://api.example/movie/{tmdb}",
		TVURL: "https://api.example/tv/{tmdb}/{season}/{episode}",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseAPISources() mismatch (-want +got):\n%s", diff)
	}

	frames := parseIframeSources("{ID=embedsu, URL=https://embed.example/{imdb}}")
	if len(frames) != 1 || frames[0].ID != "embedsu" {
		t.Errorf("parseIframeSources() = %+v", frames)
	}
}
