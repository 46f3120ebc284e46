// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	HostRateLimit   float64 // requests per second per upstream host, 0 disables
	HostBurst       int
	UTLSDomains     []string // hosts that need a browser TLS fingerprint

	// Logging
	LogLevel      string
	LogJSON       bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Resolver
	SourceOrder      []string
	SourceWindow     int
	EmbedWindow      int
	CacheTTL         time.Duration
	ValidatorTimeout time.Duration
	ProviderTimeout  time.Duration
	ResolveTimeout   time.Duration

	// Provider affinity
	AffinityReadTimeout time.Duration
	AffinityTTL         time.Duration
	AffinityMemorySize  int

	// Durable key/value store: memory, badger, redis or sqlite
	KVBackend     string
	KVPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Segment prefetch
	PrefetchMaxSegments  int
	PrefetchWindow       time.Duration
	PrefetchBatchSize    int
	PrefetchFetchTimeout time.Duration
	PrefetchTimeout      time.Duration
	PrefetchInterval     time.Duration
	PrefetchSeenCap      int

	// Playback sessions
	ConstrainedTarget  bool
	BufferingDebounce  time.Duration
	BufferingStall     time.Duration
	ProgressInterval   time.Duration
	SessionIdleTimeout time.Duration

	// Watch party
	PartyPlayingInterval time.Duration
	PartyPlayingDrift    time.Duration
	PartyPausedInterval  time.Duration
	PartyPausedDrift     time.Duration
	PartySeekThreshold   time.Duration

	// Providers
	APISources    []APISource
	IframeSources []IframeSource

	// Stremio addon
	StremioEnabled bool

	// FlareSolverr settings (for Cloudflare bypass)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration

	// Background jobs
	JanitorInterval time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// APISource configures a JSON API source.
// URL and TVURL are templates, see providers.ExpandTemplate.
type APISource struct {
	ID    string
	URL   string
	TVURL string
}

// IframeSource configures an HTML page source whose iframes are embeds.
type IframeSource struct {
	ID    string
	URL   string
	TVURL string
}

// DefaultSourceOrder is used when SOURCE_ORDER is unset.
var DefaultSourceOrder = []string{"vidapi", "embedsu", "autoembed"}

// Load reads configuration from the environment and, when
// MEDIA_RESOLVER_CONFIG points at a file, from that YAML file.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	if path := v.GetString("media_resolver_config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return fromViper(v), nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 7860)
	v.SetDefault("read_timeout", "30s")
	v.SetDefault("write_timeout", "120s")
	v.SetDefault("idle_timeout", "60s")

	v.SetDefault("host_rate_limit", 0)
	v.SetDefault("host_burst", 4)
	v.SetDefault("utls_domains", "mixdrop.,mxdrop.,streamtape.")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 14)

	v.SetDefault("source_window", 2)
	v.SetDefault("embed_window", 2)
	v.SetDefault("cache_ttl", "2m")
	v.SetDefault("validator_timeout", "11s")
	v.SetDefault("provider_timeout", "15s")
	v.SetDefault("resolve_timeout", "90s")

	v.SetDefault("affinity_read_timeout", "350ms")
	v.SetDefault("affinity_ttl", "10m")
	v.SetDefault("affinity_memory_size", 2048)

	v.SetDefault("kv_backend", "memory")
	v.SetDefault("kv_path", "data/affinity")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)

	v.SetDefault("prefetch_max_segments", 10)
	v.SetDefault("prefetch_window", "60s")
	v.SetDefault("prefetch_batch_size", 3)
	v.SetDefault("prefetch_fetch_timeout", "8s")
	v.SetDefault("prefetch_timeout", "25s")
	v.SetDefault("prefetch_interval", "30s")
	v.SetDefault("prefetch_seen_cap", 512)

	v.SetDefault("constrained_target", false)
	v.SetDefault("buffering_debounce", "650ms")
	v.SetDefault("buffering_stall", "700ms")
	v.SetDefault("progress_interval", "10s")
	v.SetDefault("session_idle_timeout", "30m")

	v.SetDefault("party_playing_interval", "900ms")
	v.SetDefault("party_playing_drift", "900ms")
	v.SetDefault("party_paused_interval", "5s")
	v.SetDefault("party_paused_drift", "1200ms")
	v.SetDefault("party_seek_threshold", "1500ms")

	v.SetDefault("stremio_enabled", true)
	v.SetDefault("flaresolverr_timeout", "60s")
	v.SetDefault("janitor_interval", "1m")
}

func fromViper(v *viper.Viper) *Config {
	port := v.GetInt("port")
	baseURL := v.GetString("base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", port)
	}

	cfg := &Config{
		Port:                 port,
		BaseURL:              baseURL,
		ReadTimeout:          getDuration(v, "read_timeout"),
		WriteTimeout:         getDuration(v, "write_timeout"),
		IdleTimeout:          getDuration(v, "idle_timeout"),
		APIPassword:          v.GetString("api_password"),
		GlobalProxies:        getStringSlice(v, "global_proxies"),
		HostRateLimit:        v.GetFloat64("host_rate_limit"),
		HostBurst:            v.GetInt("host_burst"),
		UTLSDomains:          getStringSlice(v, "utls_domains"),
		LogLevel:             v.GetString("log_level"),
		LogJSON:              v.GetBool("log_json"),
		LogFile:              v.GetString("log_file"),
		LogMaxSizeMB:         v.GetInt("log_max_size_mb"),
		LogMaxBackups:        v.GetInt("log_max_backups"),
		LogMaxAgeDays:        v.GetInt("log_max_age_days"),
		SourceOrder:          getStringSlice(v, "source_order"),
		SourceWindow:         max(v.GetInt("source_window"), 1),
		EmbedWindow:          max(v.GetInt("embed_window"), 1),
		CacheTTL:             getDuration(v, "cache_ttl"),
		ValidatorTimeout:     getDuration(v, "validator_timeout"),
		ProviderTimeout:      getDuration(v, "provider_timeout"),
		ResolveTimeout:       getDuration(v, "resolve_timeout"),
		AffinityReadTimeout:  getDuration(v, "affinity_read_timeout"),
		AffinityTTL:          getDuration(v, "affinity_ttl"),
		AffinityMemorySize:   v.GetInt("affinity_memory_size"),
		KVBackend:            strings.ToLower(v.GetString("kv_backend")),
		KVPath:               v.GetString("kv_path"),
		RedisAddr:            v.GetString("redis_addr"),
		RedisPassword:        v.GetString("redis_password"),
		RedisDB:              v.GetInt("redis_db"),
		PrefetchMaxSegments:  v.GetInt("prefetch_max_segments"),
		PrefetchWindow:       getDuration(v, "prefetch_window"),
		PrefetchBatchSize:    v.GetInt("prefetch_batch_size"),
		PrefetchFetchTimeout: getDuration(v, "prefetch_fetch_timeout"),
		PrefetchTimeout:      getDuration(v, "prefetch_timeout"),
		PrefetchInterval:     getDuration(v, "prefetch_interval"),
		PrefetchSeenCap:      v.GetInt("prefetch_seen_cap"),
		ConstrainedTarget:    v.GetBool("constrained_target"),
		BufferingDebounce:    getDuration(v, "buffering_debounce"),
		BufferingStall:       getDuration(v, "buffering_stall"),
		ProgressInterval:     getDuration(v, "progress_interval"),
		SessionIdleTimeout:   getDuration(v, "session_idle_timeout"),
		PartyPlayingInterval: getDuration(v, "party_playing_interval"),
		PartyPlayingDrift:    getDuration(v, "party_playing_drift"),
		PartyPausedInterval:  getDuration(v, "party_paused_interval"),
		PartyPausedDrift:     getDuration(v, "party_paused_drift"),
		PartySeekThreshold:   getDuration(v, "party_seek_threshold"),
		StremioEnabled:       v.GetBool("stremio_enabled"),
		FlareSolverrURL:      v.GetString("flaresolverr_url"),
		FlareSolverrTimeout:  getDuration(v, "flaresolverr_timeout"),
		JanitorInterval:      getDuration(v, "janitor_interval"),
	}

	if len(cfg.SourceOrder) == 0 {
		cfg.SourceOrder = append([]string(nil), DefaultSourceOrder...)
	}

	cfg.TransportRoutes = parseTransportRoutes(v.GetString("transport_routes"))
	cfg.APISources = parseAPISources(v.GetString("api_sources"))
	cfg.IframeSources = parseIframeSources(v.GetString("iframe_sources"))

	// Legacy single proxy support
	if globalProxy := v.GetString("global_proxy"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	var routes []TransportRoute
	for _, fields := range parseBraceList(s) {
		route := TransportRoute{
			URLPattern: fields["URL"],
			Proxy:      fields["PROXY"],
			DisableSSL: strings.ToLower(fields["DISABLE_SSL"]) == "true",
			Direct:     strings.ToLower(fields["DIRECT"]) == "true",
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}
	return routes
}

// parseAPISources parses API_SOURCES.
// Format: {ID=vidapi, URL=https://api.example/movie/{tmdb}, TV=https://api.example/tv/{tmdb}/{season}/{episode}}
func parseAPISources(s string) []APISource {
	var sources []APISource
	for _, fields := range parseBraceList(s) {
		src := APISource{ID: fields["ID"], URL: fields["URL"], TVURL: fields["TV"]}
		if src.ID != "" && src.URL != "" {
			sources = append(sources, src)
		}
	}
	return sources
}

// parseIframeSources parses IFRAME_SOURCES, same format as API_SOURCES.
func parseIframeSources(s string) []IframeSource {
	var sources []IframeSource
	for _, fields := range parseBraceList(s) {
		src := IframeSource{ID: fields["ID"], URL: fields["URL"], TVURL: fields["TV"]}
		if src.ID != "" && src.URL != "" {
			sources = append(sources, src)
		}
	}
	return sources
}

// parseBraceList splits "{K=v, K2=v2}, {K=v3}" into one upper-cased key map per group.
func parseBraceList(s string) []map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var groups []map[string]string

	// Split by "}, {" pattern
	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		fields := make(map[string]string)
		for _, field := range strings.Split(part, ", ") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			fields[strings.ToUpper(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
		}
		groups = append(groups, fields)
	}

	return groups
}

// getDuration accepts plain integers as seconds and Go duration strings.
func getDuration(v *viper.Viper, key string) time.Duration {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return 0
	}
	// Try parsing as seconds first
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return 0
}

// getStringSlice accepts a YAML list or a comma-separated string.
func getStringSlice(v *viper.Viper, key string) []string {
	raw := v.GetStringSlice(key)
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, p := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
