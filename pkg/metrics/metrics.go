// Package metrics exposes Prometheus counters for resolution, validation,
// prefetch and watch-party activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_resolver_resolve_total",
		Help: "Resolver calls by outcome (hit, joined, resolved, exhausted)",
	}, []string{"outcome"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_resolver_resolve_duration_seconds",
		Help:    "Wall time of provider races that actually ran",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	})

	providerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_resolver_provider_attempts_total",
		Help: "Source and embed attempts by kind and result",
	}, []string{"kind", "id", "result"})

	validationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_resolver_validation_total",
		Help: "Stream validation probes by stream type and result",
	}, []string{"type", "result"})

	prefetchSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_resolver_prefetch_segments_total",
		Help: "Prefetched segments by result",
	}, []string{"result"})

	partyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_resolver_party_events_total",
		Help: "Watch-party clock events (published, applied, stale, queued)",
	}, []string{"event"})

	relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_resolver_relay_requests_total",
		Help: "Relayed playlist and stream requests by kind and outcome",
	}, []string{"kind", "outcome"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_resolver_active_sessions",
		Help: "Playback sessions currently held in memory",
	})
)

// RecordResolve counts one resolver call outcome.
func RecordResolve(outcome string) {
	resolveTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolveDuration records the duration of a provider race in seconds.
func ObserveResolveDuration(seconds float64) {
	resolveDuration.Observe(seconds)
}

// RecordProviderAttempt counts a source or embed attempt.
func RecordProviderAttempt(kind, id string, ok bool) {
	providerAttempts.WithLabelValues(kind, id, result(ok)).Inc()
}

// RecordValidation counts a validation probe.
func RecordValidation(streamType string, ok bool) {
	validationTotal.WithLabelValues(streamType, result(ok)).Inc()
}

// RecordPrefetch counts a prefetched segment.
func RecordPrefetch(ok bool) {
	prefetchSegments.WithLabelValues(result(ok)).Inc()
}

// RecordRelay counts a relayed playlist or stream request.
func RecordRelay(kind, outcome string) {
	relayRequests.WithLabelValues(kind, outcome).Inc()
}

// RecordPartyEvent counts a watch-party clock event.
func RecordPartyEvent(event string) {
	partyEvents.WithLabelValues(event).Inc()
}

// SetActiveSessions sets the session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
