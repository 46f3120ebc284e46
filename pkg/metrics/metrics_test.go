package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"media-resolver-go/pkg/metrics"
)

func TestHandlerExposesCounters(t *testing.T) {
	metrics.RecordResolve("resolved")
	metrics.RecordValidation("hls", true)
	metrics.RecordProviderAttempt("embed", "mixdrop", false)
	metrics.RecordPrefetch(true)
	metrics.RecordPartyEvent("stale")
	metrics.RecordRelay("stream", "ok")
	metrics.SetActiveSessions(3)
	metrics.ObserveResolveDuration(1.5)

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`media_resolver_resolve_total{outcome="resolved"}`,
		`media_resolver_validation_total{result="ok",type="hls"}`,
		`media_resolver_provider_attempts_total{id="mixdrop",kind="embed",result="fail"}`,
		`media_resolver_party_events_total{event="stale"}`,
		`media_resolver_relay_requests_total{kind="stream",outcome="ok"}`,
		`media_resolver_active_sessions 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape output missing %s", want)
		}
	}
}
