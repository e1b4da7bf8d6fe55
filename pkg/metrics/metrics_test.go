package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	r := New()
	r.UpstreamCall(OutcomeOK)
	r.UpstreamCall(OutcomeOK)
	r.UpstreamCall(OutcomeBreakerOpen)
	r.CacheLookup(CacheHit)

	if got := testutil.ToFloat64(r.upstreamCalls.WithLabelValues(OutcomeOK)); got != 2 {
		t.Fatalf("expected 2 ok calls, got %v", got)
	}
	if got := testutil.ToFloat64(r.upstreamCalls.WithLabelValues(OutcomeBreakerOpen)); got != 1 {
		t.Fatalf("expected 1 breaker_open call, got %v", got)
	}
	if got := testutil.ToFloat64(r.cacheLookups.WithLabelValues(CacheHit)); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.UpstreamCall(OutcomeOK)
	r.CacheLookup(CacheMiss)
	r.Persist("ok")
	r.BreakerState("search", 1)
	r.LimiterWait(time.Now())
	r.Batch(time.Now(), 3)
	r.PopularityRefreshed("ok")
	r.InflightShared()
}

func TestHandlerServesExposition(t *testing.T) {
	r := New()
	r.BreakerState("search", 1)
	r.Batch(time.Now(), 25)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`combo_engine_breaker_state{breaker="search"} 1`,
		"combo_engine_ranking_batch_combos_total 25",
		"# TYPE combo_engine_ranking_batch_duration_seconds histogram",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}
