package metrics

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.UnitDispatched("ok")
	m.UnitDispatched("ok")
	m.UnitDispatched("transient")
	m.Findings(3, 1)
	m.StrategyRun("overlay", true, true)
	m.Run("completed", 0.25)

	if got := testutil.ToFloat64(m.unitsDispatched.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 ok dispatches, got %v", got)
	}
	if got := testutil.ToFloat64(m.findings.WithLabelValues("unmapped")); got != 1 {
		t.Errorf("expected 1 unmapped finding, got %v", got)
	}
	if got := testutil.ToFloat64(m.fallbacks); got != 1 {
		t.Errorf("expected 1 fallback, got %v", got)
	}
	if got := testutil.ToFloat64(m.costUSD); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("expected cost 0.25, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.UnitDispatched("ok")
	m.Retry()
	m.ParseFailure()
	m.Findings(1, 1)
	m.StrategyRun("server", false, false)
	m.Run("cancelled", 1)
	m.EmbeddingCacheHits(2)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Retry()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "docaudit_model_retries_total 1") {
		t.Errorf("expected retry counter in exposition, got:\n%s", body)
	}
}
