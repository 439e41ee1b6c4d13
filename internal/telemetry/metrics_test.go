package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("mistral:7b", "ok").Inc()
	m.CacheEvents.WithLabelValues("hit").Inc()
	m.FlightCoalesced.Add(49)
	m.RateLimitRejects.Inc()
	m.TokensProcessed.WithLabelValues("mistral:7b", "prompt").Add(12)
	m.ActivePipelines.Set(3)
	m.ModelsReady.Set(2)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("mistral:7b", "ok")); got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FlightCoalesced); got != 49 {
		t.Errorf("singleflight_coalesced_total = %v, want 49", got)
	}
	if got := testutil.ToFloat64(m.ModelsReady); got != 2 {
		t.Errorf("models_ready = %v, want 2", got)
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	NewMetrics(reg)
}
