package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/observability"
)

func newCollector(t *testing.T) (*observability.Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c, reg
}

func f64(v float64) *float64 { return &v }

func TestCollector_ObserveDiagnosis(t *testing.T) {
	c, reg := newCollector(t)
	c.ObserveDiagnosis(models.CodeClientDown, 1500*time.Millisecond)
	c.ObserveDiagnosis(models.CodeClientDown, 2*time.Second)

	if got := testutil.ToFloat64(c.Diagnoses.WithLabelValues("CLIENT DOWN")); got != 2 {
		t.Errorf("linkdiag_diagnoses_total = %v, want 2", got)
	}
	if n := histogramSampleCount(t, reg, "linkdiag_diagnosis_duration_seconds", nil); n != 2 {
		t.Errorf("duration sample_count = %d, want 2", n)
	}
}

func TestCollector_ObserveHop(t *testing.T) {
	c, _ := newCollector(t)
	c.ObserveHop(models.HopHealth{
		Target: models.HopTarget{Label: models.BaseRadio},
		Probe:  models.ProbeResult{Status: models.ProbeUp},
		Signal: &models.SignalReading{Grade: models.GradeJittery},
	})
	c.ObserveHop(models.HopHealth{
		Target: models.HopTarget{Label: models.Gateway},
		Probe:  models.ProbeResult{Status: models.ProbeSkipped},
	})

	if got := testutil.ToFloat64(c.HopProbes.WithLabelValues("base", "UP")); got != 1 {
		t.Errorf("base UP probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SignalGrades.WithLabelValues("base", "JITTERY")); got != 1 {
		t.Errorf("base JITTERY grades = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SignalGrades.WithLabelValues("gw", "UNKNOWN")); got != 1 {
		t.Errorf("gw UNKNOWN grades = %v, want 1", got)
	}
}

func TestCollector_SetLinkState(t *testing.T) {
	c, _ := newCollector(t)

	var d models.Diagnosis
	d.LinkID = "dhk-101"
	d.Hops[models.ClientRadio] = models.HopHealth{
		Target: models.HopTarget{Label: models.ClientRadio},
		Probe:  models.ProbeResult{Status: models.ProbeUp},
		Signal: &models.SignalReading{Grade: models.GradeStable, AverageDbm: f64(-61.5)},
	}
	c.SetLinkState(d)

	if got := testutil.ToFloat64(c.LinkUp.WithLabelValues("dhk-101")); got != 1 {
		t.Errorf("link_up = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.LinkSignal.WithLabelValues("dhk-101")); got != -61.5 {
		t.Errorf("link_signal_dbm = %v, want -61.5", got)
	}

	d.Hops[models.ClientRadio].Probe.Status = models.ProbeDown
	d.Hops[models.ClientRadio].Signal = &models.SignalReading{Grade: models.GradeOffline}
	c.SetLinkState(d)

	if got := testutil.ToFloat64(c.LinkUp.WithLabelValues("dhk-101")); got != 0 {
		t.Errorf("link_up after outage = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(c.LinkSignal); n != 0 {
		t.Errorf("link_signal_dbm series = %d, want 0 after outage", n)
	}

	c.ResetLinks()
	if n := testutil.CollectAndCount(c.LinkUp); n != 0 {
		t.Errorf("link_up series after reset = %d, want 0", n)
	}
}

func TestCollector_HandlerExposesMetrics(t *testing.T) {
	c, _ := newCollector(t)
	c.ObserveHTTP("/api/diagnose", http.StatusOK, 20*time.Millisecond)
	c.IncSweepDropped()

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		`linkdiag_http_requests_total{code="200",route="/api/diagnose"} 1`,
		"linkdiag_http_request_duration_seconds",
		"linkdiag_sweep_dropped_total 1",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %q in /metrics output", metric)
		}
	}
}

func TestNewCollector_ReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	second, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.IncSweepDropped()
	if got := testutil.ToFloat64(second.SweepDropped); got != 1 {
		t.Errorf("shared counter = %v, want 1", got)
	}
}

func TestCollector_ObserveTrap(t *testing.T) {
	c, _ := newCollector(t)
	c.ObserveTrap("linkDown", "queued")
	c.ObserveTrap("linkDown", "queued")
	c.ObserveTrap("coldStart", "unknown_source")

	if got := testutil.ToFloat64(c.Traps.WithLabelValues("linkDown", "queued")); got != 2 {
		t.Errorf("linkDown/queued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Traps.WithLabelValues("coldStart", "unknown_source")); got != 1 {
		t.Errorf("coldStart/unknown_source = %v, want 1", got)
	}
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *observability.Collector
	c.ObserveDiagnosis(models.CodeLinkUp, time.Second)
	c.ObserveHop(models.HopHealth{})
	c.ObserveHTTP("/", 200, time.Millisecond)
	c.IncSweepDropped()
	c.SetLinkState(models.Diagnosis{LinkID: "x"})
	c.ResetLinks()
	c.ObserveTrap("linkDown", "queued")
	if c.Handler() == nil {
		t.Error("nil collector returned nil handler")
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := observability.InitTracing(context.Background(), observability.TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	observability.ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Enabled:  true,
		Exporter: "zipkin",
	}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("LINKDIAG_TRACING_ENABLED", "TRUE")
	t.Setenv("LINKDIAG_TRACING_EXPORTER", "OTLP")
	t.Setenv("LINKDIAG_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("LINKDIAG_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("LINKDIAG_TRACING_SERVICE_NAME", "")

	cfg := observability.TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 ||
		cfg.Endpoint != "collector:4317" || cfg.ServiceName != "linkdiag" {
		t.Errorf("TracingConfigFromEnv = %+v", cfg)
	}

	t.Setenv("LINKDIAG_TRACING_SAMPLE_RATIO", "7")
	if cfg := observability.TracingConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Errorf("out-of-range ratio accepted: %v", cfg.SampleRatio)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, p := range pairs {
			if p.GetName() == k && p.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
