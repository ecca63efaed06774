package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/flexsim/core/factory"
	metrics "github.com/kilianp07/flexsim/core/metrics"
	_ "github.com/kilianp07/flexsim/infra/metrics"
)

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestNoSinksYieldsNop(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}
}

func TestPrometheusSinkFromConfig(t *testing.T) {
	s, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "prometheus"}})
	if err != nil {
		t.Fatalf("create prometheus: %v", err)
	}
	if err := s.RecordTick(metrics.TickEvent{Timestamp: 60, Aggregated: 98, Baseline: 321, Devices: 4}); err != nil {
		t.Fatalf("record tick: %v", err)
	}
	if err := metrics.RecordLedgerCall(s, metrics.LedgerCallEvent{Op: "register", Latency: time.Millisecond}); err != nil {
		t.Fatalf("record ledger call: %v", err)
	}
	if got := gaugeValue(t, "flexsim_baseline"); got != 321 {
		t.Fatalf("baseline gauge = %v", got)
	}
	if got := gaugeValue(t, "flexsim_devices"); got != 4 {
		t.Fatalf("devices gauge = %v", got)
	}

	// A second sink reuses the registered collectors.
	if _, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "prometheus"}}); err != nil {
		t.Fatalf("second prometheus sink: %v", err)
	}
}

func TestUnknownSinkListsKnownTypes(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "statsd"}})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	for _, want := range []string{"statsd", "influx", "nop", "prometheus"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestRegisterMetricsSinkRejectsDuplicate(t *testing.T) {
	if err := metrics.RegisterMetricsSink("nop", func(map[string]any) (metrics.MetricsSink, error) {
		return metrics.NopSink{}, nil
	}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
