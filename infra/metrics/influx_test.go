package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/flexsim/core/clock"
	coremetrics "github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/model"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		l.mu.Lock()
		l.bodies = append(l.bodies, strings.TrimSpace(string(data)))
		l.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (l *lineRecorder) only(t *testing.T) string {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.bodies) != 1 {
		t.Fatalf("expected one write, got %#v", l.bodies)
	}
	return l.bodies[0]
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordTick(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()

	ev := coremetrics.TickEvent{Timestamp: 1_700_000_000, Aggregated: 101.23456, Baseline: 100, Target: 120, Devices: 2}
	if err := sink.RecordTick(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("flexsim_tick").
		AddTag("component", "aggregator").
		AddField("aggregated", 101.235).
		AddField("baseline", 100.0).
		AddField("target", 120.0).
		AddField("devices", 2).
		SetTime(clock.Time(1_700_000_000))
	if got := rec.only(t); got != line(p) {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestInfluxSink_RecordReport(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()

	r := model.Report{ID: 300, Start: 300, Stop: 1800, Reset: 2700, TargetBaseline: 120, Devices: 2,
		SuccessStart: 1, SuccessFlexibility: 0.5, SuccessReset: 1, AverageValue: -0.05}
	if err := sink.RecordReport(r); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("flexsim_report").
		AddTag("component", "aggregator").
		AddTag("event_id", "300").
		AddTag("success", "false").
		AddField("target_baseline", 120.0).
		AddField("devices", 2).
		AddField("success_start", 1.0).
		AddField("success_interval", 0.5).
		AddField("success_reset", 1.0).
		AddField("average_value", -0.05).
		AddField("spread", 0.0).
		SetTime(clock.Time(2700))
	if got := rec.only(t); got != line(p) {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestInfluxSink_RecordLedgerCall(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()

	now := time.Now()
	ev := coremetrics.LedgerCallEvent{Op: "end", Failed: true, Latency: 1500 * time.Microsecond, Time: now}
	if err := sink.RecordLedgerCall(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("flexsim_ledger_call").
		AddTag("component", "ledger").
		AddTag("op", "end").
		AddTag("failed", "true").
		AddField("latency_ms", 1.5).
		SetTime(now)
	if got := rec.only(t); got != line(p) {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
