package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/logger"
	coremetrics "github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/model"
	infralogger "github.com/kilianp07/flexsim/infra/logger"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes simulation points to an InfluxDB instance using the
// official client. Tick and report points are stamped with virtual time.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTick writes the aggregate state of one tick.
func (s *InfluxSink) RecordTick(ev coremetrics.TickEvent) error {
	p := write.NewPointWithMeasurement("flexsim_tick").
		AddTag("component", "aggregator").
		AddField("aggregated", round3(ev.Aggregated)).
		AddField("baseline", round3(ev.Baseline)).
		AddField("target", round3(ev.Target)).
		AddField("devices", ev.Devices).
		SetTime(clock.Time(ev.Timestamp))
	return s.write(p)
}

// RecordReport writes a scored flexibility event.
func (s *InfluxSink) RecordReport(r model.Report) error {
	p := write.NewPointWithMeasurement("flexsim_report").
		AddTag("component", "aggregator").
		AddTag("event_id", strconv.FormatInt(r.ID, 10)).
		AddTag("success", strconv.FormatBool(r.Success)).
		AddField("target_baseline", round3(r.TargetBaseline)).
		AddField("devices", r.Devices).
		AddField("success_start", round3(r.SuccessStart)).
		AddField("success_interval", round3(r.SuccessFlexibility)).
		AddField("success_reset", round3(r.SuccessReset)).
		AddField("average_value", round3(r.AverageValue)).
		AddField("spread", round3(r.Spread)).
		SetTime(clock.Time(r.Reset))
	return s.write(p)
}

// RecordLedgerCall writes one ledger submission.
func (s *InfluxSink) RecordLedgerCall(ev coremetrics.LedgerCallEvent) error {
	p := write.NewPointWithMeasurement("flexsim_ledger_call").
		AddTag("component", "ledger").
		AddTag("op", ev.Op).
		AddTag("failed", strconv.FormatBool(ev.Failed)).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordSettlement writes a chunked settlement summary.
func (s *InfluxSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	p := write.NewPointWithMeasurement("flexsim_settlement").
		AddTag("component", "aggregator").
		AddTag("event_id", strconv.FormatInt(ev.Start, 10)).
		AddTag("failed", strconv.FormatBool(ev.Failed)).
		AddField("records", ev.Records).
		AddField("chunks", ev.Chunks).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
