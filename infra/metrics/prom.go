package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/model"
)

// PromSink exposes simulation metrics as Prometheus collectors.
type PromSink struct {
	aggregated  prometheus.Gauge
	baseline    prometheus.Gauge
	target      prometheus.Gauge
	devices     prometheus.Gauge
	reports     *prometheus.CounterVec
	deviation   prometheus.Gauge
	successRate *prometheus.GaugeVec
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	stale       *prometheus.CounterVec
	settlements *prometheus.CounterVec
	records     prometheus.Counter
}

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// that are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		aggregated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flexsim_aggregated_production",
			Help: "Sum of device readings during the last tick",
		}),
		baseline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flexsim_baseline",
			Help: "Sum of the committed values of running devices",
		}),
		target: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flexsim_target_baseline",
			Help: "Target baseline of the active flexibility request, 0 when idle",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flexsim_devices",
			Help: "Number of simulated devices",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flexsim_flexibility_reports_total",
			Help: "Scored flexibility events",
		}, []string{"success"}),
		deviation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flexsim_flexibility_average_deviation",
			Help: "Normalized deviation of the last scored event",
		}),
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flexsim_flexibility_success_ratio",
			Help: "Fraction of compliant devices per phase of the last scored event",
		}, []string{"phase"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flexsim_ledger_calls_total",
			Help: "Ledger submissions",
		}, []string{"op", "failed"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flexsim_ledger_call_seconds",
			Help:    "Time between submission and receipt",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flexsim_stale_events_total",
			Help: "Ledger events dropped by the sequence guard",
		}, []string{"kind"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flexsim_settlements_total",
			Help: "Chunked settlements",
		}, []string{"failed"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flexsim_settlement_records_total",
			Help: "Settlement records handed to the ledger",
		}),
	}
	var err error
	if s.aggregated, err = register(reg, s.aggregated); err != nil {
		return nil, err
	}
	if s.baseline, err = register(reg, s.baseline); err != nil {
		return nil, err
	}
	if s.target, err = register(reg, s.target); err != nil {
		return nil, err
	}
	if s.devices, err = register(reg, s.devices); err != nil {
		return nil, err
	}
	if s.reports, err = register(reg, s.reports); err != nil {
		return nil, err
	}
	if s.deviation, err = register(reg, s.deviation); err != nil {
		return nil, err
	}
	if s.successRate, err = register(reg, s.successRate); err != nil {
		return nil, err
	}
	if s.calls, err = register(reg, s.calls); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.stale, err = register(reg, s.stale); err != nil {
		return nil, err
	}
	if s.settlements, err = register(reg, s.settlements); err != nil {
		return nil, err
	}
	if s.records, err = register(reg, s.records); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, returning the existing collector when an equal
// one was registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordTick updates the per tick gauges.
func (s *PromSink) RecordTick(ev coremetrics.TickEvent) error {
	s.aggregated.Set(ev.Aggregated)
	s.baseline.Set(ev.Baseline)
	s.target.Set(ev.Target)
	s.devices.Set(float64(ev.Devices))
	return nil
}

// RecordReport counts the report and exposes its success ratios.
func (s *PromSink) RecordReport(r model.Report) error {
	s.reports.WithLabelValues(strconv.FormatBool(r.Success)).Inc()
	s.deviation.Set(r.AverageValue)
	s.successRate.WithLabelValues("start").Set(r.SuccessStart)
	s.successRate.WithLabelValues("interval").Set(r.SuccessFlexibility)
	s.successRate.WithLabelValues("reset").Set(r.SuccessReset)
	return nil
}

// RecordLedgerCall counts the submission and observes its latency.
func (s *PromSink) RecordLedgerCall(ev coremetrics.LedgerCallEvent) error {
	s.calls.WithLabelValues(ev.Op, strconv.FormatBool(ev.Failed)).Inc()
	s.latency.WithLabelValues(ev.Op).Observe(ev.Latency.Seconds())
	return nil
}

// RecordStaleEvent counts a dropped ledger event.
func (s *PromSink) RecordStaleEvent(kind string) error {
	s.stale.WithLabelValues(kind).Inc()
	return nil
}

// RecordSettlement counts the settlement and its records.
func (s *PromSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	s.settlements.WithLabelValues(strconv.FormatBool(ev.Failed)).Inc()
	s.records.Add(float64(ev.Records))
	return nil
}
