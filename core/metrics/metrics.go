package metrics

import (
	"time"

	"github.com/kilianp07/flexsim/core/model"
)

// TickEvent is the aggregate state published once per tick.
type TickEvent struct {
	Timestamp  int64
	Aggregated float64
	Baseline   float64
	// Target is the commanded baseline while a request is active, else 0.
	Target  float64
	Devices int
}

// MetricsSink records simulation metrics for observability purposes.
type MetricsSink interface {
	RecordTick(ev TickEvent) error
}

// ReportRecorder records finalized flexibility reports.
type ReportRecorder interface {
	RecordReport(r model.Report) error
}

// LedgerCallEvent describes one ledger submission.
type LedgerCallEvent struct {
	Op      string
	Failed  bool
	Latency time.Duration
	Time    time.Time
}

// LedgerCallRecorder records ledger submissions.
type LedgerCallRecorder interface {
	RecordLedgerCall(ev LedgerCallEvent) error
}

// StaleEventRecorder counts ledger events dropped by the sequence guard.
type StaleEventRecorder interface {
	RecordStaleEvent(kind string) error
}

// SettlementEvent summarises a chunked settlement.
type SettlementEvent struct {
	Start   int64
	Records int
	Chunks  int
	Failed  bool
	Time    time.Time
}

// SettlementRecorder records settlements.
type SettlementRecorder interface {
	RecordSettlement(ev SettlementEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordTick(TickEvent) error { return nil }

func (NopSink) RecordReport(model.Report) error { return nil }

func (NopSink) RecordLedgerCall(LedgerCallEvent) error { return nil }

func (NopSink) RecordStaleEvent(string) error { return nil }

func (NopSink) RecordSettlement(SettlementEvent) error { return nil }

// RecordReport forwards r when s supports reports.
func RecordReport(s MetricsSink, r model.Report) error {
	if rec, ok := s.(ReportRecorder); ok {
		return rec.RecordReport(r)
	}
	return nil
}

// RecordLedgerCall forwards ev when s supports ledger calls.
func RecordLedgerCall(s MetricsSink, ev LedgerCallEvent) error {
	if rec, ok := s.(LedgerCallRecorder); ok {
		return rec.RecordLedgerCall(ev)
	}
	return nil
}

// RecordStaleEvent forwards kind when s counts stale events.
func RecordStaleEvent(s MetricsSink, kind string) error {
	if rec, ok := s.(StaleEventRecorder); ok {
		return rec.RecordStaleEvent(kind)
	}
	return nil
}

// RecordSettlement forwards ev when s supports settlements.
func RecordSettlement(s MetricsSink, ev SettlementEvent) error {
	if rec, ok := s.(SettlementRecorder); ok {
		return rec.RecordSettlement(ev)
	}
	return nil
}
