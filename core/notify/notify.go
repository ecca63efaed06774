// Package notify carries one-way notifications from the simulation to its
// presentation layer (API stream, exporters).
package notify

import (
	"sync"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
)

// Severity of a toast.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notifier receives fire-and-forget notifications. Implementations must not
// block.
type Notifier interface {
	OnAggregatedReading(value float64, ts int64)
	OnBaselineChanged(value float64)
	OnAgreementEvent(kind ledger.EventKind, device model.Address, a model.Agreement, seq uint64)
	OnFlexibilityReport(r model.Report)
	OnToast(message string, sev Severity)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) OnAggregatedReading(float64, int64) {}

func (Nop) OnBaselineChanged(float64) {}

func (Nop) OnAgreementEvent(ledger.EventKind, model.Address, model.Agreement, uint64) {}

func (Nop) OnFlexibilityReport(model.Report) {}

func (Nop) OnToast(string, Severity) {}

// Multi fans notifications out to several notifiers.
type Multi []Notifier

func (m Multi) OnAggregatedReading(v float64, ts int64) {
	for _, n := range m {
		n.OnAggregatedReading(v, ts)
	}
}

func (m Multi) OnBaselineChanged(v float64) {
	for _, n := range m {
		n.OnBaselineChanged(v)
	}
}

func (m Multi) OnAgreementEvent(k ledger.EventKind, d model.Address, a model.Agreement, seq uint64) {
	for _, n := range m {
		n.OnAgreementEvent(k, d, a, seq)
	}
}

func (m Multi) OnFlexibilityReport(r model.Report) {
	for _, n := range m {
		n.OnFlexibilityReport(r)
	}
}

func (m Multi) OnToast(msg string, sev Severity) {
	for _, n := range m {
		n.OnToast(msg, sev)
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu       sync.Mutex
	Readings []float64
	Times    []int64
	Baseline []float64
	Events   []Notification
	Reports  []model.Report
	Toasts   []Notification
}

func (r *Recorder) OnAggregatedReading(v float64, ts int64) {
	r.mu.Lock()
	r.Readings = append(r.Readings, v)
	r.Times = append(r.Times, ts)
	r.mu.Unlock()
}

func (r *Recorder) OnBaselineChanged(v float64) {
	r.mu.Lock()
	r.Baseline = append(r.Baseline, v)
	r.mu.Unlock()
}

func (r *Recorder) OnAgreementEvent(k ledger.EventKind, d model.Address, a model.Agreement, seq uint64) {
	r.mu.Lock()
	r.Events = append(r.Events, Notification{Type: TypeAgreement, Kind: k, Device: d, Agreement: &a, Seq: seq})
	r.mu.Unlock()
}

func (r *Recorder) OnFlexibilityReport(rep model.Report) {
	r.mu.Lock()
	r.Reports = append(r.Reports, rep)
	r.mu.Unlock()
}

func (r *Recorder) OnToast(msg string, sev Severity) {
	r.mu.Lock()
	r.Toasts = append(r.Toasts, Notification{Type: TypeToast, Message: msg, Severity: sev})
	r.mu.Unlock()
}

// Snapshot returns copies of the recorded slices under lock.
func (r *Recorder) Snapshot() Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Recorder{
		Readings: append([]float64(nil), r.Readings...),
		Times:    append([]int64(nil), r.Times...),
		Baseline: append([]float64(nil), r.Baseline...),
		Events:   append([]Notification(nil), r.Events...),
		Reports:  append([]model.Report(nil), r.Reports...),
		Toasts:   append([]Notification(nil), r.Toasts...),
	}
}
