package notify

import (
	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/internal/eventbus"
)

// Notification types carried on the bus.
const (
	TypeReading   = "reading"
	TypeBaseline  = "baseline"
	TypeAgreement = "agreement"
	TypeReport    = "report"
	TypeToast     = "toast"
)

// Notification is the serialisable form of a notifier call.
type Notification struct {
	Type      string           `json:"type"`
	Time      int64            `json:"time,omitempty"`
	Value     float64          `json:"value,omitempty"`
	Kind      ledger.EventKind `json:"kind,omitempty"`
	Device    model.Address    `json:"device,omitempty"`
	Agreement *model.Agreement `json:"agreement,omitempty"`
	Seq       uint64           `json:"seq,omitempty"`
	Report    *model.Report    `json:"report,omitempty"`
	Message   string           `json:"message,omitempty"`
	Severity  Severity         `json:"severity,omitempty"`
}

// Bus publishes notifications on a typed event bus.
type Bus struct {
	*eventbus.TypedBus[Notification]
}

// NewBus creates a bus whose subscribers buffer size notifications.
func NewBus(size int) *Bus {
	return &Bus{TypedBus: eventbus.NewTypedSize[Notification](size)}
}

func (b *Bus) OnAggregatedReading(v float64, ts int64) {
	b.Publish(Notification{Type: TypeReading, Time: ts, Value: v})
}

func (b *Bus) OnBaselineChanged(v float64) {
	b.Publish(Notification{Type: TypeBaseline, Value: v})
}

func (b *Bus) OnAgreementEvent(k ledger.EventKind, d model.Address, a model.Agreement, seq uint64) {
	b.Publish(Notification{Type: TypeAgreement, Kind: k, Device: d, Agreement: &a, Seq: seq})
}

func (b *Bus) OnFlexibilityReport(r model.Report) {
	b.Publish(Notification{Type: TypeReport, Report: &r, Time: r.Reset})
}

func (b *Bus) OnToast(msg string, sev Severity) {
	b.Publish(Notification{Type: TypeToast, Message: msg, Severity: sev})
}
