package metrics

import "github.com/kilianp07/flexsim/core/model"

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordTick forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordTick(ev TickEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordTick(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordReport forwards reports to sinks supporting them.
func (m *MultiSink) RecordReport(r model.Report) error {
	for _, s := range m.Sinks {
		if err := RecordReport(s, r); err != nil {
			return err
		}
	}
	return nil
}

// RecordLedgerCall forwards ledger call events.
func (m *MultiSink) RecordLedgerCall(ev LedgerCallEvent) error {
	for _, s := range m.Sinks {
		if err := RecordLedgerCall(s, ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordStaleEvent forwards stale event counts.
func (m *MultiSink) RecordStaleEvent(kind string) error {
	for _, s := range m.Sinks {
		if err := RecordStaleEvent(s, kind); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement forwards settlement events.
func (m *MultiSink) RecordSettlement(ev SettlementEvent) error {
	for _, s := range m.Sinks {
		if err := RecordSettlement(s, ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		Close(s)
	}
}

// Close releases s when it exposes a Close method.
func Close(s MetricsSink) {
	if c, ok := s.(interface{ Close() }); ok {
		c.Close()
	}
}
