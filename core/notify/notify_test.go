package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, b, Nop{}}
	m.OnAggregatedReading(10, 1)
	m.OnBaselineChanged(100)
	m.OnAgreementEvent(ledger.AgreementRegistered, "d", model.Agreement{Value: 1}, 3)
	m.OnFlexibilityReport(model.Report{ID: 7})
	m.OnToast("hi", Warning)

	for _, r := range []*Recorder{a, b} {
		s := r.Snapshot()
		assert.Equal(t, []float64{10}, s.Readings)
		assert.Equal(t, []float64{100}, s.Baseline)
		require.Len(t, s.Events, 1)
		assert.Equal(t, uint64(3), s.Events[0].Seq)
		require.Len(t, s.Reports, 1)
		require.Len(t, s.Toasts, 1)
		assert.Equal(t, Warning, s.Toasts[0].Severity)
	}
}

func TestBusPublishes(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()
	ch := bus.Subscribe()
	bus.OnAggregatedReading(42, 99)
	bus.OnFlexibilityReport(model.Report{ID: 1, Reset: 5})

	n := <-ch
	assert.Equal(t, TypeReading, n.Type)
	assert.Equal(t, 42.0, n.Value)
	assert.Equal(t, int64(99), n.Time)
	n = <-ch
	assert.Equal(t, TypeReport, n.Type)
	require.NotNil(t, n.Report)
	assert.Equal(t, int64(1), n.Report.ID)
}
