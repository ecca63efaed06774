package aggregator

import (
	"github.com/kilianp07/flexsim/core/allocation"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/reportlog"
	"github.com/kilianp07/flexsim/core/settlement"
	"github.com/kilianp07/flexsim/core/task"
	"github.com/kilianp07/flexsim/core/tracker"
)

const (
	// DefaultLead is the delay between a request and the start of its window.
	DefaultLead int64 = 300
	// DefaultDuration is the delay between a request and the end of its window.
	DefaultDuration int64 = 1800
)

// Options tunes the simulation run by an Aggregator.
type Options struct {
	Population   device.Population
	Params       device.Params
	Seed         int64
	Prefix       string
	Lead         int64
	Duration     int64
	Margin       float64
	GracePeriod  int64
	ChunkSize    int
	InitialFunds float64
	Policy       allocation.Policy
	// CancelOnStop cancels the agreements of devices removed by Stop.
	CancelOnStop bool
}

func (o *Options) setDefaults() {
	if o.Lead <= 0 {
		o.Lead = DefaultLead
	}
	if o.Duration <= o.Lead {
		o.Duration = max(DefaultDuration, o.Lead+1)
	}
	if o.Margin <= 0 {
		o.Margin = tracker.DefaultMargin
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = tracker.DefaultGracePeriod
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = settlement.DefaultChunkSize
	}
	if o.Policy == nil {
		o.Policy = allocation.Proportional{}
	}
}

// Deps are the collaborators of an Aggregator. Clock and Ledger are
// required, the others fall back to no-op implementations.
type Deps struct {
	Clock    *clock.Clock
	Ledger   ledger.Ledger
	Notifier notify.Notifier
	Metrics  metrics.MetricsSink
	Reports  reportlog.Store
	Spawner  task.Spawner
	Logger   logger.Logger
}
