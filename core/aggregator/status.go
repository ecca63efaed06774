package aggregator

import (
	"context"

	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/reportlog"
)

// RequestStatus describes the tracked flexibility request.
type RequestStatus struct {
	Start          int64   `json:"start"`
	Stop           int64   `json:"stop"`
	Reset          int64   `json:"reset"`
	TargetBaseline float64 `json:"target_baseline"`
	Baseline       float64 `json:"baseline"`
	Participants   int     `json:"participants"`
}

// Status is a point in time view of the simulation.
type Status struct {
	Timestamp      int64          `json:"timestamp"`
	Time           string         `json:"time"`
	Season         string         `json:"season"`
	Hour           int            `json:"hour"`
	Ticking        bool           `json:"ticking"`
	Started        bool           `json:"started"`
	Devices        int            `json:"devices"`
	RunningDevices int            `json:"running_devices"`
	Baseline       float64        `json:"baseline"`
	Request        *RequestStatus `json:"request,omitempty"`
	LastSequence   uint64         `json:"last_sequence"`
	StaleEvents    uint64         `json:"stale_events"`
	LastReport     *model.Report  `json:"last_report,omitempty"`
}

// Status returns a snapshot of the simulation.
func (a *Aggregator) Status() Status {
	ts := a.clock.Timestamp()
	a.mu.Lock()
	s := Status{
		Timestamp:    ts,
		Time:         clock.ISO(ts),
		Season:       clock.SeasonOf(ts).String(),
		Hour:         clock.Time(ts).Hour(),
		Ticking:      a.clock.Running(),
		Started:      a.started,
		Devices:      len(a.devices),
		Baseline:     a.baseline,
		LastSequence: a.lastSeq,
		StaleEvents:  a.stale,
	}
	devs := append([]*device.Device(nil), a.devices...)
	if a.request != nil {
		s.Request = &RequestStatus{
			Start:          a.request.window.Start,
			Stop:           a.request.window.Stop,
			Reset:          a.request.window.Stop + a.opts.GracePeriod,
			TargetBaseline: a.request.window.TargetBaseline,
			Baseline:       a.request.baseline,
			Participants:   len(a.participants),
		}
	}
	if a.lastReport != nil {
		rep := *a.lastReport
		s.LastReport = &rep
	}
	a.mu.Unlock()

	for _, d := range devs {
		if d.Running() {
			s.RunningDevices++
		}
	}
	return s
}

// Baseline returns the sum of the committed values of running devices.
func (a *Aggregator) Baseline() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseline
}

// Devices returns a snapshot of every active device.
func (a *Aggregator) Devices() []device.Status {
	a.mu.Lock()
	devs := append([]*device.Device(nil), a.devices...)
	a.mu.Unlock()
	out := make([]device.Status, len(devs))
	for i, d := range devs {
		out[i] = d.Status()
	}
	return out
}

// Device returns the device with the given address.
func (a *Aggregator) Device(addr model.Address) (*device.Device, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.index[addr]
	return d, ok
}

// Processed returns the highest ledger sequence handled or dropped.
func (a *Aggregator) Processed() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processed
}

// StaleEvents returns the number of events dropped by the sequence guard.
func (a *Aggregator) StaleEvents() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stale
}

// Reports queries the report history.
func (a *Aggregator) Reports(ctx context.Context, q reportlog.Query) ([]reportlog.Entry, error) {
	return a.reports.Query(ctx, q)
}

// Timestamp returns the virtual time.
func (a *Aggregator) Timestamp() int64 { return a.clock.Timestamp() }
