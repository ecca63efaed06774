// Package tracker scores one flexibility event at a time. Readings are
// classified by phase (interval, reset) and turned into an aggregate report
// and a per-device settlement payload.
package tracker

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/flexsim/core/model"
)

const (
	// DefaultGracePeriod is the time in seconds devices get after the
	// window stop to return to their baseline.
	DefaultGracePeriod int64 = 900
	// DefaultMargin is the accepted deviation in percent.
	DefaultMargin = 10.0
	// SuccessThreshold is the fraction of compliant devices required in
	// every phase for an event to succeed.
	SuccessThreshold = 0.95
)

// Window describes the event being tracked.
type Window struct {
	Start          int64
	Stop           int64
	TargetBaseline float64
}

// Participant identifies a device and what it is expected to produce.
type Participant struct {
	ID       model.Address
	Expected float64
	Baseline float64
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	margin  float64
	grace   int64
	active  bool
	window  Window
	reset   int64
	results map[model.Address]*FlexibilityResult
}

// New returns an inactive tracker. Non-positive arguments select defaults.
func New(margin float64, grace int64) *Tracker {
	if margin <= 0 {
		margin = DefaultMargin
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Tracker{margin: margin, grace: grace, results: map[model.Address]*FlexibilityResult{}}
}

// Activate starts tracking w, discarding every previous result.
func (t *Tracker) Activate(w Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = w
	t.reset = w.Stop + t.grace
	t.results = map[model.Address]*FlexibilityResult{}
	t.active = true
}

// Deactivate marks the tracker inactive. Results stay readable until the
// next Activate.
func (t *Tracker) Deactivate() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// Active reports whether an event is tracked.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Window returns the tracked window and its reset timestamp.
func (t *Tracker) Window() (Window, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window, t.reset
}

// TargetBaseline returns the commanded baseline, or 0 while inactive.
func (t *Tracker) TargetBaseline() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return 0
	}
	return t.window.TargetBaseline
}

// ParseReading records value produced by p at ts.
func (t *Tracker) ParseReading(p Participant, value float64, ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	r, ok := t.results[p.ID]
	if !ok {
		r = newResult(p.Expected, p.Baseline)
		t.results[p.ID] = r
	}
	switch {
	case ts >= t.window.Start && ts <= t.window.Stop:
		r.addInterval(value, t.margin)
	case ts >= t.reset:
		r.addReset(value, t.margin)
	}
}

// HasEnded reports whether ts is past the reset timestamp.
func (t *Tracker) HasEnded(ts int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ts > t.reset
}

// Tracked returns a copy of the result of id.
func (t *Tracker) Tracked(id model.Address) (FlexibilityResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.results[id]
	if !ok {
		return FlexibilityResult{}, false
	}
	return *r, true
}

// Len returns the number of tracked devices.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.results)
}

// Result computes the aggregate report. With no tracked device every
// fraction is zero and the event is not a success.
func (t *Tracker) Result() model.Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	rep := model.Report{
		ID:             t.window.Start,
		Start:          t.window.Start,
		Stop:           t.window.Stop,
		Reset:          t.reset,
		TargetBaseline: t.window.TargetBaseline,
		Devices:        len(t.results),
	}
	if len(t.results) == 0 {
		return rep
	}

	var okStart, okInterval, okReset float64
	averages := make([]float64, 0, len(t.results))
	deviations := make([]float64, 0, len(t.results))
	for _, r := range t.results {
		if !flag(r.StartError) {
			okStart++
		}
		if !r.IntervalError {
			okInterval++
		}
		if !flag(r.StopError) {
			okReset++
		}
		averages = append(averages, r.Average())
		if r.Expected != 0 && r.Count > 0 {
			deviations = append(deviations, (r.Average()-r.Expected)/r.Expected)
		}
	}
	n := float64(len(t.results))
	rep.SuccessStart = okStart / n
	rep.SuccessFlexibility = okInterval / n
	rep.SuccessReset = okReset / n
	if t.window.TargetBaseline != 0 {
		rep.AverageValue = (floats.Sum(averages) - t.window.TargetBaseline) / t.window.TargetBaseline
	}
	if len(deviations) > 1 {
		rep.Spread = stat.StdDev(deviations, nil)
	}
	if math.IsNaN(rep.Spread) {
		rep.Spread = 0
	}
	rep.Success = rep.SuccessStart >= SuccessThreshold &&
		rep.SuccessFlexibility >= SuccessThreshold &&
		rep.SuccessReset >= SuccessThreshold
	return rep
}

// ContractResults returns one settlement record per tracked device, sorted
// by address.
func (t *Tracker) ContractResults() []model.SettlementRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.SettlementRecord, 0, len(t.results))
	for id, r := range t.results {
		out = append(out, model.SettlementRecord{
			Device:             id,
			AverageFlexibility: r.Average(),
			IntervalError:      r.IntervalError,
			StartError:         flag(r.StartError),
			StopError:          flag(r.StopError),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}
