package tracker

import "math"

// FlexibilityResult accumulates the readings of one device during an event.
// StartError and StopError are decided by the first sample of their phase
// and never change afterwards; IntervalError only ever goes from false to
// true.
type FlexibilityResult struct {
	Expected      float64
	Baseline      float64
	Sum           float64
	Count         int
	StartError    *bool
	IntervalError bool
	StopError     *bool
}

func newResult(expected, baseline float64) *FlexibilityResult {
	return &FlexibilityResult{Expected: expected, Baseline: baseline}
}

// Average returns the mean interval reading, or 0 without samples.
func (r *FlexibilityResult) Average() float64 {
	if r.Count == 0 {
		return 0
	}
	return r.Sum / float64(r.Count)
}

func (r *FlexibilityResult) addInterval(value, margin float64) {
	ok := InErrorMargin(value, r.Expected, margin)
	if r.StartError == nil {
		e := !ok
		r.StartError = &e
	}
	r.Sum += value
	r.Count++
	r.IntervalError = r.IntervalError || !ok
}

func (r *FlexibilityResult) addReset(value, margin float64) {
	if r.StopError != nil {
		return
	}
	e := !InErrorMargin(value, r.Baseline, margin)
	r.StopError = &e
}

// InErrorMargin reports whether value deviates from expected by at most
// margin percent. A zero expectation only accepts a zero value.
func InErrorMargin(value, expected, margin float64) bool {
	if expected == 0 {
		return value == 0
	}
	return math.Abs(value-expected)*100/math.Abs(expected) <= margin
}

func flag(b *bool) bool { return b != nil && *b }
