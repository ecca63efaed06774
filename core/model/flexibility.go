package model

// FlexibilityEvent describes a requested production shift as seen by one
// device. Start and Stop are virtual timestamps in seconds.
type FlexibilityEvent struct {
	Start     int64   `json:"start"`
	Stop      int64   `json:"stop"`
	Target    float64 `json:"target"`
	Confirmed bool    `json:"confirmed"`
}

// HasStarted reports whether ts is at or after the window start.
func (e FlexibilityEvent) HasStarted(ts int64) bool { return ts >= e.Start }

// HasEnded reports whether ts is past the window stop.
func (e FlexibilityEvent) HasEnded(ts int64) bool { return ts > e.Stop }

// Contains reports whether ts lies in [Start, Stop].
func (e FlexibilityEvent) Contains(ts int64) bool { return e.HasStarted(ts) && !e.HasEnded(ts) }

// SettlementRecord is the per-device outcome handed to the ledger once a
// flexibility event has been scored.
type SettlementRecord struct {
	Device             Address `json:"device"`
	AverageFlexibility float64 `json:"average_flexibility"`
	IntervalError      bool    `json:"interval_error"`
	StartError         bool    `json:"start_error"`
	StopError          bool    `json:"stop_error"`
}

// Report is the aggregate verdict of a flexibility event.
type Report struct {
	ID                 int64   `json:"id"`
	Start              int64   `json:"start"`
	Stop               int64   `json:"stop"`
	Reset              int64   `json:"reset"`
	TargetBaseline     float64 `json:"target_baseline"`
	Devices            int     `json:"devices"`
	SuccessStart       float64 `json:"success_start"`
	SuccessFlexibility float64 `json:"success_flexibility"`
	SuccessReset       float64 `json:"success_reset"`
	// AverageValue is the normalized deviation of the summed per-device
	// averages from the target baseline.
	AverageValue float64 `json:"average_value"`
	// Spread is the standard deviation of the per-device relative errors.
	Spread  float64 `json:"spread"`
	Success bool    `json:"success"`
}
