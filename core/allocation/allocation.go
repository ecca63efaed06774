// Package allocation splits a grid-level flexibility request across devices.
package allocation

import (
	"errors"
	"fmt"
)

// ErrZeroBaseline is returned when no baseline is registered yet.
var ErrZeroBaseline = errors.New("allocation: total baseline is zero")

// Policy computes the commanded change of one device.
type Policy interface {
	// Share returns the delta assigned to a device committed to value out of
	// totalBaseline, given the grid-level target baseline.
	Share(target, totalBaseline, value float64) (float64, error)
	// Encode converts a grid-level target baseline into the target carried
	// by the ledger request for this policy.
	Encode(targetBaseline, totalBaseline float64) float64
	Name() string
}

// Proportional assigns (target-baseline) * value / baseline to each device so
// that the shares sum to the requested grid delta.
type Proportional struct{}

func (Proportional) Name() string { return "proportional" }

func (Proportional) Encode(targetBaseline, _ float64) float64 { return targetBaseline }

func (Proportional) Share(target, totalBaseline, value float64) (float64, error) {
	if totalBaseline == 0 {
		return 0, ErrZeroBaseline
	}
	return (target - totalBaseline) * value / totalBaseline, nil
}

// Direct interprets target as the grid delta itself.
type Direct struct{}

func (Direct) Name() string { return "direct" }

func (Direct) Encode(targetBaseline, totalBaseline float64) float64 {
	return targetBaseline - totalBaseline
}

func (Direct) Share(delta, totalBaseline, value float64) (float64, error) {
	if totalBaseline == 0 {
		return 0, ErrZeroBaseline
	}
	return delta * value / totalBaseline, nil
}

// ByName returns the policy registered under name. Empty selects Proportional.
func ByName(name string) (Policy, error) {
	switch name {
	case "", "proportional":
		return Proportional{}, nil
	case "direct":
		return Direct{}, nil
	default:
		return nil, fmt.Errorf("unknown allocation policy %q", name)
	}
}

// Target returns value plus the device share.
func Target(p Policy, target, totalBaseline, value float64) (float64, error) {
	share, err := p.Share(target, totalBaseline, value)
	if err != nil {
		return value, err
	}
	return value + share, nil
}
