package model

import (
	"errors"
	"fmt"
	"strings"
)

// Address identifies a prosumer on the ledger. It is opaque to the engine.
type Address string

// EnergySource tags the production technology of an agreement.
type EnergySource int

const (
	SourceBattery EnergySource = iota
	SourceSolar
	SourceWind
	SourceHydro
	SourceBiomass
	SourceNuclear
	SourceOther
)

var sourceNames = [...]string{"battery", "solar", "wind", "hydro", "biomass", "nuclear", "other"}

// String returns the lower-case name of the source.
func (s EnergySource) String() string {
	if s < 0 || int(s) >= len(sourceNames) {
		return "unknown"
	}
	return sourceNames[s]
}

// ParseEnergySource maps a case-insensitive name to an EnergySource.
func ParseEnergySource(name string) (EnergySource, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range sourceNames {
		if s == n {
			return EnergySource(i), nil
		}
	}
	return SourceOther, fmt.Errorf("unknown energy source %q", name)
}

// MarshalText encodes the source by name.
func (s EnergySource) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a source name.
func (s *EnergySource) UnmarshalText(b []byte) error {
	v, err := ParseEnergySource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Agreement is the contract between a prosumer and the aggregator. It is a
// value type: revising an agreement means replacing it.
type Agreement struct {
	Value            float64      `json:"value"`
	Flexibility      float64      `json:"flexibility"`
	ValuePrice       float64      `json:"value_price"`
	FlexibilityPrice float64      `json:"flexibility_price"`
	Source           EnergySource `json:"source"`
}

// ErrNonPositiveValue is returned by Validate for agreements without baseline.
var ErrNonPositiveValue = errors.New("agreement value must be positive")

// Validate checks the field ranges accepted by the ledger.
func (a Agreement) Validate() error {
	if a.Value <= 0 {
		return ErrNonPositiveValue
	}
	if a.Flexibility < 0 || a.ValuePrice < 0 || a.FlexibilityPrice < 0 {
		return fmt.Errorf("agreement fields must not be negative: %+v", a)
	}
	return nil
}

// IsZero reports whether the agreement is unset.
func (a Agreement) IsZero() bool { return a == Agreement{} }
