package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/flexsim/core/device"
)

// Scenario scripts requests and population changes by tick number.
type Scenario struct {
	Requests   []ScheduledRequest   `yaml:"requests" json:"requests" validate:"dive"`
	Variations []ScheduledVariation `yaml:"variations" json:"variations" validate:"dive"`
}

// ScheduledRequest asks for a baseline change of Percent at tick AtTick.
type ScheduledRequest struct {
	AtTick  int64   `yaml:"at_tick" json:"at_tick" validate:"gte=0"`
	Percent float64 `yaml:"percent" json:"percent" validate:"gt=-100"`
}

// ScheduledVariation adds or removes Delta devices of Category.
type ScheduledVariation struct {
	AtTick   int64  `yaml:"at_tick" json:"at_tick" validate:"gte=0"`
	Category string `yaml:"category" json:"category" validate:"required"`
	Delta    int    `yaml:"delta" json:"delta" validate:"ne=0"`
}

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	for _, v := range s.Variations {
		if _, err := device.ParseCategory(v.Category); err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
	}
	sort.SliceStable(s.Requests, func(i, j int) bool { return s.Requests[i].AtTick < s.Requests[j].AtTick })
	sort.SliceStable(s.Variations, func(i, j int) bool { return s.Variations[i].AtTick < s.Variations[j].AtTick })
	return &s, nil
}

// At returns the steps scheduled for tick.
func (s *Scenario) At(tick int64) ([]ScheduledRequest, []ScheduledVariation) {
	var reqs []ScheduledRequest
	for _, r := range s.Requests {
		if r.AtTick == tick {
			reqs = append(reqs, r)
		}
	}
	var vars []ScheduledVariation
	for _, v := range s.Variations {
		if v.AtTick == tick {
			vars = append(vars, v)
		}
	}
	return reqs, vars
}

// LastTick is the tick of the final scripted step, -1 for an empty scenario.
func (s *Scenario) LastTick() int64 {
	last := int64(-1)
	for _, r := range s.Requests {
		last = max(last, r.AtTick)
	}
	for _, v := range s.Variations {
		last = max(last, v.AtTick)
	}
	return last
}
