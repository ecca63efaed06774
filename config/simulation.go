package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/flexsim/core/aggregator"
	"github.com/kilianp07/flexsim/core/allocation"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
)

// SimulationConfig holds the clock, the population and the request tuning.
type SimulationConfig struct {
	// Start is the initial virtual time in RFC3339. Empty means now.
	Start     string        `json:"start"`
	Interval  time.Duration `json:"interval" default:"1s"`
	Increment int64         `json:"increment" default:"60" validate:"gt=0"`

	Population map[string]int `json:"population" validate:"dive,gte=0"`
	Params     device.Params  `json:"params"`
	Seed       int64          `json:"seed"`
	Prefix     string         `json:"prefix" default:"dev"`

	Lead         int64   `json:"lead" default:"300" validate:"gt=0"`
	Duration     int64   `json:"duration" default:"1800" validate:"gtfield=Lead"`
	Margin       float64 `json:"margin" validate:"gte=0"`
	GracePeriod  int64   `json:"grace_period" validate:"gte=0"`
	ChunkSize    int     `json:"chunk_size" validate:"gte=0"`
	InitialFunds float64 `json:"initial_funds" validate:"gte=0"`
	Policy       string  `json:"policy" default:"proportional" validate:"oneof=proportional direct"`
	CancelOnStop bool    `json:"cancel_on_stop"`

	// Scenario is an optional path to a scenario script.
	Scenario string `json:"scenario"`
}

// Validate checks what struct tags cannot express.
func (s SimulationConfig) Validate() error {
	if _, err := s.startTime(); err != nil {
		return err
	}
	if _, err := s.population(); err != nil {
		return err
	}
	if s.Params.MinValue <= 0 || s.Params.MaxValue < s.Params.MinValue {
		return fmt.Errorf("params: need 0 < min_value <= max_value")
	}
	return nil
}

func (s SimulationConfig) startTime() (int64, error) {
	if s.Start == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return 0, fmt.Errorf("simulation.start: %w", err)
	}
	return t.Unix(), nil
}

func (s SimulationConfig) population() (device.Population, error) {
	p := device.Population{}
	for name, n := range s.Population {
		c, err := device.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("simulation.population: %w", err)
		}
		p[c] = n
	}
	return p, nil
}

// ClockOptions returns the virtual clock settings.
func (s SimulationConfig) ClockOptions() clock.Options {
	start, _ := s.startTime()
	return clock.Options{Start: start, Increment: s.Increment, Interval: s.Interval}
}

// Options returns the aggregator settings.
func (s SimulationConfig) Options() (aggregator.Options, error) {
	pop, err := s.population()
	if err != nil {
		return aggregator.Options{}, err
	}
	policy, err := allocation.ByName(s.Policy)
	if err != nil {
		return aggregator.Options{}, err
	}
	return aggregator.Options{
		Population:   pop,
		Params:       s.Params,
		Seed:         s.Seed,
		Prefix:       s.Prefix,
		Lead:         s.Lead,
		Duration:     s.Duration,
		Margin:       s.Margin,
		GracePeriod:  s.GracePeriod,
		ChunkSize:    s.ChunkSize,
		InitialFunds: s.InitialFunds,
		Policy:       policy,
		CancelOnStop: s.CancelOnStop,
	}, nil
}
