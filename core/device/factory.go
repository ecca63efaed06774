package device

import (
	"fmt"
	"sync"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/task"
)

// Population gives the number of devices per category.
type Population map[Category]int

// Total returns the number of devices.
func (p Population) Total() int {
	n := 0
	for _, c := range p {
		n += c
	}
	return n
}

// FactoryConfig holds what every created device shares.
type FactoryConfig struct {
	Params   Params
	Rand     Rand
	Prefix   string
	Ledger   ledger.Ledger
	Host     Host
	Notifier notify.Notifier
	Spawner  task.Spawner
	Logger   logger.Logger
}

// Factory creates devices with unique addresses and one weather
// coordinator per category.
type Factory struct {
	cfg    FactoryConfig
	mu     sync.Mutex
	next   int
	coords map[Category]*Coordinator
}

// NewFactory returns a factory. A nil Rand is replaced by a seeded source.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Rand == nil {
		cfg.Rand = NewRand(1)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "der"
	}
	if cfg.Params.Step <= 0 {
		cfg.Params.Step = 1
	}
	coords := make(map[Category]*Coordinator, len(Categories))
	for _, c := range Categories {
		coords[c] = NewCoordinator(c, cfg.Params.WeatherProbability, cfg.Rand)
	}
	return &Factory{cfg: cfg, coords: coords}
}

// Coordinator returns the weather coordinator of c.
func (f *Factory) Coordinator(c Category) *Coordinator { return f.coords[c] }

// Create builds n fresh devices of category c.
func (f *Factory) Create(c Category, n int) ([]*Device, error) {
	if _, err := ParseCategory(string(c)); err != nil {
		return nil, err
	}
	out := make([]*Device, 0, n)
	for i := 0; i < n; i++ {
		m, err := NewModel(c, f.cfg.Params, f.cfg.Rand, f.coords[c])
		if err != nil {
			return nil, err
		}
		out = append(out, New(Config{
			Address:  f.address(c),
			Model:    m,
			Ledger:   f.cfg.Ledger,
			Host:     f.cfg.Host,
			Notifier: f.cfg.Notifier,
			Spawner:  f.cfg.Spawner,
			Logger:   f.cfg.Logger,
		}))
	}
	return out, nil
}

// CreatePopulation builds every category of p in Categories order.
func (f *Factory) CreatePopulation(p Population) ([]*Device, error) {
	for c := range p {
		if _, err := ParseCategory(string(c)); err != nil {
			return nil, err
		}
	}
	var out []*Device
	for _, c := range Categories {
		ds, err := f.Create(c, p[c])
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

func (f *Factory) address(c Category) model.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return model.Address(fmt.Sprintf("%s-%s-%04d", f.cfg.Prefix, c, f.next))
}
