package device

import "sync"

const (
	// MinIntensity and MaxIntensity bound the production change of a
	// perturbation.
	MinIntensity = -10.0
	MaxIntensity = 10.0
	// MaxDuration is the longest perturbation in ticks.
	MaxDuration = 10
)

// Perturbation is a transient production change (a fault or the weather).
type Perturbation struct {
	Intensity float64
	Start     int64
	// Duration in virtual seconds.
	Duration int64
}

// HasEnded reports whether ts is past the end of the perturbation.
func (p Perturbation) HasEnded(ts int64) bool { return ts > p.Start+p.Duration }

// Roll draws a perturbation starting at ts with probability prob. step is
// the virtual length of one tick.
func Roll(r Rand, prob float64, ts, step int64) *Perturbation {
	if r.Float64() >= prob {
		return nil
	}
	intensity := r.Float64()*(MaxIntensity-MinIntensity) + MinIntensity
	ticks := int64(r.Float64()*MaxDuration) + 1
	return &Perturbation{Intensity: intensity, Start: ts, Duration: ticks * step}
}

// Coordinator owns the weather shared by every device of a category.
type Coordinator struct {
	mu       sync.Mutex
	category Category
	prob     float64
	rnd      Rand
	weather  *Perturbation
}

// NewCoordinator returns a coordinator rolling weather with probability prob
// per device tick.
func NewCoordinator(c Category, prob float64, r Rand) *Coordinator {
	return &Coordinator{category: c, prob: prob, rnd: r}
}

// Roll starts a weather event if none is active. It reports whether a new
// event started.
func (c *Coordinator) Roll(ts, step int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.weather != nil {
		return false
	}
	c.weather = Roll(c.rnd, c.prob, ts, step)
	return c.weather != nil
}

// Apply adds the weather intensity to value and clears an expired event.
func (c *Coordinator) Apply(value float64, ts int64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.weather == nil {
		return value, false
	}
	value += c.weather.Intensity
	if c.weather.HasEnded(ts) {
		c.weather = nil
	}
	return value, true
}

// Weather returns the active weather event.
func (c *Coordinator) Weather() (Perturbation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.weather == nil {
		return Perturbation{}, false
	}
	return *c.weather, true
}

// Set forces the weather event, nil clearing it.
func (c *Coordinator) Set(p *Perturbation) {
	c.mu.Lock()
	c.weather = p
	c.mu.Unlock()
}

// Category returns the category the coordinator serves.
func (c *Coordinator) Category() Category { return c.category }
