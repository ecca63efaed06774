package device

import (
	"fmt"
	"math"

	"github.com/kilianp07/flexsim/core/model"
)

// Category groups devices sharing a production model and weather.
type Category string

const (
	Solar Category = "solar"
	Wind  Category = "wind"
)

// Categories lists the supported categories in creation order.
var Categories = []Category{Solar, Wind}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown device category %q", s)
}

// Source is the energy source tag of the category.
func (c Category) Source() model.EnergySource {
	switch c {
	case Solar:
		return model.SourceSolar
	case Wind:
		return model.SourceWind
	default:
		return model.SourceOther
	}
}

// ProductionModel holds the category specific behaviour of a device. A
// model is owned by one device and only called with that device's lock
// held.
type ProductionModel interface {
	Category() Category
	// Produce returns the undisturbed production for a at ts.
	Produce(a model.Agreement, ts int64) float64
	// SkipTick lets a model silence the device for one tick.
	SkipTick() bool
	CreateAgreement() model.Agreement
	RollForEvents(ts int64)
	ApplyEvents(value float64, ts int64) float64
	ApplyFlexibilityEvent(value float64, ev model.FlexibilityEvent, ts int64) float64
}

// Params tunes agreement creation and perturbations.
type Params struct {
	MinValue float64 `json:"min_value" default:"10"`
	MaxValue float64 `json:"max_value" default:"100"`
	MinCost  float64 `json:"min_cost" default:"0.1"`
	MaxCost  float64 `json:"max_cost" default:"5"`
	Lambda   float64 `json:"lambda" default:"2"`
	// PersonalProbability is the per tick chance of a device fault.
	PersonalProbability float64 `json:"personal_probability" default:"0.01"`
	// WeatherProbability is the per device tick chance of a weather event.
	WeatherProbability float64 `json:"weather_probability" default:"0.005"`
	// Curve enables the diurnal (solar) or gusty (wind) production shape.
	// When disabled a device produces exactly its agreement value.
	Curve bool `json:"curve"`
	// Step is the virtual length of one tick in seconds.
	Step int64 `json:"-"`
}

// DefaultParams mirrors the struct tag defaults.
func DefaultParams() Params {
	return Params{
		MinValue:            10,
		MaxValue:            100,
		MinCost:             0.1,
		MaxCost:             5,
		Lambda:              2,
		PersonalProbability: 0.01,
		WeatherProbability:  0.005,
		Step:                1,
	}
}

type baseModel struct {
	category Category
	params   Params
	rnd      Rand
	weather  *Coordinator
	personal *Perturbation
}

func (b *baseModel) Category() Category { return b.category }

func (b *baseModel) SkipTick() bool { return false }

// CreateAgreement draws the committed value as floor(x*(max-min)+min) with x
// Poisson distributed, so values start at MinValue and are unbounded above.
func (b *baseModel) CreateAgreement() model.Agreement {
	p := b.params
	x := float64(Poisson(b.rnd, p.Lambda))
	value := math.Floor(x*(p.MaxValue-p.MinValue) + p.MinValue)
	valuePrice := math.Floor(b.rnd.Float64()*p.MaxCost + p.MinCost)
	return model.Agreement{
		Value:            value,
		Flexibility:      math.Floor(value * 0.25),
		ValuePrice:       valuePrice,
		FlexibilityPrice: math.Floor(valuePrice * 1.1),
		Source:           b.category.Source(),
	}
}

func (b *baseModel) RollForEvents(ts int64) {
	step := b.params.Step
	if step <= 0 {
		step = 1
	}
	if b.personal == nil {
		b.personal = Roll(b.rnd, b.params.PersonalProbability, ts, step)
	}
	if b.weather != nil {
		b.weather.Roll(ts, step)
	}
}

// ApplyEvents adds the personal fault if any, else the category weather.
func (b *baseModel) ApplyEvents(value float64, ts int64) float64 {
	if b.personal != nil {
		value += b.personal.Intensity
		if b.personal.HasEnded(ts) {
			b.personal = nil
		}
		return value
	}
	if b.weather != nil {
		value, _ = b.weather.Apply(value, ts)
	}
	return value
}

func (b *baseModel) ApplyFlexibilityEvent(_ float64, ev model.FlexibilityEvent, _ int64) float64 {
	return ev.Target
}

// SolarModel follows the sun when Curve is enabled.
type SolarModel struct{ baseModel }

// NewSolar returns a solar model sharing weather through c.
func NewSolar(p Params, r Rand, c *Coordinator) *SolarModel {
	return &SolarModel{baseModel{category: Solar, params: p, rnd: r, weather: c}}
}

func (s *SolarModel) Produce(a model.Agreement, ts int64) float64 {
	if !s.params.Curve {
		return a.Value
	}
	return a.Value*0.1*math.Sin(math.Pi*float64(ts-21600)/43200) + a.Value
}

// WindModel draws gusts when Curve is enabled.
type WindModel struct{ baseModel }

// NewWind returns a wind model sharing weather through c.
func NewWind(p Params, r Rand, c *Coordinator) *WindModel {
	return &WindModel{baseModel{category: Wind, params: p, rnd: r, weather: c}}
}

func (w *WindModel) Produce(a model.Agreement, _ int64) float64 {
	if !w.params.Curve {
		return a.Value
	}
	return w.rnd.Float64()*a.Value + a.Value/2
}

// NewModel builds the model of category c.
func NewModel(c Category, p Params, r Rand, coord *Coordinator) (ProductionModel, error) {
	switch c {
	case Solar:
		return NewSolar(p, r, coord), nil
	case Wind:
		return NewWind(p, r, coord), nil
	default:
		return nil, fmt.Errorf("unknown device category %q", c)
	}
}
