package device

import (
	"math"
	"math/rand"
	"sync"
)

// Rand is the randomness source of the production models.
type Rand interface {
	Float64() float64
}

// LockedRand is a math/rand source safe for concurrent use.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a seeded LockedRand.
func NewRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Poisson draws from a Poisson distribution with parameter lambda using
// Knuth's inversion algorithm.
func Poisson(r Rand, lambda float64) int {
	x := 0
	p := math.Exp(-lambda)
	s := p
	u := r.Float64()
	for u > s {
		x++
		p *= lambda / float64(x)
		s += p
	}
	return x
}
