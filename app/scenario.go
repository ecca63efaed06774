package app

import (
	"context"
	"sync/atomic"

	"github.com/kilianp07/flexsim/config"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/task"
	"github.com/kilianp07/flexsim/core/tracker"
)

type scenarioTarget interface {
	Vary(ctx context.Context, c device.Category, delta int) error
	RequestFlexibility(ctx context.Context, percent float64) (tracker.Window, error)
}

// scenarioRunner fires scripted steps from a clock callback. Tick 0 is the
// first tick after Start. Variations of a tick run before its requests.
type scenarioRunner struct {
	ctx     context.Context
	sc      *config.Scenario
	target  scenarioTarget
	spawner task.Spawner
	log     logger.Logger
	tick    atomic.Int64
}

func newScenarioRunner(ctx context.Context, sc *config.Scenario, target scenarioTarget, spawner task.Spawner, log logger.Logger) *scenarioRunner {
	return &scenarioRunner{ctx: ctx, sc: sc, target: target, spawner: task.OrDefault(spawner), log: logger.OrNop(log)}
}

func (r *scenarioRunner) onTick(_ *clock.Clock, ts int64) {
	n := r.tick.Add(1) - 1
	reqs, vars := r.sc.At(n)
	if len(reqs) == 0 && len(vars) == 0 {
		return
	}
	// ledger calls must not hold up the clock
	r.spawner.Go(func() {
		for _, v := range vars {
			if err := r.target.Vary(r.ctx, device.Category(v.Category), v.Delta); err != nil {
				r.log.Warnf("scenario tick %d: vary %s by %d: %v", n, v.Category, v.Delta, err)
			}
		}
		for _, q := range reqs {
			w, err := r.target.RequestFlexibility(r.ctx, q.Percent)
			if err != nil {
				r.log.Warnf("scenario tick %d: request %.1f%%: %v", n, q.Percent, err)
				continue
			}
			r.log.Infof("scenario tick %d (%s): requested %.1f%% over %d-%d", n, clock.ISO(ts), q.Percent, w.Start, w.Stop)
		}
	})
	if n == r.sc.LastTick() {
		r.log.Infof("scenario complete at tick %d", n)
	}
}
