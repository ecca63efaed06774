// Package aggregator owns the device population, tracks the baseline
// committed on the ledger and drives flexibility requests from submission to
// settlement.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/flexsim/core/allocation"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/reportlog"
	"github.com/kilianp07/flexsim/core/settlement"
	"github.com/kilianp07/flexsim/core/task"
	"github.com/kilianp07/flexsim/core/tracker"
)

var (
	// ErrNotRunning is returned when the simulation was not set up and started.
	ErrNotRunning = errors.New("aggregator: simulation is not running")
	// ErrRequestInFlight is returned while a previous request is tracked.
	ErrRequestInFlight = errors.New("aggregator: a flexibility request is already in flight")
	// ErrInvalidWindow is returned for windows that start in the past or end before they start.
	ErrInvalidWindow = errors.New("aggregator: invalid flexibility window")
)

// Aggregator is safe for concurrent use.
type Aggregator struct {
	opts     Options
	clock    *clock.Clock
	ledger   ledger.Ledger
	notifier notify.Notifier
	metrics  metrics.MetricsSink
	reports  reportlog.Store
	spawner  task.Spawner
	log      logger.Logger

	tracker *tracker.Tracker
	funds   *settlement.ChunkedSubmitter[model.Address]
	settle  *settlement.ChunkedSubmitter[model.SettlementRecord]
	reqMu   sync.Mutex

	mu           sync.Mutex
	ctx          context.Context
	gen          uint64
	setup        bool
	started      bool
	factory      *device.Factory
	devices      []*device.Device
	index        map[model.Address]*device.Device
	callbacks    map[model.Address]clock.CallbackID
	tickID       clock.CallbackID
	sub          ledger.Subscription
	snapshot     uint64
	lastSeq      uint64
	processed    uint64
	stale        uint64
	aggregated   float64
	baseline     float64
	participants map[model.Address]tracker.Participant
	request      *activeRequest
	lastReport   *model.Report
}

// activeRequest remembers what the devices were told about the current
// request so late ledger events allocate against the same baseline.
type activeRequest struct {
	window   tracker.Window
	baseline float64
	encoded  float64
}

// New creates an aggregator. Setup must be called before Start.
func New(opts Options, deps Deps) (*Aggregator, error) {
	if deps.Clock == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("aggregator: clock and ledger are required")
	}
	opts.setDefaults()
	log := logger.OrNop(deps.Logger)
	a := &Aggregator{
		opts:     opts,
		clock:    deps.Clock,
		ledger:   Instrument(deps.Ledger, deps.Metrics, log),
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		reports:  deps.Reports,
		spawner:  task.OrDefault(deps.Spawner),
		log:      log,
		tracker:  tracker.New(opts.Margin, opts.GracePeriod),
		funds:    settlement.NewChunkedSubmitter[model.Address](opts.ChunkSize, log),
		settle:   settlement.NewChunkedSubmitter[model.SettlementRecord](opts.ChunkSize, log),
		ctx:      context.Background(),
	}
	if a.notifier == nil {
		a.notifier = notify.Nop{}
	}
	if a.metrics == nil {
		a.metrics = metrics.NopSink{}
	}
	if a.reports == nil {
		a.reports = reportlog.NewMemoryStore()
	}
	return a, nil
}

// Setup attaches to the ledger, creates the population and registers the
// tick callbacks. Calling it again tears the previous simulation down first.
func (a *Aggregator) Setup(ctx context.Context) error {
	a.Stop(ctx)

	sub, err := a.ledger.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	snapshot, err := a.ledger.LastSequence(ctx)
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("last sequence: %w", err)
	}

	fac := device.NewFactory(device.FactoryConfig{
		Params:   a.opts.Params,
		Rand:     device.NewRand(a.opts.Seed),
		Prefix:   a.opts.Prefix,
		Ledger:   a.ledger,
		Host:     a,
		Notifier: a.notifier,
		Spawner:  a.spawner,
		Logger:   a.log,
	})
	devs, err := fac.CreatePopulation(a.opts.Population)
	if err != nil {
		_ = sub.Close()
		return err
	}

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.ctx = ctx
	a.setup = true
	a.factory = fac
	a.sub = sub
	a.snapshot, a.lastSeq, a.processed = snapshot, snapshot, snapshot
	a.devices = devs
	a.index = make(map[model.Address]*device.Device, len(devs))
	a.callbacks = make(map[model.Address]clock.CallbackID, len(devs))
	for _, d := range devs {
		a.index[d.Address()] = d
		a.callbacks[d.Address()] = a.clock.AddCallback(d.Tick)
	}
	a.tickID = a.clock.AddCallback(a.onTick)
	a.mu.Unlock()

	go a.dispatch(ctx, sub, gen)
	a.log.Infof("simulation set up: %d devices, ledger sequence %d", len(devs), snapshot)

	if a.opts.InitialFunds > 0 && len(devs) > 0 {
		addrs := make([]model.Address, len(devs))
		for i, d := range devs {
			addrs[i] = d.Address()
		}
		a.distributeFunds(ctx, addrs)
	}
	return nil
}

func (a *Aggregator) distributeFunds(ctx context.Context, addrs []model.Address) {
	amount := a.opts.InitialFunds
	err := a.funds.Submit(ctx, func(ctx context.Context, chunk []model.Address) error {
		_, err := a.ledger.SendFunds(ctx, chunk, amount)
		return err
	}, addrs)
	if err != nil {
		a.notifier.OnToast("error distributing funds", notify.Error)
		return
	}
	a.log.Infof("sent %.2f to %d devices", amount, len(addrs))
}

// Start registers every device and starts the clock.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		return ErrNotRunning
	}
	a.started = true
	devs := append([]*device.Device(nil), a.devices...)
	runCtx := a.ctx
	a.mu.Unlock()

	for _, d := range devs {
		d.Register(runCtx)
	}
	return a.clock.Start(ctx)
}

// Pause stops the clock and keeps the population.
func (a *Aggregator) Pause() { a.clock.Stop() }

// Resume restarts the clock after Pause. The clock keeps running with the
// context given to Setup; ctx only gates the call.
func (a *Aggregator) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	started, runCtx := a.started, a.ctx
	a.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	return a.clock.Start(runCtx)
}

// Step runs n ticks and returns the timestamp reached.
func (a *Aggregator) Step(n int) int64 {
	for i := 0; i < n; i++ {
		a.clock.Tick()
	}
	return a.clock.Timestamp()
}

// Stop tears the simulation down. Ledger calls still in flight complete
// against a newer generation and are ignored.
func (a *Aggregator) Stop(ctx context.Context) {
	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		return
	}
	a.gen++
	a.setup, a.started = false, false
	devs := a.devices
	for _, id := range a.callbacks {
		a.clock.RemoveCallback(id)
	}
	a.clock.RemoveCallback(a.tickID)
	sub := a.sub
	a.sub = nil
	a.devices, a.index, a.callbacks = nil, nil, nil
	a.participants, a.request = nil, nil
	a.aggregated, a.baseline = 0, 0
	a.mu.Unlock()

	a.clock.Stop()
	if sub != nil {
		_ = sub.Close()
	}
	a.tracker.Deactivate()
	for _, d := range devs {
		d.Stop(ctx, a.opts.CancelOnStop)
	}
	a.log.Infof("simulation stopped")
}

// Vary adds delta fresh devices of category c, or stops the -delta most
// recently created ones.
func (a *Aggregator) Vary(ctx context.Context, c device.Category, delta int) error {
	if _, err := device.ParseCategory(string(c)); err != nil {
		return err
	}
	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		return ErrNotRunning
	}
	fac, started, runCtx := a.factory, a.started, a.ctx
	a.mu.Unlock()

	if delta > 0 {
		devs, err := fac.Create(c, delta)
		if err != nil {
			return err
		}
		a.mu.Lock()
		if !a.setup {
			a.mu.Unlock()
			return ErrNotRunning
		}
		a.clock.RemoveCallback(a.tickID)
		for _, d := range devs {
			a.devices = append(a.devices, d)
			a.index[d.Address()] = d
			a.callbacks[d.Address()] = a.clock.AddCallback(d.Tick)
		}
		a.tickID = a.clock.AddCallback(a.onTick)
		a.mu.Unlock()
		if started {
			for _, d := range devs {
				d.Register(runCtx)
			}
		}
		a.log.Infof("added %d %s devices", delta, c)
		return nil
	}

	var removed []*device.Device
	a.mu.Lock()
	for i := len(a.devices) - 1; i >= 0 && len(removed) < -delta; i-- {
		d := a.devices[i]
		if d.Category() != c {
			continue
		}
		removed = append(removed, d)
		a.clock.RemoveCallback(a.callbacks[d.Address()])
		delete(a.callbacks, d.Address())
		a.devices = append(a.devices[:i:i], a.devices[i+1:]...)
	}
	a.mu.Unlock()

	for _, d := range removed {
		d.Stop(context.WithoutCancel(ctx), true)
	}
	if len(removed) > 0 {
		a.recomputeBaseline()
	}
	a.log.Infof("removed %d %s devices", len(removed), c)
	return nil
}

// RequestFlexibility asks the devices to shift the baseline by percent for
// the default window starting Lead seconds from now.
func (a *Aggregator) RequestFlexibility(ctx context.Context, percent float64) (tracker.Window, error) {
	now := a.clock.Timestamp()
	return a.RequestFlexibilityWindow(ctx, percent, now+a.opts.Lead, now+a.opts.Duration)
}

// RequestFlexibilityWindow asks for a shift of percent over [start, stop].
func (a *Aggregator) RequestFlexibilityWindow(ctx context.Context, percent float64, start, stop int64) (tracker.Window, error) {
	a.reqMu.Lock()
	defer a.reqMu.Unlock()

	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return tracker.Window{}, ErrNotRunning
	}
	baseline, gen := a.baseline, a.gen
	devs := append([]*device.Device(nil), a.devices...)
	a.mu.Unlock()

	if a.tracker.Active() {
		return tracker.Window{}, ErrRequestInFlight
	}
	if stop < start || start < a.clock.Timestamp() {
		return tracker.Window{}, fmt.Errorf("%w: %d-%d", ErrInvalidWindow, start, stop)
	}
	if baseline == 0 {
		a.log.Warnf("flexibility request rejected: no baseline registered")
		return tracker.Window{}, allocation.ErrZeroBaseline
	}

	w := tracker.Window{Start: start, Stop: stop, TargetBaseline: math.Floor(baseline * (1 + percent/100))}
	req := &activeRequest{window: w, baseline: baseline, encoded: a.opts.Policy.Encode(w.TargetBaseline, baseline)}
	participants := make(map[model.Address]tracker.Participant, len(devs))
	for _, d := range devs {
		if !d.Running() {
			continue
		}
		value := d.Agreement().Value
		expected, err := allocation.Target(a.opts.Policy, req.encoded, baseline, value)
		if err != nil {
			continue
		}
		participants[d.Address()] = tracker.Participant{ID: d.Address(), Expected: expected, Baseline: value}
	}

	a.mu.Lock()
	a.participants, a.request = participants, req
	a.mu.Unlock()
	a.tracker.Activate(w)

	rc, err := a.ledger.RequestFlexibility(ctx, w.Start, w.Stop, req.encoded)
	if err != nil {
		a.mu.Lock()
		if a.gen == gen && a.request == req {
			a.request, a.participants = nil, nil
			a.tracker.Deactivate()
		}
		a.mu.Unlock()
		a.notifier.OnToast("error requesting flexibility", notify.Error)
		return tracker.Window{}, fmt.Errorf("request flexibility: %w", err)
	}
	a.log.Infof("flexibility requested: %d-%d target %.0f (baseline %.0f) tx=%s", w.Start, w.Stop, w.TargetBaseline, baseline, rc.TxID)
	return w, nil
}

// OnReading accumulates a device reading for the current tick.
func (a *Aggregator) OnReading(d *device.Device, value float64, ts int64) {
	a.mu.Lock()
	a.aggregated += value
	p, ok := a.participants[d.Address()]
	a.mu.Unlock()
	if ok {
		a.tracker.ParseReading(p, value, ts)
	}
}

func (a *Aggregator) onTick(_ *clock.Clock, ts int64) {
	a.mu.Lock()
	value := a.aggregated
	a.aggregated = 0
	baseline, n, gen := a.baseline, len(a.devices), a.gen
	a.mu.Unlock()

	a.notifier.OnAggregatedReading(value, ts)
	ev := metrics.TickEvent{Timestamp: ts, Aggregated: value, Baseline: baseline, Target: a.tracker.TargetBaseline(), Devices: n}
	if err := a.metrics.RecordTick(ev); err != nil {
		a.log.Errorf("tick metrics error: %v", err)
	}

	if a.tracker.Active() && a.tracker.HasEnded(ts) {
		a.finalize(gen)
	}
}

// finalize scores the tracked event and settles it on the ledger.
// The tracker is deactivated together with the request it scored, so a
// request accepted afterwards keeps its own participants.
func (a *Aggregator) finalize(gen uint64) {
	a.mu.Lock()
	req := a.request
	a.mu.Unlock()

	rep := a.tracker.Result()
	records := a.tracker.ContractResults()

	a.mu.Lock()
	if a.request == req {
		a.request, a.participants = nil, nil
		a.tracker.Deactivate()
	}
	a.lastReport = &rep
	ctx := a.ctx
	a.mu.Unlock()

	a.log.Infof("flexibility %d scored: success=%t devices=%d start=%.2f interval=%.2f reset=%.2f",
		rep.ID, rep.Success, rep.Devices, rep.SuccessStart, rep.SuccessFlexibility, rep.SuccessReset)
	if err := metrics.RecordReport(a.metrics, rep); err != nil {
		a.log.Errorf("report metrics error: %v", err)
	}
	a.notifier.OnFlexibilityReport(rep)

	a.spawner.Go(func() {
		err := a.settleRecords(ctx, rep.Start, records)
		a.mu.Lock()
		current := a.gen == gen
		a.mu.Unlock()
		if err != nil && current {
			a.notifier.OnToast(fmt.Sprintf("error settling flexibility %d", rep.ID), notify.Error)
		}
		entry := reportlog.Entry{Report: rep, Records: records, Settled: err == nil, Recorded: time.Now().UTC()}
		if err != nil {
			entry.Error = err.Error()
		}
		if aerr := a.reports.Append(context.WithoutCancel(ctx), entry); aerr != nil {
			a.log.Errorf("report log error: %v", aerr)
		}
	})
}

func (a *Aggregator) settleRecords(ctx context.Context, start int64, records []model.SettlementRecord) error {
	var err error
	if len(records) == 0 {
		_, err = a.ledger.EndFlexibilityRequest(ctx, start, nil)
	} else {
		err = a.settle.Submit(ctx, func(ctx context.Context, chunk []model.SettlementRecord) error {
			_, err := a.ledger.EndFlexibilityRequest(ctx, start, chunk)
			return err
		}, records)
	}
	ev := metrics.SettlementEvent{Start: start, Records: len(records), Chunks: max(a.settle.Chunks(len(records)), 1), Failed: err != nil, Time: time.Now()}
	if rerr := metrics.RecordSettlement(a.metrics, ev); rerr != nil {
		a.log.Errorf("settlement metrics error: %v", rerr)
	}
	return err
}

func (a *Aggregator) dispatch(ctx context.Context, sub ledger.Subscription, gen uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			a.handle(ctx, gen, e)
		}
	}
}

// handle applies one ledger event. Events at or below the snapshot taken at
// setup, or already seen, are dropped without side effects.
func (a *Aggregator) handle(ctx context.Context, gen uint64, e ledger.Event) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	if e.Seq <= a.lastSeq {
		a.stale++
		a.processed = max(a.processed, e.Seq)
		a.mu.Unlock()
		a.log.Debugw("dropping stale ledger event", map[string]any{"seq": e.Seq, "kind": string(e.Kind)})
		if err := metrics.RecordStaleEvent(a.metrics, string(e.Kind)); err != nil {
			a.log.Errorf("stale event metrics error: %v", err)
		}
		return
	}
	a.lastSeq = e.Seq
	d := a.index[e.Device]
	devs := append([]*device.Device(nil), a.devices...)
	req := a.request
	baseline := a.baseline
	a.mu.Unlock()

	switch e.Kind {
	case ledger.AgreementRegistered, ledger.AgreementRevised, ledger.AgreementCancelled:
		if d == nil {
			a.log.Warnf("agreement event %s for unknown device %s", e.Kind, e.Device)
			break
		}
		d.OnAgreementEvent(e)
		a.notifier.OnAgreementEvent(e.Kind, e.Device, e.Agreement, e.Seq)
		a.recomputeBaseline()
	case ledger.RequestFlexibility:
		if req != nil && req.window.Start == e.Start {
			baseline = req.baseline
		}
		for _, d := range devs {
			d.OnRequestFlexibility(e, baseline, a.opts.Policy)
		}
	case ledger.EndRequestFlexibility:
		for _, d := range devs {
			d.OnEndRequest(ctx, e)
		}
	default:
		a.log.Debugw("ledger event", map[string]any{"seq": e.Seq, "kind": string(e.Kind), "device": string(e.Device)})
	}

	a.mu.Lock()
	a.processed = max(a.processed, e.Seq)
	a.mu.Unlock()
}

func (a *Aggregator) recomputeBaseline() {
	a.mu.Lock()
	devs := append([]*device.Device(nil), a.devices...)
	a.mu.Unlock()

	total := 0.0
	for _, d := range devs {
		if d.Running() {
			total += d.Agreement().Value
		}
	}
	a.mu.Lock()
	a.baseline = total
	a.mu.Unlock()
	a.notifier.OnBaselineChanged(total)
}
