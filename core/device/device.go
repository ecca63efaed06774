// Package device simulates prosumer devices. A Device holds an agreement
// with the aggregator and reports its production every tick. Its behaviour
// per energy category is provided by a ProductionModel.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/flexsim/core/allocation"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/task"
)

// ErrNotRunning is returned for operations that need a registered agreement.
var ErrNotRunning = errors.New("device is not running")

// State is the registration state of a device.
type State int

const (
	Idle State = iota
	Pending
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// FlexState is the flexibility sub-state of a running device.
type FlexState int

const (
	NoEvent FlexState = iota
	Scheduled
	Providing
	// Settling means the window is over and the device waits for the end
	// of the request to submit what it provided.
	Settling
)

func (s FlexState) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Providing:
		return "providing"
	case Settling:
		return "settling"
	default:
		return "no_event"
	}
}

// Host receives the readings of a device.
type Host interface {
	OnReading(d *Device, value float64, ts int64)
}

// Config holds the collaborators of a device.
type Config struct {
	Address  model.Address
	Model    ProductionModel
	Ledger   ledger.Ledger
	Host     Host
	Notifier notify.Notifier
	Spawner  task.Spawner
	Logger   logger.Logger
}

// Device is safe for concurrent use.
type Device struct {
	addr     model.Address
	model    ProductionModel
	ledger   ledger.Ledger
	host     Host
	notifier notify.Notifier
	spawner  task.Spawner
	log      logger.Logger

	mu        sync.Mutex
	agreement model.Agreement
	state     State
	gen       uint64
	flex      *model.FlexibilityEvent
	awaiting  *model.FlexibilityEvent
	settled   *model.FlexibilityEvent
	sum       float64
	count     int
}

// New creates an idle device with a freshly drawn agreement.
func New(cfg Config) *Device {
	d := &Device{
		addr:     cfg.Address,
		model:    cfg.Model,
		ledger:   cfg.Ledger,
		host:     cfg.Host,
		notifier: cfg.Notifier,
		spawner:  task.OrDefault(cfg.Spawner),
		log:      logger.OrNop(cfg.Logger),
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	d.agreement = cfg.Model.CreateAgreement()
	return d
}

func (d *Device) Address() model.Address { return d.addr }

func (d *Device) Category() Category { return d.model.Category() }

// Agreement returns the current agreement.
func (d *Device) Agreement() model.Agreement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agreement
}

// State returns the registration state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Running reports whether the ledger confirmed the agreement.
func (d *Device) Running() bool { return d.State() == Running }

// Event returns the active flexibility event, if any.
func (d *Device) Event() (model.FlexibilityEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flex == nil {
		return model.FlexibilityEvent{}, false
	}
	return *d.flex, true
}

// LastSettled returns the last event whose provision was submitted. It is
// Confirmed once the ledger accepted the provision.
func (d *Device) LastSettled() (model.FlexibilityEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled == nil {
		return model.FlexibilityEvent{}, false
	}
	return *d.settled, true
}

// FlexState returns the flexibility sub-state at ts.
func (d *Device) FlexState(ts int64) FlexState {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.flex != nil && d.flex.HasStarted(ts):
		return Providing
	case d.flex != nil:
		return Scheduled
	case d.awaiting != nil:
		return Settling
	default:
		return NoEvent
	}
}

// Register submits the agreement. The device only starts running once the
// ledger emits the registration event.
func (d *Device) Register(ctx context.Context) {
	d.mu.Lock()
	if d.state != Idle {
		d.mu.Unlock()
		return
	}
	d.state = Pending
	a, gen := d.agreement, d.gen
	d.mu.Unlock()

	d.spawner.Go(func() {
		rc, err := d.ledger.RegisterAgreement(ctx, d.addr, a)
		if err != nil {
			d.log.Warnf("device %s: register agreement: %v", d.addr, err)
			d.notifier.OnToast(fmt.Sprintf("device %s: error registering agreement", d.addr), notify.Error)
			d.mu.Lock()
			if d.gen == gen && d.state == Pending {
				d.state = Idle
			}
			d.mu.Unlock()
			return
		}
		d.log.Debugf("device %s: agreement submitted tx=%s", d.addr, rc.TxID)
	})
}

// Revise submits a replacement agreement. The local agreement changes when
// the ledger emits the revision.
func (d *Device) Revise(ctx context.Context, a model.Agreement) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !d.Running() {
		return ErrNotRunning
	}
	a.Source = d.model.Category().Source()
	d.spawner.Go(func() {
		if _, err := d.ledger.ReviseAgreement(ctx, d.addr, a); err != nil {
			d.log.Warnf("device %s: revise agreement: %v", d.addr, err)
			d.notifier.OnToast(fmt.Sprintf("device %s: error revising agreement", d.addr), notify.Error)
		}
	})
	return nil
}

// Stop detaches the device for good. With cancel set, a registered
// agreement is cancelled on the ledger.
func (d *Device) Stop(ctx context.Context, cancel bool) {
	d.mu.Lock()
	if d.state == Stopped {
		d.mu.Unlock()
		return
	}
	registered := d.state != Idle
	d.state = Stopped
	d.gen++
	d.flex, d.awaiting = nil, nil
	d.mu.Unlock()

	if !cancel || !registered {
		return
	}
	d.spawner.Go(func() {
		if _, err := d.ledger.CancelAgreement(ctx, d.addr); err != nil {
			d.log.Warnf("device %s: cancel agreement: %v", d.addr, err)
		}
	})
}

// OnAgreementEvent applies a ledger confirmation about this device.
func (d *Device) OnAgreementEvent(e ledger.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Stopped {
		return
	}
	switch e.Kind {
	case ledger.AgreementRegistered:
		d.state = Running
		d.agreement = e.Agreement
	case ledger.AgreementRevised:
		d.agreement = e.Agreement
	case ledger.AgreementCancelled:
		d.state = Idle
		d.flex, d.awaiting = nil, nil
	}
}

// OnRequestFlexibility schedules this device's share of a grid request.
// A previous event is overwritten.
func (d *Device) OnRequestFlexibility(e ledger.Event, totalBaseline float64, p allocation.Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Running {
		return
	}
	target, err := allocation.Target(p, e.Target, totalBaseline, d.agreement.Value)
	if err != nil {
		d.log.Warnf("device %s: ignoring flexibility request: %v", d.addr, err)
		return
	}
	d.flex = &model.FlexibilityEvent{Start: e.Start, Stop: e.Stop, Target: target}
	d.awaiting = nil
	d.sum, d.count = 0, 0
	d.log.Debugf("device %s: flexibility %d-%d target %.2f", d.addr, e.Start, e.Stop, target)
}

// OnEndRequest submits the average observed over the window of the event
// starting at e.Start and clears it whatever the outcome.
func (d *Device) OnEndRequest(ctx context.Context, e ledger.Event) {
	d.mu.Lock()
	var ev *model.FlexibilityEvent
	switch {
	case d.awaiting != nil && d.awaiting.Start == e.Start:
		ev, d.awaiting = d.awaiting, nil
	case d.flex != nil && d.flex.Start == e.Start:
		ev, d.flex = d.flex, nil
	}
	if ev == nil {
		d.mu.Unlock()
		return
	}
	avg := 0.0
	if d.count > 0 {
		avg = d.sum / float64(d.count)
	}
	d.sum, d.count = 0, 0
	gen := d.gen
	d.mu.Unlock()

	d.spawner.Go(func() {
		if _, err := d.ledger.ProvideFlexibilityFair(ctx, d.addr, ev.Start, avg); err != nil {
			d.log.Errorf("device %s: provide flexibility: %v", d.addr, err)
			d.notifier.OnToast(fmt.Sprintf("device %s: error providing flexibility", d.addr), notify.Error)
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gen != gen {
			return
		}
		settled := *ev
		settled.Confirmed = true
		d.settled = &settled
	})
}

// Tick produces one reading. It does nothing unless the device is running.
func (d *Device) Tick(_ *clock.Clock, ts int64) {
	d.mu.Lock()
	if d.state != Running || d.model.SkipTick() {
		d.mu.Unlock()
		return
	}
	d.model.RollForEvents(ts)
	value := d.model.Produce(d.agreement, ts)

	if d.flex != nil && d.flex.HasEnded(ts) {
		if d.count > 0 {
			ended := *d.flex
			d.awaiting = &ended
		} else {
			d.log.Debugf("device %s: discarding expired event %d-%d", d.addr, d.flex.Start, d.flex.Stop)
		}
		d.flex = nil
	}
	providing := d.flex != nil && d.flex.Contains(ts)
	if providing {
		value = d.model.ApplyFlexibilityEvent(value, *d.flex, ts)
	}
	value = d.model.ApplyEvents(value, ts)
	if providing {
		d.sum += value
		d.count++
	}
	host := d.host
	d.mu.Unlock()

	if host != nil {
		host.OnReading(d, value, ts)
	}
}

// Status is a point in time view of a device.
type Status struct {
	Address   model.Address           `json:"address"`
	Category  Category                `json:"category"`
	State     string                  `json:"state"`
	Agreement model.Agreement         `json:"agreement"`
	Event     *model.FlexibilityEvent `json:"event,omitempty"`
	Settled   *model.FlexibilityEvent `json:"settled,omitempty"`
}

// Status returns a snapshot of the device.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{Address: d.addr, Category: d.model.Category(), State: d.state.String(), Agreement: d.agreement}
	if d.flex != nil {
		ev := *d.flex
		s.Event = &ev
	}
	if d.settled != nil {
		ev := *d.settled
		s.Settled = &ev
	}
	return s
}
