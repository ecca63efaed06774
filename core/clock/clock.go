// Package clock implements the virtual clock driving the simulation. A real
// timer fires every Interval; each firing invokes the registered callbacks in
// registration order with the current virtual timestamp and then advances the
// timestamp by Increment seconds.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/flexsim/core/logger"
)

// ErrAlreadyRunning is returned by Start when the clock is running.
var ErrAlreadyRunning = errors.New("clock is already running")

// TickFunc is invoked once per tick with the virtual timestamp in seconds.
type TickFunc func(c *Clock, ts int64)

// CallbackID identifies a registered callback for removal.
type CallbackID uint64

// Options configures a Clock.
type Options struct {
	// Start is the initial virtual timestamp (unix seconds). Zero means now.
	Start int64
	// Increment is the number of virtual seconds added after every tick.
	Increment int64
	// Interval is the real-time period between ticks. A non-positive
	// interval disables the timer and the owner drives Tick manually.
	Interval time.Duration
}

type entry struct {
	id CallbackID
	fn TickFunc
}

// Clock is safe for concurrent use.
type Clock struct {
	// tickMu serializes Tick so callbacks never run concurrently.
	tickMu    sync.Mutex
	mu        sync.Mutex
	timestamp int64
	increment int64
	interval  time.Duration
	callbacks []entry
	nextID    CallbackID
	running   bool
	stop      chan struct{}
	done      chan struct{}
	log       logger.Logger
}

// New creates a stopped clock.
func New(opts Options, log logger.Logger) *Clock {
	if opts.Start == 0 {
		opts.Start = time.Now().Unix()
	}
	if opts.Increment <= 0 {
		opts.Increment = 1
	}
	return &Clock{
		timestamp: opts.Start,
		increment: opts.Increment,
		interval:  opts.Interval,
		log:       logger.OrNop(log),
	}
}

// AddCallback registers fn at the end of the callback list.
func (c *Clock) AddCallback(fn TickFunc) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.callbacks = append(c.callbacks, entry{id: c.nextID, fn: fn})
	return c.nextID
}

// RemoveCallback unregisters the callback. Unknown ids are ignored.
func (c *Clock) RemoveCallback(id CallbackID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.callbacks {
		if e.id == id {
			c.callbacks = append(c.callbacks[:i:i], c.callbacks[i+1:]...)
			return
		}
	}
}

// Reset removes every callback.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.callbacks = nil
	c.mu.Unlock()
}

// Start begins ticking until Stop is called or ctx is done.
func (c *Clock) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.log.Errorf("start called on a running clock")
		return ErrAlreadyRunning
	}
	c.running = true
	if c.interval <= 0 {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(ctx, c.interval, c.stop, c.done)
	return nil
}

func (c *Clock) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Tick()
		case <-stop:
			return
		case <-ctx.Done():
			c.Stop()
			return
		}
	}
}

// Stop halts the timer. It is idempotent and does not wait for a tick in
// progress to complete.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// Wait blocks until the timer goroutine of the last Start has exited.
func (c *Clock) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Tick runs one simulation step. It is a no-op while the clock is stopped.
// Callbacks removed by an earlier callback of the same tick are skipped.
// Concurrent calls, from the timer and a manual step, run one after the
// other. Callbacks must not call Tick.
func (c *Clock) Tick() {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ts := c.timestamp
	snapshot := append([]entry(nil), c.callbacks...)
	c.mu.Unlock()

	for _, e := range snapshot {
		if !c.registered(e.id) {
			continue
		}
		c.invoke(e, ts)
	}

	c.mu.Lock()
	c.timestamp += c.increment
	c.mu.Unlock()
}

func (c *Clock) invoke(e entry, ts int64) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("tick callback %d panicked at %d: %v", e.id, ts, r)
		}
	}()
	e.fn(c, ts)
}

func (c *Clock) registered(id CallbackID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.callbacks {
		if e.id == id {
			return true
		}
	}
	return false
}

// Timestamp returns the current virtual time in unix seconds.
func (c *Clock) Timestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// Increment returns the virtual seconds added per tick.
func (c *Clock) Increment() int64 { return c.increment }

// Running reports whether the clock is ticking.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Len returns the number of registered callbacks.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

// String renders the virtual time.
func (c *Clock) String() string {
	return fmt.Sprintf("clock(%s)", ISO(c.Timestamp()))
}
