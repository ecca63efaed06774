// Package task runs fire-and-forget work.
package task

import "sync"

// Spawner starts fn without waiting for it.
type Spawner interface {
	Go(fn func())
}

// Goroutine runs each function on its own goroutine.
type Goroutine struct{}

func (Goroutine) Go(fn func()) { go fn() }

// Group is a Spawner whose work can be awaited.
type Group struct {
	wg sync.WaitGroup
}

func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until every spawned function has returned.
func (g *Group) Wait() { g.wg.Wait() }

// Inline runs fn synchronously.
type Inline struct{}

func (Inline) Go(fn func()) { fn() }

// OrDefault returns s or a Goroutine spawner when s is nil.
func OrDefault(s Spawner) Spawner {
	if s == nil {
		return Goroutine{}
	}
	return s
}
