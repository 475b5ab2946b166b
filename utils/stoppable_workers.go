// Package utils holds small helpers shared by the overlay packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers owns a set of goroutines that share one context and are stopped together.
type StoppableWorkers interface {
	// AddWorkers starts one goroutine per function. It reports false, and starts nothing, once
	// Stop has been called.
	AddWorkers(...func(context.Context)) bool
	// Stop cancels the shared context and waits for every worker to return. Calling it from a
	// worker deadlocks.
	Stop()
	Context() context.Context
}

type workerGroup struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewStoppableWorkers starts funcs, each on its own panic-capturing goroutine.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	g := &workerGroup{ctx: ctx, cancel: cancel}
	g.AddWorkers(funcs...)
	return g
}

func (g *workerGroup) AddWorkers(funcs ...func(context.Context)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	g.running.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer g.running.Done()
			f(g.ctx)
		})
	}
	return true
}

func (g *workerGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel()
	g.running.Wait()
}

func (g *workerGroup) Context() context.Context {
	return g.ctx
}
