package engine

import (
	"context"

	"go.uber.org/atomic"
)

const (
	stepPending int32 = iota
	stepRunning
	stepAbandoned
)

// rendezvous pairs one handshake step on the render loop with the goroutine waiting for it. A
// step that is abandoned before it starts never runs.
type rendezvous struct {
	done  chan struct{}
	state atomic.Int32
}

func newRendezvous() *rendezvous {
	return &rendezvous{done: make(chan struct{})}
}

// run is the render loop side.
func (r *rendezvous) run(step func()) {
	if !r.state.CompareAndSwap(stepPending, stepRunning) {
		return
	}
	defer close(r.done)
	step()
}

// wait blocks until the step has run or ctx is done. Once the step has started it is waited for
// regardless of ctx, so a nil return always means the step ran and an error means it never will.
func (r *rendezvous) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
	}
	if r.state.CompareAndSwap(stepPending, stepAbandoned) {
		return ctx.Err()
	}
	<-r.done
	return nil
}
