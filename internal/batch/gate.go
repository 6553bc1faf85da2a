package batch

import (
	"context"
	"errors"
	"sync"
)

var errStopped = errors.New("batch stopped")

// gate holds the two run signals. runnable is closed while workers may
// proceed and is replaced on pause; cancelled is closed once on stop.
type gate struct {
	mu        sync.Mutex
	runnable  chan struct{}
	cancelled chan struct{}
	paused    bool
	stopped   bool
}

func newGate() *gate {
	runnable := make(chan struct{})
	close(runnable)
	return &gate{runnable: runnable, cancelled: make(chan struct{})}
}

func (g *gate) pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.stopped {
		return false
	}
	g.paused = true
	g.runnable = make(chan struct{})
	return true
}

func (g *gate) resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.runnable)
	return true
}

func (g *gate) stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.stopped = true
	close(g.cancelled)
	return true
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *gate) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// wait blocks while paused. Cancellation wins over a concurrent resume.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	runnable := g.runnable
	g.mu.Unlock()

	select {
	case <-g.cancelled:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-runnable:
	}
	select {
	case <-g.cancelled:
		return errStopped
	default:
		return nil
	}
}
