package stub

import (
	"context"
	"sync"
)

// gate lets tests hold fetches until they choose to release them.
type gate struct {
	mu      sync.Mutex
	ch      chan struct{}
	waiting int
}

// block makes subsequent calls wait until the returned release func is called.
func (g *gate) block() (release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan struct{})
	g.ch = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.ch == ch {
				g.ch = nil
			}
			g.mu.Unlock()
			close(ch)
		})
	}
}

// wait blocks while the gate is closed. Returns ctx.Err() if ctx ends first.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	if ch != nil {
		g.waiting++
	}
	g.mu.Unlock()

	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// blocked returns how many calls have reached a closed gate so far.
func (g *gate) blocked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}
