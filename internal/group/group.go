// Package group runs the long lived goroutines of the server, the HTTP
// listener and the background workers, under one context.
package group

import (
	"context"
	"sync"
)

// A G runs a set of goroutines from a common context.
// The first goroutine to return cancels the context, which tells the
// others to stop.
type G struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup

	errOnce sync.Once
	err     error
}

// New returns a new group derived from ctx.
func New(ctx context.Context) *G {
	ctx, cancel := context.WithCancel(ctx)
	return &G{
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddContext starts fn in a new goroutine. fn should return when its
// context is cancelled.
func (g *G) AddContext(fn func(context.Context) error) {
	g.done.Add(1)
	go func() {
		defer g.done.Done()
		defer g.cancel()
		if err := fn(g.ctx); err != nil {
			g.errOnce.Do(func() { g.err = err })
		}
	}()
}

// Wait blocks until every goroutine has returned and returns the first
// error, if any.
func (g *G) Wait() error {
	g.done.Wait()
	g.cancel()
	g.errOnce.Do(func() {})
	return g.err
}
