// Package utils contains the goroutine helpers simulated and real camera libraries run their
// capture loops on.
package utils

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
)

// StoppableWorkers is a group of goroutines sharing one context. Stop cancels it and waits for
// every worker to return.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	Stop()
	Context() context.Context
}

type workerGroup struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	active sync.WaitGroup
}

// NewStoppableWorkers starts funcs on a context that ends on Stop or when parent is done, so a
// library can tie its capture loop to its own lifetime.
func NewStoppableWorkers(parent context.Context, funcs ...func(context.Context)) StoppableWorkers {
	ctx, cancel := context.WithCancel(parent)
	g := &workerGroup{ctx: ctx, cancel: cancel}
	g.AddWorkers(funcs...)
	return g
}

// AddWorkers starts one goroutine per function. Nothing is started once the group is stopped.
func (g *workerGroup) AddWorkers(funcs ...func(context.Context)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return
	}
	g.active.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer g.active.Done()
			f(g.ctx)
		})
	}
}

// Stop may be called more than once.
func (g *workerGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel()
	g.active.Wait()
}

func (g *workerGroup) Context() context.Context {
	return g.ctx
}

// TickerWorker returns a worker calling tick once per period of clk until its context ends. The
// ticker exists when TickerWorker returns, so a mock clock may be advanced right away.
func TickerWorker(clk clock.Clock, period time.Duration, tick func(context.Context)) func(context.Context) {
	ticker := clk.Ticker(period)
	return func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}
}
