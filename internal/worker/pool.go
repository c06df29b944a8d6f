package worker

import (
	"context"
	"sync"
)

// Runner is anything with a blocking Run loop.
type Runner interface {
	Run(ctx context.Context)
}

// Pool fans a set of worker loops out onto goroutines.
type Pool struct {
	runners []Runner
}

// NewPool constructs a Pool over the given runners.
func NewPool(runners ...Runner) *Pool {
	return &Pool{runners: runners}
}

// Add appends n copies of the runner.
func (p *Pool) Add(r Runner, n int) {
	for range n {
		p.runners = append(p.runners, r)
	}
}

// Run starts every runner and blocks until the context finishes and all
// runners return.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range p.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}
