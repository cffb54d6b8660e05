// Package worker runs a batch of tasks concurrently under a fixed in-flight limit.
package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds in-flight tasks when Config.Concurrency is unset.
const DefaultConcurrency = 16

// Task turns one input into one output.
type Task[In, Out any] func(ctx context.Context, in In) Out

// RecoverFunc converts a task panic into an output so the batch stays whole.
type RecoverFunc[In, Out any] func(in In, recovered any) Out

// Pool executes a Task over batches of inputs.
type Pool[In, Out any] struct {
	sem     *semaphore.Weighted
	task    Task[In, Out]
	recover RecoverFunc[In, Out]
}

// New builds a Pool that runs at most concurrency tasks at once.
func New[In, Out any](concurrency int, task Task[In, Out], recoverFn RecoverFunc[In, Out]) *Pool[In, Out] {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool[In, Out]{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		task:    task,
		recover: recoverFn,
	}
}

// Stream launches one task per input and returns a channel that yields each
// output as it completes. The channel closes once every task has resolved.
// Inputs that could not be scheduled because ctx ended still produce an output
// through the recover hook.
func (p *Pool[In, Out]) Stream(ctx context.Context, batch []In) <-chan Out {
	out := make(chan Out, len(batch))
	var wg sync.WaitGroup
	for _, in := range batch {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- p.recovered(in, fmt.Errorf("schedule task: %w", err))
			continue
		}
		wg.Add(1)
		go func(in In) {
			defer wg.Done()
			defer p.sem.Release(1)
			out <- p.run(ctx, in)
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Run executes the batch and blocks until every task resolved. Outputs are in
// completion order.
func (p *Pool[In, Out]) Run(ctx context.Context, batch []In) []Out {
	results := make([]Out, 0, len(batch))
	for o := range p.Stream(ctx, batch) {
		results = append(results, o)
	}
	return results
}

func (p *Pool[In, Out]) run(ctx context.Context, in In) (out Out) {
	defer func() {
		if r := recover(); r != nil {
			out = p.recovered(in, r)
		}
	}()
	return p.task(ctx, in)
}

func (p *Pool[In, Out]) recovered(in In, reason any) Out {
	if p.recover == nil {
		var zero Out
		return zero
	}
	return p.recover(in, reason)
}
