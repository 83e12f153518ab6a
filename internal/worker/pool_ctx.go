package worker

import (
	"context"
	"sync"
)

// ProcessCtx is Process generalized two ways the original file commands
// did not need: the input type is generic (not just string, so a batch
// of chunks or rule pairs can be dispatched directly), and the call is
// cancellation-aware — a ctx cancellation stops dispatching new jobs and
// in-flight jobs, once noticed by fn, return early with ctx.Err().
func ProcessCtx[In, Out any](ctx context.Context, p *Pool[Out], items []In, fn func(context.Context, In) (Out, error)) []Result[Out] {
	if len(items) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	type job struct {
		index int
		item  In
	}

	jobs := make(chan job, len(items))
	results := make([]Result[Out], len(items))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					results[j.index] = Result[Out]{Index: j.index, Err: ctx.Err()}
					continue
				default:
				}
				val, err := fn(ctx, j.item)
				results[j.index] = Result[Out]{Index: j.index, Value: val, Err: err}
			}
		}()
	}

dispatch:
	for i, item := range items {
		select {
		case <-ctx.Done():
			for j := i; j < len(items); j++ {
				results[j] = Result[Out]{Index: j, Err: ctx.Err()}
			}
			break dispatch
		case jobs <- job{index: i, item: item}:
		}
	}
	close(jobs)

	wg.Wait()
	return results
}
