package fn

import (
	"context"
	"sync"
)

// ParMap applies f to each item with bounded concurrency, preserving order.
//
// Items that have not been started when ctx is done are not passed to f;
// skip is called for them instead with the context error, so every slot in
// the output is filled before ParMap returns.
func ParMap[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) U, skip func(T, error) U) []U {
	out := make([]U, len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		select {
		case <-ctx.Done():
			out[i] = skip(v, ctx.Err())
			continue
		case sem <- struct{}{}:
		}
		// The slot may have been acquired in the same instant the deadline fired.
		if err := ctx.Err(); err != nil {
			<-sem
			out[i] = skip(v, err)
			continue
		}
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
