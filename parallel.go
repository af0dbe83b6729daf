package dadac

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// parallelFor splits [0, n) into contiguous ranges and runs fn on each range
// with at most numWorkers goroutines. Ranges don't overlap, so fn may write
// to per-point output slots without synchronization. If numWorkers <= 1 the
// whole range runs on the calling goroutine.
//
// fn should check ctx between points; the first error cancels the other
// ranges and is returned.
func parallelFor(ctx context.Context, n, numWorkers int, fn func(ctx context.Context, start, end int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if numWorkers <= 1 || n == 1 {
		return fn(ctx, 0, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	// A few ranges per worker evens out uneven per-point cost (KD-tree
	// queries near dense regions take longer).
	chunks := numWorkers * 4
	if chunks > n {
		chunks = n
	}
	rowsPerChunk := (n + chunks - 1) / chunks

	for start := 0; start < n; start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > n {
			end = n
		}
		g.Go(func() error {
			return fn(gctx, start, end)
		})
	}
	return g.Wait()
}
