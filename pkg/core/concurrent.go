package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunConcurrent chunks items by batchSize and runs process over the chunks
// with at most limit in flight. Per-chunk results are reassembled into one
// slice in the original item order, whatever order the chunks finish in.
// The first chunk error cancels the group context, chunks that have not
// started are skipped, and that error is returned.
func RunConcurrent[T, R any](ctx context.Context, items []T, batchSize, limit int, process func(ctx context.Context, batch []T, index int) ([]R, error)) ([]R, error) {
	if limit <= 0 {
		return nil, ErrInvalidConcurrency
	}
	chunks, err := Chunk(items, batchSize)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([][]R, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := process(gctx, chunk, i)
			if err != nil {
				return fmt.Errorf("batch %d failed: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	flat := make([]R, 0, len(items))
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}
