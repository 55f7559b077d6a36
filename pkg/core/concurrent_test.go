package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConcurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("reassembles results in input order", func(t *testing.T) {
		items := make([]int, 25)
		for i := range items {
			items[i] = i
		}
		// Later batches finish first so completion order is scrambled.
		got, err := RunConcurrent(ctx, items, 4, 3, func(ctx context.Context, batch []int, index int) ([]int, error) {
			time.Sleep(time.Duration(30-index*4) * time.Millisecond)
			out := make([]int, len(batch))
			for i, v := range batch {
				out[i] = v * 10
			}
			return out, nil
		})
		require.NoError(t, err)
		require.Len(t, got, 25)
		for i, v := range got {
			assert.Equal(t, i*10, v)
		}
	})

	t.Run("caps batches in flight", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		items := make([]int, 40)
		_, err := RunConcurrent(ctx, items, 4, 3, func(ctx context.Context, batch []int, index int) ([]int, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(3))
		assert.GreaterOrEqual(t, peak.Load(), int32(1))
	})

	t.Run("first failure cancels the rest", func(t *testing.T) {
		boom := errors.New("boom")
		var started atomic.Int32
		items := make([]int, 50)
		_, err := RunConcurrent(ctx, items, 10, 1, func(ctx context.Context, batch []int, index int) ([]int, error) {
			started.Add(1)
			if index == 1 {
				return nil, boom
			}
			return nil, nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "batch 1 failed")
		// Limit 1 serializes the batches, so 2 started and 3 were skipped.
		assert.Equal(t, int32(2), started.Load())
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		_, err := RunConcurrent(ctx, []int{1}, 1, 0, func(ctx context.Context, batch []int, index int) ([]int, error) {
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrInvalidConcurrency)
	})

	t.Run("propagates a bad chunk size", func(t *testing.T) {
		_, err := RunConcurrent(ctx, []int{1}, 0, 1, func(ctx context.Context, batch []int, index int) ([]int, error) {
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
	})

	t.Run("empty input runs nothing", func(t *testing.T) {
		calls := 0
		got, err := RunConcurrent(ctx, []int(nil), 10, 2, func(ctx context.Context, batch []int, index int) ([]int, error) {
			calls++
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 0, calls)
	})
}
