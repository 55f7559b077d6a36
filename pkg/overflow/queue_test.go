package overflow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueDefaults(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	id, callbackID, err := q.Enqueue(ctx, Request{Texts: []string{"hello", "world"}})
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.NotEmpty(t, callbackID)

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "batch", items[0].Type)
	assert.Equal(t, PriorityNormal, items[0].Priority)
	assert.Equal(t, []string{"hello", "world"}, items[0].Texts)
	assert.Equal(t, callbackID, items[0].CallbackID)
	assert.Equal(t, 0, items[0].Dimensions)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestUnsetPriorityDrainsAsNormal(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	// Enqueued least-urgent first so ordering cannot come from insertion.
	_, _, err := q.Enqueue(ctx, Request{Texts: []string{"idle"}, Priority: PriorityIdle})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"unset"}})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"critical"}, Priority: PriorityCritical})
	require.NoError(t, err)

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"critical"}, items[0].Texts)
	assert.Equal(t, []string{"unset"}, items[1].Texts)
	assert.Equal(t, []string{"idle"}, items[2].Texts)
	assert.Equal(t, PriorityNormal, items[1].Priority)
}

func TestEnqueueClampsPriority(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, _, err := q.Enqueue(ctx, Request{Texts: []string{"a"}, Priority: 99})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"b"}, Priority: -5})
	require.NoError(t, err)

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, PriorityCritical, items[0].Priority)
	assert.Equal(t, PriorityIdle, items[1].Priority)
}

func TestEnqueueRejectsDuplicateCallback(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, _, err := q.Enqueue(ctx, Request{Texts: []string{"a"}, CallbackID: "cb-1"})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"b"}, CallbackID: "cb-1"})
	require.Error(t, err)
}

func TestDequeueOrder(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, _, err := q.Enqueue(ctx, Request{Texts: []string{"low"}, Priority: PriorityLow})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"urgent"}, Priority: PriorityHigh})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"first-normal"}, Priority: PriorityNormal})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"second-normal"}, Priority: PriorityNormal})
	require.NoError(t, err)

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, []string{"urgent"}, items[0].Texts)
	assert.Equal(t, []string{"first-normal"}, items[1].Texts)
	assert.Equal(t, []string{"second-normal"}, items[2].Texts)
	assert.Equal(t, []string{"low"}, items[3].Texts)
	for _, it := range items {
		assert.Equal(t, StatusProcessing, it.Status)
	}
}

func TestDequeueClaimsAtomically(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	for i := 0; i < 3; i++ {
		_, _, err := q.Enqueue(ctx, Request{Texts: []string{"t"}})
		require.NoError(t, err)
	}

	first, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotContains(t, []int64{first[0].ID, first[1].ID}, second[0].ID)

	third, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestCompleteAndResult(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, callbackID, err := q.Enqueue(ctx, Request{Texts: []string{"a"}, Dimensions: 768})
	require.NoError(t, err)

	items, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 768, items[0].Dimensions)

	require.NoError(t, q.Complete(ctx, callbackID, json.RawMessage(`{"vectors":[[0.1,0.2]]}`)))

	out, err := q.Result(ctx, callbackID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.JSONEq(t, `{"vectors":[[0.1,0.2]]}`, string(out.Result))
	assert.Empty(t, out.Error)
}

func TestFailAndResult(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, callbackID, err := q.Enqueue(ctx, Request{Texts: []string{"a"}})
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, callbackID, "model unavailable"))

	out, err := q.Result(ctx, callbackID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, "model unavailable", out.Error)
	assert.Nil(t, out.Result)
}

func TestUnknownCallback(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	err := q.Complete(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = q.Result(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupOld(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, doneID, err := q.Enqueue(ctx, Request{Texts: []string{"old"}})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"still pending"}})
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, doneID, json.RawMessage(`[]`)))
	_, err = q.db.ExecContext(ctx,
		"UPDATE embedding_queue SET created_at = '2000-01-01 00:00:00' WHERE callback_id = ?", doneID)
	require.NoError(t, err)

	removed, err := q.CleanupOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The pending item is untouched even though cleanup ran.
	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, _, err := q.Enqueue(ctx, Request{Texts: []string{"a"}, Priority: PriorityHigh})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, Request{Texts: []string{"b"}, Priority: PriorityLow})
	require.NoError(t, err)
	_, doneID, err := q.Enqueue(ctx, Request{Texts: []string{"c"}})
	require.NoError(t, err)

	items, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, q.Complete(ctx, doneID, json.RawMessage(`[]`)))

	s, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Processing)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 0, s.Errors)
	assert.InDelta(t, float64(PriorityLow), s.AvgPriority, 0.001)
}
