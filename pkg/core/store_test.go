package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec scripts an Executor. Every statement, including those issued on
// an exclusive connection, is recorded in order; respond decides the
// outcome and defaults to an empty result.
type fakeExec struct {
	mu         sync.Mutex
	calls      []execCall
	respond    func(sql string, args []any) (*Result, error)
	acquired   int
	released   int
	acquireErr error
}

type execCall struct {
	sql  string
	args []any
}

func (f *fakeExec) Execute(ctx context.Context, sql string, args ...any) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(sql, args)
	}
	return &Result{}, nil
}

func (f *fakeExec) AcquireExclusive(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &fakeConn{exec: f}, nil
}

func (f *fakeExec) sqls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.sql
	}
	return out
}

func (f *fakeExec) countPrefix(prefix string) int {
	n := 0
	for _, sql := range f.sqls() {
		if strings.HasPrefix(sql, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeExec) releasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeConn struct {
	exec *fakeExec
}

func (c *fakeConn) Execute(ctx context.Context, sql string, args ...any) (*Result, error) {
	return c.exec.Execute(ctx, sql, args...)
}

func (c *fakeConn) Release() {
	c.exec.mu.Lock()
	c.exec.released++
	c.exec.mu.Unlock()
}

func TestNewWithConfig(t *testing.T) {
	t.Run("requires an executor", func(t *testing.T) {
		_, err := NewWithConfig(Config{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoExecutor)
	})

	t.Run("defaults the logger", func(t *testing.T) {
		s, err := New(&fakeExec{})
		require.NoError(t, err)
		assert.NotNil(t, s.Logger())
	})
}

func TestStoreClose(t *testing.T) {
	f := &fakeExec{}
	s, err := New(f)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.BatchInsert(context.Background(), "items", []string{"id"}, []Row{{"id": 1}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Empty(t, f.sqls())
}

func TestStoreExecute(t *testing.T) {
	f := &fakeExec{respond: func(sql string, args []any) (*Result, error) {
		return &Result{Columns: []string{"one"}, Rows: [][]any{{int64(1)}}, Count: 1}, nil
	}}
	s, err := New(f)
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), "SELECT 1 AS one")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0])

	require.NoError(t, s.Close())
	_, err = s.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestResultMaps(t *testing.T) {
	r := &Result{
		Columns: []string{"id", "name"},
		Rows: [][]any{
			{int64(1), "alpha"},
			{int64(2), "beta"},
		},
		Count: 2,
	}
	maps := r.Maps()
	require.Len(t, maps, 2)
	assert.Equal(t, Row{"id": int64(1), "name": "alpha"}, maps[0])
	assert.Equal(t, Row{"id": int64(2), "name": "beta"}, maps[1])
}

func TestStoreErrorFormat(t *testing.T) {
	err := wrapError("batch_insert", ErrStoreClosed)
	assert.Equal(t, "memgres: batch_insert: store is closed", err.Error())
	assert.ErrorIs(t, err, ErrStoreClosed)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "batch_insert", storeErr.Op)

	assert.NoError(t, wrapError("noop", nil))
}

func TestNopLogger(t *testing.T) {
	log := NopLogger()
	log.Debug("ignored", "k", "v")
	log.With("k", "v").Error("also ignored")
}
