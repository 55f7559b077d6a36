package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memgres/memgres/pkg/core"
	"github.com/memgres/memgres/pkg/project"
)

// recordingExec captures statements and answers them through respond.
type recordingExec struct {
	calls   []string
	args    [][]any
	respond func(sql string, args []any) (*core.Result, error)
}

func (f *recordingExec) Execute(ctx context.Context, sql string, args ...any) (*core.Result, error) {
	f.calls = append(f.calls, sql)
	f.args = append(f.args, args)
	if f.respond != nil {
		return f.respond(sql, args)
	}
	return &core.Result{}, nil
}

func (f *recordingExec) AcquireExclusive(ctx context.Context) (core.Conn, error) {
	return &recordingConn{exec: f}, nil
}

type recordingConn struct {
	exec *recordingExec
}

func (c *recordingConn) Execute(ctx context.Context, sql string, args ...any) (*core.Result, error) {
	return c.exec.Execute(ctx, sql, args...)
}

func (c *recordingConn) Release() {}

func (f *recordingExec) joined() string {
	return strings.Join(f.calls, "\n")
}

func newTestRepo(t *testing.T, f *recordingExec, dim int) (*Repository, *project.Context) {
	t.Helper()
	s, err := core.New(f)
	require.NoError(t, err)
	proj := project.NewContext("/tmp/memgres-test-project")
	return NewRepository(s, proj, dim), proj
}

func TestEnsureSchema(t *testing.T) {
	f := &recordingExec{}
	repo, proj := newTestRepo(t, f, 3)

	require.NoError(t, repo.EnsureSchema(context.Background()))

	require.Len(t, f.calls, 5)
	assert.Equal(t, "CREATE SCHEMA IF NOT EXISTS "+proj.Schema, f.calls[0])
	assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector", f.calls[1])
	assert.Contains(t, f.calls[2], "CREATE TABLE IF NOT EXISTS "+proj.Schema+".memories")
	assert.Contains(t, f.calls[2], "embedding vector(3)")
	assert.Contains(t, f.calls[3], "memories_created_at_idx")
	assert.Contains(t, f.calls[4], "USING GIN (tags)")
}

func TestSaveBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts with assigned ids and timestamps", func(t *testing.T) {
		f := &recordingExec{}
		repo, proj := newTestRepo(t, f, 3)

		known := uuid.New()
		memories := []*Memory{
			{ID: known, Content: "first", Embedding: []float32{0.1, 0.2, 0.3}, Tags: []string{"a"}},
			{Content: "second", Metadata: map[string]any{"source": "test"}},
		}
		res, err := repo.SaveBatch(ctx, memories, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.TotalProcessed)

		assert.Equal(t, known, memories[0].ID)
		assert.NotEqual(t, uuid.Nil, memories[1].ID)
		assert.False(t, memories[0].CreatedAt.IsZero())
		assert.Equal(t, memories[0].UpdatedAt, memories[1].UpdatedAt)

		joined := f.joined()
		assert.Contains(t, joined, "INSERT INTO "+proj.Schema+".memories")
		assert.Contains(t, joined, "ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content")
		assert.Contains(t, joined, "updated_at = EXCLUDED.updated_at")

		var insertArgs []any
		for i, sql := range f.calls {
			if strings.HasPrefix(sql, "INSERT") {
				insertArgs = f.args[i]
			}
		}
		require.Len(t, insertArgs, 16)
		assert.Equal(t, known.String(), insertArgs[0])
		assert.Equal(t, "first", insertArgs[1])
		assert.Equal(t, "[0.1,0.2,0.3]", insertArgs[2])
		assert.Equal(t, []string{"a"}, insertArgs[3])
		assert.Equal(t, `{}`, insertArgs[5])
		assert.Nil(t, insertArgs[10])
		assert.Equal(t, `{"source":"test"}`, insertArgs[13])
	})

	t.Run("rejects embeddings of the wrong width", func(t *testing.T) {
		f := &recordingExec{}
		repo, _ := newTestRepo(t, f, 3)

		_, err := repo.SaveBatch(ctx, []*Memory{{Content: "x", Embedding: []float32{1, 2}}}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Empty(t, f.calls)
	})
}

func TestUpdateImportance(t *testing.T) {
	f := &recordingExec{}
	repo, proj := newTestRepo(t, f, 0)

	id := uuid.New()
	_, err := repo.UpdateImportance(context.Background(),
		[]ImportanceUpdate{{ID: id, Importance: 0.9}}, nil)
	require.NoError(t, err)

	joined := f.joined()
	assert.Contains(t, joined, "UPDATE "+proj.Schema+".memories SET importance = v.importance, updated_at = v.updated_at")
	assert.Contains(t, joined, "($1::uuid, $2::double precision, $3::timestamptz)")
	assert.Contains(t, joined, "WHERE "+proj.Schema+".memories.id = v.id")
}

func TestDeleteBatch(t *testing.T) {
	f := &recordingExec{}
	repo, proj := newTestRepo(t, f, 0)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	_, err := repo.DeleteBatch(context.Background(), ids, nil)
	require.NoError(t, err)

	joined := f.joined()
	assert.Contains(t, joined, "DELETE FROM "+proj.Schema+".memories WHERE id IN ($1, $2)")
	for i, sql := range f.calls {
		if strings.HasPrefix(sql, "DELETE") {
			assert.Equal(t, []any{ids[0].String(), ids[1].String()}, f.args[i])
		}
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("rebuilds the memory from wire values", func(t *testing.T) {
		f := &recordingExec{respond: func(sql string, args []any) (*core.Result, error) {
			return &core.Result{
				Columns: []string{"id", "content", "embedding", "tags", "importance", "metadata", "created_at", "updated_at"},
				Rows: [][]any{{
					[16]byte(id),
					"remembered",
					"[1,2,3]",
					[]any{"a", "b"},
					0.75,
					map[string]any{"k": "v"},
					created,
					created,
				}},
				Count: 1,
			}, nil
		}}
		repo, _ := newTestRepo(t, f, 3)

		m, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, m.ID)
		assert.Equal(t, "remembered", m.Content)
		assert.Equal(t, []float32{1, 2, 3}, m.Embedding)
		assert.Equal(t, []string{"a", "b"}, m.Tags)
		assert.Equal(t, 0.75, m.Importance)
		assert.Equal(t, map[string]any{"k": "v"}, m.Metadata)
		assert.Equal(t, created, m.CreatedAt)

		assert.Contains(t, f.calls[0], "WHERE id = $1")
		assert.Equal(t, []any{id.String()}, f.args[0])
	})

	t.Run("missing row is ErrNotFound", func(t *testing.T) {
		f := &recordingExec{}
		repo, _ := newTestRepo(t, f, 0)

		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPage(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()
	f := &recordingExec{respond: func(sql string, args []any) (*core.Result, error) {
		if strings.Contains(sql, "pg_class") {
			return &core.Result{Columns: []string{"reltuples"}, Rows: [][]any{{int64(2)}}, Count: 1}, nil
		}
		return &core.Result{
			Columns: []string{"id", "content", "tags", "importance", "metadata", "created_at", "updated_at"},
			Rows: [][]any{
				{idA.String(), "a", []any{}, 0.1, nil, time.Now(), time.Now()},
				{idB.String(), "b", []any{}, 0.2, nil, time.Now(), time.Now()},
			},
			Count: 2,
		}, nil
	}}
	repo, _ := newTestRepo(t, f, 0)

	page, err := repo.Page(context.Background(), PageOptions{PageSize: 5})
	require.NoError(t, err)
	require.Len(t, page.Memories, 2)
	assert.Equal(t, idA, page.Memories[0].ID)
	assert.Equal(t, "b", page.Memories[1].Content)
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(2), page.TotalEstimate)
	assert.Contains(t, f.calls[0], "ORDER BY id ASC LIMIT 6")
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns hits nearest first", func(t *testing.T) {
		idA := uuid.New()
		f := &recordingExec{respond: func(sql string, args []any) (*core.Result, error) {
			return &core.Result{
				Columns: []string{"id", "content", "embedding", "tags", "importance", "metadata", "created_at", "updated_at", "distance"},
				Rows: [][]any{
					{idA.String(), "close", "[1,0]", nil, 0.5, nil, time.Now(), time.Now(), 0.03},
				},
				Count: 1,
			}, nil
		}}
		repo, _ := newTestRepo(t, f, 2)

		hits, err := repo.Search(ctx, []float32{1, 0}, 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "close", hits[0].Content)
		assert.Equal(t, 0.03, hits[0].Distance)

		assert.Contains(t, f.calls[0], "ORDER BY embedding <=> $1::vector")
		assert.Contains(t, f.calls[0], "LIMIT 5")
		assert.Equal(t, []any{"[1,0]"}, f.args[0])
	})

	t.Run("rejects query vectors of the wrong width", func(t *testing.T) {
		f := &recordingExec{}
		repo, _ := newTestRepo(t, f, 4)

		_, err := repo.Search(ctx, []float32{1, 2}, 5)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestExportAll(t *testing.T) {
	f := &recordingExec{respond: func(sql string, args []any) (*core.Result, error) {
		if strings.HasPrefix(sql, "FETCH") {
			return &core.Result{Columns: []string{"id"}}, nil
		}
		return &core.Result{}, nil
	}}
	repo, proj := newTestRepo(t, f, 0)

	stream, err := repo.ExportAll(context.Background(), nil)
	require.NoError(t, err)
	defer stream.Close()

	joined := f.joined()
	assert.Contains(t, joined, "DECLARE")
	assert.Contains(t, joined, "embedding::text AS embedding")
	assert.Contains(t, joined, "FROM "+proj.Schema+".memories ORDER BY id")
}

func TestFromRowBadID(t *testing.T) {
	_, err := fromRow(core.Row{"id": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported id type")
}
