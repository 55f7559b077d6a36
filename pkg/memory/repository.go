package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memgres/memgres/internal/encoding"
	"github.com/memgres/memgres/pkg/core"
	"github.com/memgres/memgres/pkg/project"
	"github.com/memgres/memgres/pkg/sqlgen"
)

// DefaultSearchLimit caps similarity searches that pass no limit.
const DefaultSearchLimit = 10

// Repository stores memories for one project. Tables live in the project's
// schema, so repositories for different paths never see each other's rows.
type Repository struct {
	store *core.Store
	proj  *project.Context
	dim   int
	log   core.Logger
}

// NewRepository returns a repository over the store for the project.
// dimensions fixes the embedding width; 0 leaves it unconstrained.
func NewRepository(store *core.Store, proj *project.Context, dimensions int) *Repository {
	return &Repository{
		store: store,
		proj:  proj,
		dim:   dimensions,
		log:   store.Logger(),
	}
}

func (r *Repository) table() string {
	return r.proj.Qualify("memories")
}

func (r *Repository) types() map[string]sqlgen.ColumnType {
	vectorType := sqlgen.ColumnType("vector")
	if r.dim > 0 {
		vectorType = sqlgen.ColumnType(fmt.Sprintf("vector(%d)", r.dim))
	}
	return map[string]sqlgen.ColumnType{
		"id":         "uuid",
		"content":    "text",
		"embedding":  vectorType,
		"tags":       "text[]",
		"importance": "double precision",
		"metadata":   "jsonb",
		"created_at": "timestamptz",
		"updated_at": "timestamptz",
	}
}

// EnsureSchema creates the project schema, the vector extension, and the
// memories table if they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	vectorType := "vector"
	if r.dim > 0 {
		vectorType = fmt.Sprintf("vector(%d)", r.dim)
	}
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + r.proj.Schema,
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			content text NOT NULL,
			embedding %s,
			tags text[] NOT NULL DEFAULT '{}',
			importance double precision NOT NULL DEFAULT 0,
			metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, r.table(), vectorType),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS memories_created_at_idx ON %s (created_at)", r.table()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS memories_tags_idx ON %s USING GIN (tags)", r.table()),
	}
	for _, stmt := range stmts {
		if _, err := r.store.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema %s: %w", r.proj.Schema, err)
		}
	}
	r.log.Debug("schema ensured", "schema", r.proj.Schema, "dimensions", r.dim)
	return nil
}

// SaveBatch upserts memories in chunks: new IDs insert, existing IDs
// overwrite their content, embedding, tags, importance, and metadata.
// IDs and timestamps are filled in on the passed memories.
func (r *Repository) SaveBatch(ctx context.Context, memories []*Memory, opts *core.BatchOptions) (*core.BatchResult, error) {
	now := time.Now().UTC()
	rows := make([]core.Row, 0, len(memories))
	for _, m := range memories {
		row, err := r.toRow(m, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	conflict := sqlgen.ConflictClause{
		Columns:       []string{"id"},
		Action:        sqlgen.ConflictUpdate,
		UpdateColumns: []string{"content", "embedding", "tags", "importance", "metadata", "updated_at"},
	}
	return r.store.BatchUpsert(ctx, r.table(), columns, rows, conflict, opts)
}

// ImportanceUpdate reweights one memory.
type ImportanceUpdate struct {
	ID         uuid.UUID
	Importance float64
}

// UpdateImportance applies importance changes in bulk, one multi-row
// UPDATE per chunk, and refreshes updated_at.
func (r *Repository) UpdateImportance(ctx context.Context, updates []ImportanceUpdate, opts *core.BatchOptions) (*core.BatchResult, error) {
	now := time.Now().UTC()
	items := make([]core.Row, len(updates))
	for i, u := range updates {
		items[i] = core.Row{
			"id":         u.ID.String(),
			"importance": u.Importance,
			"updated_at": now,
		}
	}
	schema := sqlgen.Schema{Table: r.table(), Key: "id", Types: r.types()}
	return r.store.BatchUpdate(ctx, schema, []string{"importance", "updated_at"}, items, opts)
}

// DeleteBatch removes the given IDs in chunks.
func (r *Repository) DeleteBatch(ctx context.Context, ids []uuid.UUID, opts *core.BatchOptions) (*core.BatchResult, error) {
	keys := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return r.store.BatchDelete(ctx, r.table(), "id", keys, opts)
}

// Get loads one memory by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Memory, error) {
	res, err := r.store.Execute(ctx, fmt.Sprintf(
		"SELECT id, content, embedding::text AS embedding, tags, importance, metadata, created_at, updated_at FROM %s WHERE id = $1",
		r.table()), id.String())
	if err != nil {
		return nil, err
	}
	rows := res.Maps()
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromRow(rows[0])
}

// PageOptions controls one page of a memory listing.
type PageOptions struct {
	PageSize   int
	Cursor     string
	Descending bool
}

// MemoryPage is one page of memories plus the cursors to continue.
type MemoryPage struct {
	Memories      []*Memory `json:"memories"`
	HasMore       bool      `json:"hasMore"`
	NextCursor    string    `json:"nextCursor,omitempty"`
	PrevCursor    string    `json:"prevCursor,omitempty"`
	TotalEstimate int64     `json:"totalEstimate"`
}

// Page lists memories by keyset over the ID column. The ID is a UUID, so
// the walk order is arbitrary but stable and never skips or repeats rows,
// which is what bulk consumers need.
func (r *Repository) Page(ctx context.Context, opts PageOptions) (*MemoryPage, error) {
	page, err := r.store.GetPage(ctx, core.PageRequest{
		Table:      r.table(),
		KeyColumn:  "id",
		Columns:    []string{"id", "content", "tags", "importance", "metadata", "created_at", "updated_at"},
		PageSize:   opts.PageSize,
		Cursor:     opts.Cursor,
		Descending: opts.Descending,
	})
	if err != nil {
		return nil, err
	}

	memories := make([]*Memory, 0, len(page.Items))
	for _, item := range page.Items {
		m, err := fromRow(item)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return &MemoryPage{
		Memories:      memories,
		HasMore:       page.HasMore,
		NextCursor:    page.NextCursor,
		PrevCursor:    page.PrevCursor,
		TotalEstimate: page.TotalEstimate,
	}, nil
}

// ExportAll streams every memory through a server-side cursor, embeddings
// included as vector literals.
func (r *Repository) ExportAll(ctx context.Context, opts *core.StreamOptions) (*core.RowStream, error) {
	query := fmt.Sprintf(
		"SELECT id, content, embedding::text AS embedding, tags, importance, metadata, created_at, updated_at FROM %s ORDER BY id",
		r.table())
	return r.store.StreamQuery(ctx, query, nil, opts)
}

// Search returns the memories closest to the query vector by cosine
// distance, nearest first. Memories without an embedding are skipped.
func (r *Repository) Search(ctx context.Context, vector []float32, limit int) ([]*ScoredMemory, error) {
	if r.dim > 0 && len(vector) != r.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), r.dim)
	}
	lit, err := encoding.EncodeVector(vector)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	res, err := r.store.Execute(ctx, fmt.Sprintf(`
		SELECT id, content, embedding::text AS embedding, tags, importance, metadata, created_at, updated_at,
		       embedding <=> $1::vector AS distance
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT %d`, r.table(), limit), lit)
	if err != nil {
		return nil, err
	}

	hits := make([]*ScoredMemory, 0, len(res.Rows))
	for _, row := range res.Maps() {
		m, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		hit := &ScoredMemory{Memory: *m}
		switch d := row["distance"].(type) {
		case float64:
			hit.Distance = d
		case float32:
			hit.Distance = float64(d)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the planner's estimate of stored memories.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	return r.store.EstimateCount(ctx, r.table())
}
