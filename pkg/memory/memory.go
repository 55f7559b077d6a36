// Package memory is the project-scoped repository for memory records: text
// plus its embedding, tags, importance, and metadata, stored in PostgreSQL
// with a pgvector column.
//
// All writes go through the batch engine, so a bulk save is a handful of
// multi-row statements inside one transaction rather than a statement per
// record. Reads page by keyset or stream through a server-side cursor.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memgres/memgres/internal/encoding"
	"github.com/memgres/memgres/pkg/core"
)

// Package errors.
var (
	// ErrNotFound is returned when a memory ID matches no row.
	ErrNotFound = errors.New("memory not found")
	// ErrDimensionMismatch is returned when an embedding's width differs
	// from the repository's configured dimensions.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Memory is one stored record.
type Memory struct {
	ID         uuid.UUID      `json:"id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Importance float64        `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ScoredMemory is a search hit with its cosine distance (lower is closer).
type ScoredMemory struct {
	Memory
	Distance float64 `json:"distance"`
}

// columns is the canonical column order for memory rows.
var columns = []string{"id", "content", "embedding", "tags", "importance", "metadata", "created_at", "updated_at"}

// toRow converts a memory into a statement row. A nil ID is assigned, a
// zero CreatedAt becomes now, and UpdatedAt is always now.
func (r *Repository) toRow(m *Memory, now time.Time) (core.Row, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	row := core.Row{
		"id":         m.ID.String(),
		"content":    m.Content,
		"tags":       m.Tags,
		"importance": m.Importance,
		"created_at": m.CreatedAt,
		"updated_at": m.UpdatedAt,
	}
	if m.Tags == nil {
		row["tags"] = []string{}
	}

	if len(m.Embedding) > 0 {
		if r.dim > 0 && len(m.Embedding) != r.dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(m.Embedding), r.dim)
		}
		lit, err := encoding.EncodeVector(m.Embedding)
		if err != nil {
			return nil, err
		}
		row["embedding"] = lit
	} else {
		row["embedding"] = nil
	}

	meta := m.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	row["metadata"] = string(metaJSON)

	return row, nil
}

// fromRow rebuilds a memory from a column-keyed result row. Values arrive
// in the executor's wire-level shapes, so each field accepts the handful
// of representations the driver produces.
func fromRow(row core.Row) (*Memory, error) {
	m := &Memory{}

	id, err := parseUUID(row["id"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse memory id: %w", err)
	}
	m.ID = id

	if s, ok := row["content"].(string); ok {
		m.Content = s
	}

	switch v := row["embedding"].(type) {
	case nil:
	case string:
		vec, err := encoding.DecodeVector(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
		m.Embedding = vec
	case []float32:
		m.Embedding = v
	}

	switch v := row["tags"].(type) {
	case nil:
	case []string:
		m.Tags = v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		m.Tags = tags
	}

	switch v := row["importance"].(type) {
	case float64:
		m.Importance = v
	case float32:
		m.Importance = float64(v)
	}

	switch v := row["metadata"].(type) {
	case nil:
	case map[string]any:
		m.Metadata = v
	case []byte:
		if err := json.Unmarshal(v, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	case string:
		if err := json.Unmarshal([]byte(v), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	if ts, ok := row["created_at"].(time.Time); ok {
		m.CreatedAt = ts
	}
	if ts, ok := row["updated_at"].(time.Time); ok {
		m.UpdatedAt = ts
	}
	return m, nil
}

func parseUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case [16]byte:
		return uuid.UUID(x), nil
	case []byte:
		return uuid.FromBytes(x)
	case string:
		return uuid.Parse(x)
	default:
		return uuid.Nil, fmt.Errorf("unsupported id type %T", v)
	}
}
