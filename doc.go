// Package memgres is a batch-oriented data-access layer for PostgreSQL
// with pgvector.
//
// memgres sits between an application and its database and does the
// unglamorous bulk work well: multi-row statement generation, chunked
// batch execution with retry and transactional semantics, keyset (cursor)
// pagination, and constant-memory streaming export through server-side
// cursors. Each project gets its own PostgreSQL schema, selected per
// transaction, so many projects share one database without sharing state.
//
// # Key Features
//
//   - Batch CRUD - chunked multi-row INSERT/UPSERT/UPDATE/DELETE with
//     exact per-item accounting and optional all-or-nothing transactions.
//   - Retry - exponential backoff around transient PostgreSQL errors,
//     driven by a pluggable classifier.
//   - Bounded concurrency - run independent batches in parallel with an
//     in-flight cap, results in input order.
//   - Cursor pagination - opaque reversible tokens, no OFFSET, cheap
//     statistical totals.
//   - Streaming export - DECLARE/FETCH cursors bounding memory to one
//     batch, with NDJSON, JSON array, and CSV encoders.
//   - Project isolation - schema-per-project via a search_path hook, plus
//     a local SQLite overflow queue for embedding work.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/memgres/memgres"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    db, _ := memgres.Open(ctx, memgres.DefaultConfig(
//	        "postgres://localhost/memgres", "/path/to/project"))
//	    defer db.Close()
//
//	    db.Init(ctx)
//
//	    // Bulk-write through the engine
//	    store := db.Store()
//	    store.BatchInsert(ctx, "events", []string{"id", "kind"}, rows, nil)
//	}
//
// The engine itself lives in pkg/core and depends only on the Executor
// capability; pkg/pgexec implements that capability over jackc/pgx.
package memgres
