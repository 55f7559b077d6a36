// Package core provides the batch data-access engine for memgres.
//
// The engine consumes an Executor capability (see pkg/pgexec for the
// pgx-backed implementation) and layers batch semantics on top of it:
//
//   - Batch writes: BatchInsert, BatchUpsert, BatchUpdate, and BatchDelete
//     chunk their input and execute one multi-row statement per chunk,
//     with per-chunk retry of transient errors, optional single-transaction
//     execution, and exact item accounting in BatchResult.
//   - Chunk and RunConcurrent: pure chunking and a concurrency-bounded
//     batch runner that preserves input order.
//   - WithRetry: exponential-backoff retry driven by a pluggable
//     Classifier strategy.
//   - GetPage: keyset (cursor) pagination with opaque reversible tokens
//     and statistical total estimates.
//   - StreamQuery: constant-memory iteration of large results through a
//     server-side cursor, with an explicit Close.
//
// Multi-project isolation plugs in through Config.TxSetup, which runs at
// the start of every transaction and stream (see pkg/project).
package core
