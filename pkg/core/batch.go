package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memgres/memgres/pkg/sqlgen"
)

// DefaultBatchSize is the chunk size batch operations use when none is set.
const DefaultBatchSize = 100

// BatchOptions controls a batch operation. A nil *BatchOptions means
// DefaultBatchOptions. In a hand-built value, a non-positive BatchSize,
// MaxAttempts, or RetryDelay falls back to its default, while the zero
// values of UseTransaction and ContinueOnError are taken literally.
type BatchOptions struct {
	// BatchSize is the number of items per generated statement.
	BatchSize int `json:"batchSize"`
	// UseTransaction runs all chunks on one connection inside a single
	// transaction.
	UseTransaction bool `json:"useTransaction"`
	// ContinueOnError keeps going after a failed chunk instead of
	// aborting the whole operation.
	ContinueOnError bool `json:"continueOnError"`
	// MaxAttempts is the total number of tries per chunk for transient
	// errors.
	MaxAttempts int `json:"maxAttempts"`
	// RetryDelay is the base backoff delay between tries.
	RetryDelay time.Duration `json:"retryDelay"`
}

// DefaultBatchOptions returns the stock options: chunks of 100, one
// transaction, fail-fast, 3 attempts starting at 100ms backoff.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		BatchSize:       DefaultBatchSize,
		UseTransaction:  true,
		ContinueOnError: false,
		MaxAttempts:     DefaultMaxAttempts,
		RetryDelay:      DefaultRetryDelay,
	}
}

func normalizeOptions(opts *BatchOptions) BatchOptions {
	if opts == nil {
		return DefaultBatchOptions()
	}
	o := *opts
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// BatchError records one failed chunk inside a BatchResult.
type BatchError struct {
	Chunk int
	Err   error
}

// Error implements the error interface.
func (e BatchError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Chunk, e.Err)
}

// Unwrap returns the underlying error.
func (e BatchError) Unwrap() error { return e.Err }

// MarshalJSON renders the chunk index and the error message.
func (e BatchError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Chunk int    `json:"chunk"`
		Error string `json:"error"`
	}{Chunk: e.Chunk, Error: e.Err.Error()})
}

// BatchResult reports what a batch operation did. TotalProcessed counts
// the items whose chunk was actually attempted; Successful and Failed
// split it by chunk outcome and always sum to it, so an operation aborted
// at the third of five chunks reports three chunks' worth of items, the
// first two Successful and the third Failed, and nothing for the chunks
// never attempted. Affected counts rows the executed statements returned,
// so an upsert that skipped conflicting rows shows Affected below
// Successful. Counters describe statement outcomes: when a transactional
// run aborts, the rollback also discards the rows behind Successful.
type BatchResult struct {
	TotalProcessed int           `json:"totalProcessed"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Affected       int64         `json:"affected"`
	Errors         []BatchError  `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// batchStmt is one chunk ready to execute.
type batchStmt struct {
	sql  string
	args []any
	size int
}

// BatchInsert inserts items into table in chunks of opts.BatchSize, one
// multi-row INSERT per chunk. Empty items returns an empty result and nil
// error without touching the database.
func (s *Store) BatchInsert(ctx context.Context, table string, columns []string, items []Row, opts *BatchOptions) (*BatchResult, error) {
	return s.batchWrite(ctx, "batch_insert", table, columns, items, nil, opts)
}

// BatchUpsert is BatchInsert with an ON CONFLICT clause: ConflictIgnore
// skips conflicting rows, ConflictUpdate overwrites the listed columns.
func (s *Store) BatchUpsert(ctx context.Context, table string, columns []string, items []Row, conflict sqlgen.ConflictClause, opts *BatchOptions) (*BatchResult, error) {
	return s.batchWrite(ctx, "batch_upsert", table, columns, items, &conflict, opts)
}

func (s *Store) batchWrite(ctx context.Context, op, table string, columns []string, items []Row, conflict *sqlgen.ConflictClause, opts *BatchOptions) (*BatchResult, error) {
	start := time.Now()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	o := normalizeOptions(opts)
	if len(items) == 0 {
		return emptyResult(start), nil
	}

	chunks, err := Chunk(items, o.BatchSize)
	if err != nil {
		return nil, wrapError(op, err)
	}
	stmts := make([]batchStmt, 0, len(chunks))
	for _, chunk := range chunks {
		sql, args, err := sqlgen.Insert(table, columns, chunk, conflict)
		if err != nil {
			return nil, wrapError(op, err)
		}
		stmts = append(stmts, batchStmt{sql: sql, args: args, size: len(chunk)})
	}
	return s.runBatch(ctx, op, stmts, len(items), o, start)
}

// BatchUpdate updates items in one multi-row statement per chunk, joining
// the table against a typed VALUES row set on schema.Key. Every item must
// carry the key; columns lists the columns to update.
func (s *Store) BatchUpdate(ctx context.Context, schema sqlgen.Schema, columns []string, items []Row, opts *BatchOptions) (*BatchResult, error) {
	const op = "batch_update"
	start := time.Now()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	o := normalizeOptions(opts)
	if len(items) == 0 {
		return emptyResult(start), nil
	}

	chunks, err := Chunk(items, o.BatchSize)
	if err != nil {
		return nil, wrapError(op, err)
	}
	stmts := make([]batchStmt, 0, len(chunks))
	for _, chunk := range chunks {
		sql, args, err := sqlgen.Update(schema, columns, chunk)
		if err != nil {
			return nil, wrapError(op, err)
		}
		stmts = append(stmts, batchStmt{sql: sql, args: args, size: len(chunk)})
	}
	return s.runBatch(ctx, op, stmts, len(items), o, start)
}

// BatchDelete deletes the rows whose keyColumn value is in keys, one
// DELETE ... IN (...) per chunk. Keys matching no row lower Affected but
// still count as Successful.
func (s *Store) BatchDelete(ctx context.Context, table, keyColumn string, keys []any, opts *BatchOptions) (*BatchResult, error) {
	const op = "batch_delete"
	start := time.Now()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	o := normalizeOptions(opts)
	if len(keys) == 0 {
		return emptyResult(start), nil
	}

	chunks, err := Chunk(keys, o.BatchSize)
	if err != nil {
		return nil, wrapError(op, err)
	}
	stmts := make([]batchStmt, 0, len(chunks))
	for _, chunk := range chunks {
		sql, args, err := sqlgen.Delete(table, keyColumn, chunk)
		if err != nil {
			return nil, wrapError(op, err)
		}
		stmts = append(stmts, batchStmt{sql: sql, args: args, size: len(chunk)})
	}
	return s.runBatch(ctx, op, stmts, len(keys), o, start)
}

func emptyResult(start time.Time) *BatchResult {
	return &BatchResult{Duration: time.Since(start)}
}

// runBatch executes the prepared chunk statements under the options.
// Failed chunks land in the result's Errors; with ContinueOnError they are
// skipped over, otherwise the first one aborts the operation and its error
// comes back alongside the result. Infrastructure failures (connection,
// BEGIN, setup hook, COMMIT) abort the same way. The result is returned in
// every case so the counters stay observable after an abort.
func (s *Store) runBatch(ctx context.Context, op string, stmts []batchStmt, total int, o BatchOptions, start time.Time) (res *BatchResult, err error) {
	res = &BatchResult{}
	defer func() {
		if res != nil {
			res.Duration = time.Since(start)
		}
	}()

	policy := RetryPolicy{
		MaxAttempts: o.MaxAttempts,
		Delay:       o.RetryDelay,
		Classifier:  s.classifier,
		Logger:      s.log,
	}

	s.log.Debug("batch started",
		"op", op, "items", total, "chunks", len(stmts),
		"tx", o.UseTransaction, "continueOnError", o.ContinueOnError)

	run := s.runBatchDirect
	if o.UseTransaction {
		run = s.runBatchTx
	}
	if err := run(ctx, op, stmts, policy, o, res); err != nil {
		return res, wrapError(op, err)
	}

	s.log.Debug("batch finished",
		"op", op, "successful", res.Successful, "failed", res.Failed,
		"affected", res.Affected)
	return res, nil
}

// runBatchTx runs every chunk on one exclusive connection inside a single
// transaction. Fail-fast rolls the whole transaction back; with
// ContinueOnError the surviving chunks commit together.
func (s *Store) runBatchTx(ctx context.Context, op string, stmts []batchStmt, policy RetryPolicy, o BatchOptions, res *BatchResult) error {
	conn, err := s.exec.AcquireExclusive(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Execute(ctx, "BEGIN"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			// The original ctx may already be cancelled; the rollback
			// still has to reach the server.
			rbCtx := context.WithoutCancel(ctx)
			if _, rbErr := conn.Execute(rbCtx, "ROLLBACK"); rbErr != nil {
				s.log.Error("rollback failed", "op", op, "error", rbErr)
			}
		}
	}()

	if s.txSetup != nil {
		if err := s.txSetup(ctx, conn); err != nil {
			return err
		}
	}

	for i, st := range stmts {
		res.TotalProcessed += st.size
		result, err := WithRetry(ctx, policy, op, func(ctx context.Context) (*Result, error) {
			return conn.Execute(ctx, st.sql, st.args...)
		})
		if err != nil {
			s.log.Warn("chunk failed", "op", op, "chunk", i, "size", st.size, "error", err)
			res.Errors = append(res.Errors, BatchError{Chunk: i, Err: err})
			res.Failed += st.size
			if !o.ContinueOnError {
				// Deferred rollback fires; the chunks after this one are
				// never attempted and never counted.
				return err
			}
			continue
		}
		res.Successful += st.size
		res.Affected += result.Count
	}

	if _, err := conn.Execute(ctx, "COMMIT"); err != nil {
		return err
	}
	committed = true
	return nil
}

// runBatchDirect runs chunks on the shared pool without a transaction.
// Chunks already written stay written even when a later chunk fails.
func (s *Store) runBatchDirect(ctx context.Context, op string, stmts []batchStmt, policy RetryPolicy, o BatchOptions, res *BatchResult) error {
	for i, st := range stmts {
		res.TotalProcessed += st.size
		result, err := WithRetry(ctx, policy, op, func(ctx context.Context) (*Result, error) {
			return s.exec.Execute(ctx, st.sql, st.args...)
		})
		if err != nil {
			s.log.Warn("chunk failed", "op", op, "chunk", i, "size", st.size, "error", err)
			res.Errors = append(res.Errors, BatchError{Chunk: i, Err: err})
			res.Failed += st.size
			if !o.ContinueOnError {
				return err
			}
			continue
		}
		res.Successful += st.size
		res.Affected += result.Count
	}
	return nil
}
