package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultStreamBatchSize is the FETCH size streams use when none is set.
const DefaultStreamBatchSize = 500

// StreamOptions controls a streaming query.
type StreamOptions struct {
	// BatchSize is the number of rows fetched from the server-side cursor
	// per round trip. Memory use of a stream is bounded by one batch.
	BatchSize int
}

// RowStream iterates a query through a server-side cursor without ever
// materializing the full result. Usage follows sql.Rows:
//
//	stream, err := store.StreamQuery(ctx, query, args, nil)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    row := stream.Row()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// The stream holds an exclusive connection and an open transaction until
// Close, so Close must always run, including on early exit.
type RowStream struct {
	ctx       context.Context
	conn      Conn
	log       Logger
	name      string
	batchSize int

	columns []string
	buf     [][]any
	pos     int
	cur     []any
	done    bool
	closed  bool
	err     error
}

// StreamQuery opens a server-side cursor for the query and returns a
// pull-based iterator over its rows. The cursor lives inside a transaction
// on an exclusive connection; the store's setup hook runs first, then
// DECLARE, then one FETCH per BatchSize rows as the caller advances.
func (s *Store) StreamQuery(ctx context.Context, query string, args []any, opts *StreamOptions) (*RowStream, error) {
	const op = "stream_query"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	batchSize := DefaultStreamBatchSize
	if opts != nil && opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}

	conn, err := s.exec.AcquireExclusive(ctx)
	if err != nil {
		return nil, wrapError(op, err)
	}
	ok := false
	inTx := false
	defer func() {
		if ok {
			return
		}
		if inTx {
			rbCtx := context.WithoutCancel(ctx)
			if _, rbErr := conn.Execute(rbCtx, "ROLLBACK"); rbErr != nil {
				s.log.Error("rollback failed", "op", op, "error", rbErr)
			}
		}
		conn.Release()
	}()

	if _, err := conn.Execute(ctx, "BEGIN"); err != nil {
		return nil, wrapError(op, err)
	}
	inTx = true

	if s.txSetup != nil {
		if err := s.txSetup(ctx, conn); err != nil {
			return nil, wrapError(op, err)
		}
	}

	name := "memgres_cur_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	declare := fmt.Sprintf("DECLARE %s CURSOR FOR %s", name, query)
	if _, err := conn.Execute(ctx, declare, args...); err != nil {
		return nil, wrapError(op, err)
	}

	stream := &RowStream{
		ctx:       ctx,
		conn:      conn,
		log:       s.log,
		name:      name,
		batchSize: batchSize,
	}
	// First fetch runs eagerly so Columns is available before iteration.
	if err := stream.fetch(); err != nil {
		return nil, wrapError(op, err)
	}

	s.log.Debug("stream opened", "op", op, "cursor", name, "batchSize", batchSize)
	ok = true
	return stream, nil
}

func (st *RowStream) fetch() error {
	result, err := st.conn.Execute(st.ctx, fmt.Sprintf("FETCH %d FROM %s", st.batchSize, st.name))
	if err != nil {
		st.err = err
		return err
	}
	if st.columns == nil {
		st.columns = result.Columns
	}
	st.buf = result.Rows
	st.pos = 0
	if len(result.Rows) < st.batchSize {
		st.done = true
	}
	return nil
}

// Next advances to the next row, fetching another batch from the cursor
// when the buffer runs dry. It returns false at the end of the result set,
// after a fetch error, or once the stream is closed; check Err afterwards.
func (st *RowStream) Next() bool {
	if st.closed || st.err != nil {
		return false
	}
	for {
		if st.pos < len(st.buf) {
			st.cur = st.buf[st.pos]
			st.pos++
			return true
		}
		if st.done {
			return false
		}
		if err := st.fetch(); err != nil {
			return false
		}
	}
}

// Columns returns the result column names in wire order.
func (st *RowStream) Columns() []string {
	return st.columns
}

// Values returns the current row as positional values matching Columns.
func (st *RowStream) Values() []any {
	return st.cur
}

// Row returns the current row keyed by column name.
func (st *RowStream) Row() Row {
	row := make(Row, len(st.columns))
	for i, col := range st.columns {
		if i < len(st.cur) {
			row[col] = st.cur[i]
		}
	}
	return row
}

// Err returns the first error hit while iterating, if any.
func (st *RowStream) Err() error {
	return st.err
}

// Close closes the server-side cursor, ends the transaction, and releases
// the connection. It is safe to call early and more than once. After an
// iteration error the transaction rolls back instead of committing.
func (st *RowStream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true

	ctx := context.WithoutCancel(st.ctx)
	var firstErr error

	if _, err := st.conn.Execute(ctx, "CLOSE "+st.name); err != nil {
		firstErr = err
	}
	end := "COMMIT"
	if st.err != nil || firstErr != nil {
		end = "ROLLBACK"
	}
	if _, err := st.conn.Execute(ctx, end); err != nil && firstErr == nil {
		firstErr = err
	}
	st.conn.Release()

	if firstErr != nil {
		st.log.Error("stream close failed", "cursor", st.name, "error", firstErr)
		return wrapError("stream_close", firstErr)
	}
	return nil
}
