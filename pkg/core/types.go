package core

import (
	"context"

	"github.com/memgres/memgres/pkg/sqlgen"
)

// Row is a single record keyed by column name.
type Row = sqlgen.Row

// Result is the materialized outcome of one statement: column names in
// wire order, row values in the same order, and the affected-row count
// reported by the server.
type Result struct {
	Columns []string
	Rows    [][]any
	Count   int64
}

// Maps converts the positional rows into column-keyed maps.
func (r *Result) Maps() []Row {
	out := make([]Row, len(r.Rows))
	for i, vals := range r.Rows {
		m := make(Row, len(r.Columns))
		for j, col := range r.Columns {
			if j < len(vals) {
				m[col] = vals[j]
			}
		}
		out[i] = m
	}
	return out
}

// Conn is a single dedicated database connection. Transactions and
// server-side cursors run on a Conn via literal BEGIN/COMMIT/DECLARE/FETCH
// statements; Release returns it to its pool.
type Conn interface {
	Execute(ctx context.Context, sql string, args ...any) (*Result, error)
	Release()
}

// Executor is the database capability the engine consumes. It hides the
// pool: Execute runs a statement on any available connection, while
// AcquireExclusive pins one connection for multi-statement work.
type Executor interface {
	Execute(ctx context.Context, sql string, args ...any) (*Result, error)
	AcquireExclusive(ctx context.Context) (Conn, error)
}

// TxSetupFunc runs inside a freshly opened transaction before any data
// statement, e.g. to set a per-project search path.
type TxSetupFunc func(ctx context.Context, conn Conn) error
