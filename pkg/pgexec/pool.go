// Package pgexec implements the core.Executor capability over a
// jackc/pgx connection pool.
//
// It materializes query results into core.Result values, hands out
// exclusive connections for transactions and server-side cursors, and
// ships the production Classifier that decides which PostgreSQL errors
// are transient.
package pgexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memgres/memgres/pkg/core"
)

// Pool adapts a pgxpool.Pool to the core.Executor capability.
type Pool struct {
	pool *pgxpool.Pool
}

// New connects a pool for the DSN and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// NewWithPool wraps an existing pgx pool. The caller keeps ownership of
// the pool's lifecycle.
func NewWithPool(pool *pgxpool.Pool) *Pool {
	return &Pool{pool: pool}
}

// Execute runs one statement on any pooled connection.
func (p *Pool) Execute(ctx context.Context, sql string, args ...any) (*core.Result, error) {
	return execute(ctx, p.pool, sql, args)
}

// AcquireExclusive pins one connection for multi-statement work. The
// caller must Release it.
func (p *Pool) AcquireExclusive(ctx context.Context) (core.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	return &conn{c: c}, nil
}

// Close closes the underlying pool and waits for checked-out connections
// to be released.
func (p *Pool) Close() {
	p.pool.Close()
}

// Stat reports pool counters for observability.
func (p *Pool) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// conn is an acquired pool connection satisfying core.Conn.
type conn struct {
	c *pgxpool.Conn
}

func (c *conn) Execute(ctx context.Context, sql string, args ...any) (*core.Result, error) {
	return execute(ctx, c.c, sql, args)
}

func (c *conn) Release() {
	c.c.Release()
}

// querier covers both pgxpool.Pool and pgxpool.Conn.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func execute(ctx context.Context, q querier, sql string, args []any) (*core.Result, error) {
	// DECLARE is a utility command, and utility commands cannot carry
	// extended-protocol bind parameters. pgx interpolates them client-side
	// in simple protocol mode instead.
	if len(args) > 0 && isUtility(sql) {
		args = append([]any{pgx.QueryExecModeSimpleProtocol}, args...)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}

	count := rows.CommandTag().RowsAffected()
	if count == 0 && len(out) > 0 {
		count = int64(len(out))
	}
	return &core.Result{Columns: columns, Rows: out, Count: count}, nil
}

func isUtility(sql string) bool {
	head := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(head, "DECLARE ")
}
