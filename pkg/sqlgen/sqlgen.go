// Package sqlgen builds multi-row SQL statements for batch execution.
//
// All builders are pure: they take a table description and a slice of row
// maps and return the statement text plus the flattened argument list. No
// builder ever touches a connection. Placeholders are numbered row by row
// ($1..$m for the first row, $m+1..$2m for the second, and so on), and every
// statement ends with a RETURNING clause so callers can count the rows that
// were actually written.
package sqlgen

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Row is a single item keyed by column name.
type Row = map[string]any

// ColumnType is an explicit SQL type tag, e.g. "uuid", "text", "jsonb",
// "timestamptz", "double precision", "vector(1536)", "text[]".
type ColumnType string

// Schema describes a table for statements that need more than its name:
// the key column joined on by multi-row updates and the per-column type
// tags used to cast the first VALUES row.
type Schema struct {
	Table string
	Key   string
	Types map[string]ColumnType
}

// ConflictAction selects what an insert does when it hits a conflict.
type ConflictAction int

const (
	// ConflictIgnore skips conflicting rows (DO NOTHING).
	ConflictIgnore ConflictAction = iota
	// ConflictUpdate overwrites the listed columns from the incoming row
	// (DO UPDATE SET col = EXCLUDED.col).
	ConflictUpdate
)

// ConflictClause describes the ON CONFLICT behavior of an insert.
type ConflictClause struct {
	Columns       []string
	Action        ConflictAction
	UpdateColumns []string
}

// Sentinel errors returned by the builders.
var (
	ErrEmptyBatch    = errors.New("empty batch")
	ErrNoColumns     = errors.New("no columns")
	ErrBadIdentifier = errors.New("invalid identifier")
	ErrMissingType   = errors.New("missing column type tag")
)

// identPattern accepts plain SQL identifiers, optionally schema-qualified.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// CheckIdentifier reports whether name is a plain SQL identifier, optionally
// schema-qualified. Names are interpolated into statement text, so anything
// else is rejected.
func CheckIdentifier(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return nil
}

func checkColumns(columns []string) error {
	if len(columns) == 0 {
		return ErrNoColumns
	}
	for _, c := range columns {
		if strings.Contains(c, ".") {
			return fmt.Errorf("%w: %q", ErrBadIdentifier, c)
		}
		if err := CheckIdentifier(c); err != nil {
			return err
		}
	}
	return nil
}

// Insert builds a multi-row INSERT for the given items. Each item
// contributes one VALUES row in column order; a column missing from an item
// becomes NULL. A non-nil conflict clause appends the matching ON CONFLICT
// form. The statement always ends with RETURNING *.
func Insert(table string, columns []string, items []Row, conflict *ConflictClause) (string, []any, error) {
	if len(items) == 0 {
		return "", nil, ErrEmptyBatch
	}
	if err := CheckIdentifier(table); err != nil {
		return "", nil, err
	}
	if err := checkColumns(columns); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(items)*len(columns))
	for row, item := range items {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col, name := range columns {
			if col > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(row*len(columns) + col + 1))
			args = append(args, item[name])
		}
		b.WriteByte(')')
	}

	if conflict != nil {
		clause, err := conflict.render()
		if err != nil {
			return "", nil, err
		}
		b.WriteString(clause)
	}
	b.WriteString(" RETURNING *")

	return b.String(), args, nil
}

func (c *ConflictClause) render() (string, error) {
	var b strings.Builder
	b.WriteString(" ON CONFLICT")
	if len(c.Columns) > 0 {
		for _, col := range c.Columns {
			if err := CheckIdentifier(col); err != nil {
				return "", err
			}
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(c.Columns, ", "))
		b.WriteByte(')')
	}
	switch c.Action {
	case ConflictIgnore:
		b.WriteString(" DO NOTHING")
	case ConflictUpdate:
		if len(c.UpdateColumns) == 0 {
			return "", fmt.Errorf("conflict update: %w", ErrNoColumns)
		}
		if len(c.Columns) == 0 {
			return "", fmt.Errorf("conflict update: %w: conflict target required", ErrBadIdentifier)
		}
		b.WriteString(" DO UPDATE SET ")
		for i, col := range c.UpdateColumns {
			if err := CheckIdentifier(col); err != nil {
				return "", err
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col)
			b.WriteString(" = EXCLUDED.")
			b.WriteString(col)
		}
	default:
		return "", fmt.Errorf("unknown conflict action %d", c.Action)
	}
	return b.String(), nil
}

// Update builds a single multi-row UPDATE joining the target table against
// a VALUES row set on the schema key column:
//
//	UPDATE t SET c = v.c, ... FROM (VALUES ...) AS v(key, c, ...)
//	WHERE t.key = v.key RETURNING *
//
// Each VALUES row is (key, columns...). The first row carries explicit
// ::type casts from schema.Types; PostgreSQL propagates those types to the
// remaining rows. Every referenced column, the key included, must have a
// type tag.
func Update(schema Schema, columns []string, items []Row) (string, []any, error) {
	if len(items) == 0 {
		return "", nil, ErrEmptyBatch
	}
	if err := CheckIdentifier(schema.Table); err != nil {
		return "", nil, err
	}
	if schema.Key == "" || strings.Contains(schema.Key, ".") {
		return "", nil, fmt.Errorf("%w: key %q", ErrBadIdentifier, schema.Key)
	}
	if err := CheckIdentifier(schema.Key); err != nil {
		return "", nil, err
	}
	if err := checkColumns(columns); err != nil {
		return "", nil, err
	}
	rowCols := append([]string{schema.Key}, columns...)
	for _, c := range rowCols {
		if _, ok := schema.Types[c]; !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrMissingType, c)
		}
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(schema.Table)
	b.WriteString(" SET ")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col)
		b.WriteString(" = v.")
		b.WriteString(col)
	}
	b.WriteString(" FROM (VALUES ")

	args := make([]any, 0, len(items)*len(rowCols))
	for row, item := range items {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col, name := range rowCols {
			if col > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(row*len(rowCols) + col + 1))
			if row == 0 {
				b.WriteString("::")
				b.WriteString(string(schema.Types[name]))
			}
			args = append(args, item[name])
		}
		b.WriteByte(')')
	}

	b.WriteString(") AS v(")
	b.WriteString(strings.Join(rowCols, ", "))
	b.WriteString(") WHERE ")
	b.WriteString(schema.Table)
	b.WriteByte('.')
	b.WriteString(schema.Key)
	b.WriteString(" = v.")
	b.WriteString(schema.Key)
	b.WriteString(" RETURNING *")

	return b.String(), args, nil
}

// Delete builds DELETE FROM t WHERE key IN ($1..$n) RETURNING *.
func Delete(table, keyColumn string, keys []any) (string, []any, error) {
	if len(keys) == 0 {
		return "", nil, ErrEmptyBatch
	}
	if err := CheckIdentifier(table); err != nil {
		return "", nil, err
	}
	if keyColumn == "" || strings.Contains(keyColumn, ".") {
		return "", nil, fmt.Errorf("%w: key %q", ErrBadIdentifier, keyColumn)
	}
	if err := CheckIdentifier(keyColumn); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(table)
	b.WriteString(" WHERE ")
	b.WriteString(keyColumn)
	b.WriteString(" IN (")
	for i := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i + 1))
	}
	b.WriteString(") RETURNING *")

	return b.String(), append([]any(nil), keys...), nil
}
