package core

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/memgres/memgres/internal/encoding"
	"github.com/memgres/memgres/pkg/sqlgen"
)

// DefaultPageSize is used when a PageRequest does not set one.
const DefaultPageSize = 50

// PageRequest describes one page of a keyset walk over a table.
//
// The first request sets Descending for the walk direction; every later
// request passes a cursor from the previous result, which carries both the
// boundary key and the direction. Filter is an optional WHERE fragment
// with $1-based placeholders bound from FilterArgs.
type PageRequest struct {
	Table      string
	KeyColumn  string
	Columns    []string
	PageSize   int
	Cursor     string
	Descending bool
	Filter     string
	FilterArgs []any
}

// PageResult is one page of rows plus the cursors to continue the walk.
// NextCursor continues in the walk direction and is set iff HasMore;
// PrevCursor walks back from the first row and is set iff the request
// carried a cursor. TotalEstimate is the table's statistical row count,
// not an exact COUNT(*).
type PageResult struct {
	Items         []Row  `json:"items"`
	HasMore       bool   `json:"hasMore"`
	NextCursor    string `json:"nextCursor,omitempty"`
	PrevCursor    string `json:"prevCursor,omitempty"`
	TotalEstimate int64  `json:"totalEstimate"`
	PageSize      int    `json:"pageSize"`
}

// GetPage fetches one page using keyset pagination: PageSize+1 rows are
// requested, the extra row only decides HasMore, and page boundaries use
// strict inequality against the cursor key. No OFFSET is ever emitted, so
// page cost does not grow with page number.
func (s *Store) GetPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	const op = "get_page"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if err := sqlgen.CheckIdentifier(req.Table); err != nil {
		return nil, wrapError(op, err)
	}
	if req.KeyColumn == "" || strings.Contains(req.KeyColumn, ".") {
		return nil, wrapError(op, fmt.Errorf("%w: key column %q", sqlgen.ErrBadIdentifier, req.KeyColumn))
	}
	if err := sqlgen.CheckIdentifier(req.KeyColumn); err != nil {
		return nil, wrapError(op, err)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	desc := req.Descending
	var boundary any
	haveBoundary := false
	if req.Cursor != "" {
		c, err := encoding.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, wrapError(op, fmt.Errorf("%w: %v", ErrInvalidCursor, err))
		}
		boundary = c.Key
		desc = c.Desc
		haveBoundary = true
	}

	projection := "*"
	if len(req.Columns) > 0 {
		for _, col := range req.Columns {
			if err := sqlgen.CheckIdentifier(col); err != nil {
				return nil, wrapError(op, err)
			}
		}
		projection = strings.Join(req.Columns, ", ")
	}

	var b strings.Builder
	args := append([]any(nil), req.FilterArgs...)
	fmt.Fprintf(&b, "SELECT %s FROM %s", projection, req.Table)
	switch {
	case req.Filter != "" && haveBoundary:
		fmt.Fprintf(&b, " WHERE (%s) AND %s %s $%d",
			req.Filter, req.KeyColumn, cmpOp(desc), len(args)+1)
		args = append(args, boundary)
	case req.Filter != "":
		fmt.Fprintf(&b, " WHERE (%s)", req.Filter)
	case haveBoundary:
		fmt.Fprintf(&b, " WHERE %s %s $%d", req.KeyColumn, cmpOp(desc), len(args)+1)
		args = append(args, boundary)
	}
	fmt.Fprintf(&b, " ORDER BY %s %s LIMIT %d", req.KeyColumn, orderDir(desc), pageSize+1)

	result, err := s.exec.Execute(ctx, b.String(), args...)
	if err != nil {
		return nil, wrapError(op, err)
	}

	items := result.Maps()
	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}

	page := &PageResult{
		Items:    items,
		HasMore:  hasMore,
		PageSize: pageSize,
	}
	if hasMore {
		token, err := encoding.EncodeCursor(encoding.Cursor{
			Key:  items[len(items)-1][req.KeyColumn],
			Desc: desc,
		})
		if err != nil {
			return nil, wrapError(op, err)
		}
		page.NextCursor = token
	}
	if haveBoundary && len(items) > 0 {
		token, err := encoding.EncodeCursor(encoding.Cursor{
			Key:  items[0][req.KeyColumn],
			Desc: !desc,
		})
		if err != nil {
			return nil, wrapError(op, err)
		}
		page.PrevCursor = token
	}

	estimate, err := s.EstimateCount(ctx, req.Table)
	if err != nil {
		return nil, wrapError(op, err)
	}
	page.TotalEstimate = estimate

	return page, nil
}

func cmpOp(desc bool) string {
	if desc {
		return "<"
	}
	return ">"
}

func orderDir(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// EstimateCount returns the planner's row-count estimate for a table from
// pg_class.reltuples. The estimate is refreshed by autovacuum/ANALYZE and
// costs O(1); tables never analyzed report 0.
func (s *Store) EstimateCount(ctx context.Context, table string) (int64, error) {
	const op = "estimate_count"
	if err := s.checkOpen(op); err != nil {
		return 0, err
	}
	if err := sqlgen.CheckIdentifier(table); err != nil {
		return 0, wrapError(op, err)
	}
	result, err := s.exec.Execute(ctx,
		"SELECT reltuples::bigint FROM pg_class WHERE oid = to_regclass($1)", table)
	if err != nil {
		return 0, wrapError(op, err)
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, nil
	}
	n, ok := result.Rows[0][0].(int64)
	if !ok || n < 0 {
		return 0, nil
	}
	return n, nil
}

// PaginatedResponse is a PageResult shaped for an HTTP payload, with the
// cursors already baked into next/prev URLs.
type PaginatedResponse struct {
	Items         []Row  `json:"items"`
	PageSize      int    `json:"pageSize"`
	HasMore       bool   `json:"hasMore"`
	TotalEstimate int64  `json:"totalEstimate"`
	NextURL       string `json:"nextUrl,omitempty"`
	PrevURL       string `json:"prevUrl,omitempty"`
}

// Envelope wraps the page for transport, building NextURL/PrevURL from the
// base URL plus cursor and pageSize query parameters.
func (p *PageResult) Envelope(baseURL string) *PaginatedResponse {
	resp := &PaginatedResponse{
		Items:         p.Items,
		PageSize:      p.PageSize,
		HasMore:       p.HasMore,
		TotalEstimate: p.TotalEstimate,
	}
	if p.NextCursor != "" {
		resp.NextURL = pageURL(baseURL, p.NextCursor, p.PageSize)
	}
	if p.PrevCursor != "" {
		resp.PrevURL = pageURL(baseURL, p.PrevCursor, p.PageSize)
	}
	return resp
}

func pageURL(base, cursor string, pageSize int) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("cursor", cursor)
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String()
}
