// Package export drains a row stream into NDJSON, a JSON array, or CSV.
//
// Writers pull one row at a time, so memory stays bounded by the stream's
// fetch size no matter how large the result set is. The stream itself is
// not closed here; the caller owns its lifecycle.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format selects an output encoding.
type Format string

const (
	// FormatNDJSON writes one JSON object per line.
	FormatNDJSON Format = "ndjson"
	// FormatJSON writes a single JSON array of objects.
	FormatJSON Format = "json"
	// FormatCSV writes RFC 4180 CSV with a header row.
	FormatCSV Format = "csv"
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown export format %q", name)
	}
}

// RowSource is the pull iterator an export drains. core.RowStream
// satisfies it.
type RowSource interface {
	Next() bool
	Columns() []string
	Values() []any
	Err() error
}

// Write drains src into w using the format and returns the number of rows
// written.
func Write(w io.Writer, src RowSource, format Format) (int64, error) {
	switch format {
	case FormatNDJSON:
		return writeNDJSON(w, src)
	case FormatJSON:
		return writeJSONArray(w, src)
	case FormatCSV:
		return writeCSV(w, src)
	default:
		return 0, fmt.Errorf("unknown export format %q", format)
	}
}

func rowObject(columns []string, values []any) map[string]any {
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(values) {
			m[col] = values[i]
		}
	}
	return m
}

func writeNDJSON(w io.Writer, src RowSource) (int64, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	var n int64
	for src.Next() {
		if err := enc.Encode(rowObject(src.Columns(), src.Values())); err != nil {
			return n, fmt.Errorf("encode row: %w", err)
		}
		n++
	}
	if err := src.Err(); err != nil {
		return n, err
	}
	return n, bw.Flush()
}

func writeJSONArray(w io.Writer, src RowSource) (int64, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return 0, err
	}

	var n int64
	for src.Next() {
		raw, err := json.Marshal(rowObject(src.Columns(), src.Values()))
		if err != nil {
			return n, fmt.Errorf("encode row: %w", err)
		}
		if n > 0 {
			if err := bw.WriteByte(','); err != nil {
				return n, err
			}
		}
		if _, err := bw.Write(raw); err != nil {
			return n, err
		}
		n++
	}
	if err := src.Err(); err != nil {
		return n, err
	}
	if _, err := bw.WriteString("]\n"); err != nil {
		return n, err
	}
	return n, bw.Flush()
}

func writeCSV(w io.Writer, src RowSource) (int64, error) {
	cw := csv.NewWriter(w)

	var n int64
	wroteHeader := false
	record := []string(nil)
	for src.Next() {
		columns := src.Columns()
		if !wroteHeader {
			if err := cw.Write(columns); err != nil {
				return n, err
			}
			wroteHeader = true
			record = make([]string, len(columns))
		}
		values := src.Values()
		for i := range record {
			if i < len(values) {
				record[i] = formatField(values[i])
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	if err := src.Err(); err != nil {
		return n, err
	}
	if !wroteHeader && len(src.Columns()) > 0 {
		if err := cw.Write(src.Columns()); err != nil {
			return n, err
		}
	}
	cw.Flush()
	return n, cw.Error()
}

// formatField renders one value as a CSV cell. Quoting and escaping are
// csv.Writer's job; this only picks the text.
func formatField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}
