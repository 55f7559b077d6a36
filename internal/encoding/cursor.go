package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor is returned when a cursor token cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor token")

// Cursor is the payload behind an opaque pagination token: the boundary key
// value of the page edge and the scan direction.
type Cursor struct {
	Key  any  `json:"k"`
	Desc bool `json:"d,omitempty"`
}

// EncodeCursor packs a cursor into an opaque URL-safe token.
func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor unpacks a token produced by EncodeCursor. Integer keys come
// back as int64, not float64, so they can round-trip through query
// parameters without losing precision.
func DecodeCursor(token string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var c Cursor
	if err := dec.Decode(&c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if n, ok := c.Key.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			c.Key = i
		} else if f, err := n.Float64(); err == nil {
			c.Key = f
		} else {
			c.Key = n.String()
		}
	}
	return c, nil
}
