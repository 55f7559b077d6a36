// Package encoding holds the small codecs the engine needs: pgvector text
// literals and opaque pagination cursor tokens.
package encoding

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidVector is returned when a vector is nil or contains NaN/Inf.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector renders a float32 slice as a pgvector literal: "[0.1,0.2,0.3]".
func EncodeVector(vector []float32) (string, error) {
	if vector == nil {
		return "", ErrInvalidVector
	}
	var b strings.Builder
	b.Grow(len(vector)*10 + 2)
	b.WriteByte('[')
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return "", fmt.Errorf("%w: element %d", ErrInvalidVector, i)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

// DecodeVector parses a pgvector literal back into a float32 slice.
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, ErrInvalidVector
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	vector := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidVector, i, err)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}
