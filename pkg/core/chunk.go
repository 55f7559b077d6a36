package core

// Chunk splits items into consecutive slices of at most size elements.
// Order is preserved and concatenating the chunks reproduces the input:
// len(chunks) == ceil(len(items)/size), every chunk but the last has
// exactly size elements. Empty input yields no chunks and no error.
func Chunk[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if len(items) == 0 {
		return nil, nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks, nil
}
