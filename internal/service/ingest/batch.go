package ingest

import "iter"

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 10

// Batches yields contiguous, order-preserving slices of at most size items.
// The last slice may be shorter; empty input yields nothing.
// A non-positive size falls back to DefaultBatchSize.
func Batches[T any](items []T, size int) iter.Seq[[]T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return func(yield func([]T) bool) {
		for i := 0; i < len(items); i += size {
			end := min(i+size, len(items))
			if !yield(items[i:end:end]) {
				return
			}
		}
	}
}

// BatchCount returns how many slices Batches yields for n items.
func BatchCount(n, size int) int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return (n + size - 1) / size
}
