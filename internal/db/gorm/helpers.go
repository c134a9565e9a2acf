package gorm

// DefaultBatchSize is the number of rows written per statement by bulk operations.
const DefaultBatchSize = 500

// MaxTopLessonsLimit caps ranking queries.
const MaxTopLessonsLimit = 100

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// clampLimit bounds a caller-supplied limit to [1, MaxTopLessonsLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	if limit > MaxTopLessonsLimit {
		return MaxTopLessonsLimit
	}
	return limit
}
