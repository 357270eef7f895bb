package deduper

// BreakIntoBatches splits items into consecutive slices of at most size
// elements. The last batch holds the remainder.
func BreakIntoBatches[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}

	if size <= 0 {
		size = len(items)
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}

	return batches
}
