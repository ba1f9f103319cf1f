package store

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize items covering [0, total).
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty and repeated values, keeping first occurrences
// in order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// HasAnyType reports whether types holds one of the filter classes. An
// empty filter matches everything.
func HasAnyType(types map[string]int, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if _, ok := types[t]; ok {
			return true
		}
	}
	return false
}
