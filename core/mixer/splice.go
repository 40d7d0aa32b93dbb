package mixer

// Splice returns s without index i, leaving s itself untouched. Callers
// keeping a side table indexed by track id apply the same Splice on removal.
func Splice[T any](s []T, i int) []T {
	if i < 0 || i >= len(s) {
		return s
	}
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}
