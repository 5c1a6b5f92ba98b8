package util

// Unpack assigns values to the given pointers in order and returns how many
// were assigned. Pointers without a matching value are left alone, values
// without a matching pointer are ignored.
func Unpack[T any](values []T, into ...*T) int {
	n := min(len(values), len(into))
	for i := 0; i < n; i++ {
		*into[i] = values[i]
	}
	return n
}
