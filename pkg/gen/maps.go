package gen

// CopyMap returns a shallow copy of m. A nil map produces an empty, non-nil map.
func CopyMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// SumValues adds up every value in m
func SumValues[K comparable, V Integer | Float](m map[K]V) V {
	var total V
	for _, v := range m {
		total += v
	}
	return total
}
