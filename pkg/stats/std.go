package stats

import "github.com/cyclopcam/vigil/pkg/gen"

// Returns the mean of the given samples, or zero if there are no samples.
func Mean[T gen.Float | gen.Integer](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}
