package gen

import "math/bits"

// NextPowerOf2 returns the smallest power of 2 that is >= n.
// Values of n below 1 return 1.
func NextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
