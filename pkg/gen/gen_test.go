package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextPowerOf2(t *testing.T) {
	require.Equal(t, 1, NextPowerOf2(0))
	require.Equal(t, 1, NextPowerOf2(1))
	require.Equal(t, 2, NextPowerOf2(2))
	require.Equal(t, 4, NextPowerOf2(3))
	require.Equal(t, 8, NextPowerOf2(5))
	require.Equal(t, 32, NextPowerOf2(30))
	require.Equal(t, 64, NextPowerOf2(64))
}

func TestMaps(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	require.Equal(t, 6, SumValues(m))

	c := CopyMap(m)
	c["a"] = 100
	require.Equal(t, 1, m["a"])
	require.NotNil(t, CopyMap[string, int](nil))
}

func TestDeleteFromSliceUnordered(t *testing.T) {
	s := []int{1, 2, 3, 4}
	s = DeleteFromSliceUnordered(s, 1)
	require.Equal(t, []int{1, 4, 3}, s)
	s = DeleteFromSliceUnordered(s, 2)
	require.Equal(t, []int{1, 4}, s)
}
