package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	require.InDelta(t, 5.0, Mean([]float32{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	require.InDelta(t, 2.5, Mean([]int{1, 2, 3, 4}), 1e-9)
	require.Equal(t, 0.0, Mean([]int{}))
}
