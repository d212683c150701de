package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimingSet(t *testing.T) {
	s := NewTimingSet()
	s.AddSample("faces", 10*time.Millisecond)
	s.AddSample("faces", 20*time.Millisecond)
	s.AddSample("scene", 5*time.Millisecond)

	sum := s.Summary()
	require.Len(t, sum, 2)
	require.Equal(t, int64(2), sum["faces"].Samples)
	require.InDelta(t, 30.0, sum["faces"].TotalMS, 1e-6)
	require.InDelta(t, 15.0, sum["faces"].AverageMS, 1e-6)

	called := false
	s.Time("objects", func() { called = true })
	require.True(t, called)
	require.Equal(t, int64(1), s.Summary()["objects"].Samples)
}

func TestAccumulator(t *testing.T) {
	a := Accumulator{}
	require.Equal(t, 0.0, a.Average())
	a.AddSample(1)
	a.AddSample(3)
	require.Equal(t, 2.0, a.Average())
}
