package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonotonic(t *testing.T) {
	g := Int64{}
	require.Equal(t, int64(0), g.Last())
	require.Equal(t, int64(1), g.Next())
	require.Equal(t, int64(2), g.Next())
	require.Equal(t, int64(2), g.Last())
}

func TestUniqueAcrossGoroutines(t *testing.T) {
	g := Int64{}
	var lock sync.Mutex
	seen := map[int64]bool{}
	wg := sync.WaitGroup{}
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := g.Next()
				lock.Lock()
				seen[id] = true
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 8000)
}
