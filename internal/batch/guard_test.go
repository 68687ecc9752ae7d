package batch

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardAdmitsOneHolder(t *testing.T) {
	t.Parallel()

	var g Guard
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), admitted.Load())
	require.True(t, g.Busy())
	g.Release()
	require.False(t, g.Busy())
	require.True(t, g.TryAcquire())
}
