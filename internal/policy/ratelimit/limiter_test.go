package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWait(t *testing.T) {
	t.Parallel()

	// 600 searches per minute = one every 100ms.
	l := New(Config{SearchesPerMinute: 600, Burst: 1, Site: "https://estatus.example.test"})
	require.Equal(t, 100*time.Millisecond, l.Interval())

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{SearchesPerMinute: 1, Burst: 1})
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.Zero(t, l.Interval())
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}

	var unset *Limiter
	require.NoError(t, unset.Wait(context.Background()))
	require.Zero(t, unset.Interval())
}
