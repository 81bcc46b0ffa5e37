package atomicutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBool(t *testing.T) {
	var b Bool
	require.False(t, b.Load())
	b.Store(true)
	require.True(t, b.Load())
	require.True(t, b.CompareAndSwap(true, false))
	require.False(t, b.Load())
	require.False(t, b.CompareAndSwap(true, false))
}

func TestTime(t *testing.T) {
	var tv Time
	require.True(t, tv.Load().IsZero())
	now := time.Unix(100, 0)
	tv.Store(now)
	require.Equal(t, now, tv.Load())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.Zero(t, d.Load())
	d.Store(5 * time.Second)
	require.Equal(t, 5*time.Second, d.Load())
}
