package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "request %d within burst", i)
	}
	assert.False(t, l.Allow())
}

func TestLimiterRefills(t *testing.T) {
	l := New(Config{RequestsPerSecond: 100, Burst: 1})

	require.True(t, l.Allow())
	require.False(t, l.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow())
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	require.True(t, l.Allow()) // drain the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerIsolatesKeys(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 1, Burst: 1})

	a := m.GetLimiter("endpoint-a")
	b := m.GetLimiter("endpoint-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.GetLimiter("endpoint-a"))

	// Draining one key leaves the other untouched.
	require.True(t, a.Allow())
	require.False(t, a.Allow())
	assert.True(t, b.Allow())
}
