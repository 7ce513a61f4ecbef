package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSlidingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	sw := NewSlidingWindow(3, time.Second)
	sw.now = clock.Now

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow())
		clock.Advance(100 * time.Millisecond)
	}
	assert.False(t, sw.Allow())

	clock.Advance(800 * time.Millisecond)
	assert.True(t, sw.Allow())

	sw.Reset()
	assert.Empty(t, sw.requests)
}

func TestWaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitReturnsWhenAllowed(t *testing.T) {
	sw := NewSlidingWindow(2, time.Minute)
	require.NoError(t, sw.Wait(context.Background()))
	require.NoError(t, sw.Wait(context.Background()))
	assert.False(t, sw.Allow())
}

func TestPerMinute(t *testing.T) {
	unlimited := PerMinute(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}
	assert.NoError(t, unlimited.Wait(context.Background()))

	limited := PerMinute(2)
	assert.True(t, limited.Allow())
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())
}
