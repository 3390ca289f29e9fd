package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	l := newRateLimiter(3, 300*time.Millisecond)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowN(now, 1), "frame %d within burst", i)
	}
	assert.False(t, l.AllowN(now, 1), "burst exhausted")

	assert.True(t, l.AllowN(now.Add(100*time.Millisecond), 1), "one token back after interval/capacity")
	assert.False(t, l.AllowN(now.Add(100*time.Millisecond), 1))

	later := now.Add(time.Second)
	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowN(later, 1))
	}
	assert.False(t, l.AllowN(later, 1), "refill never exceeds capacity")
}

func TestRateLimiterDefaults(t *testing.T) {
	l := newRateLimiter(0, 0)
	assert.Equal(t, 1, l.Burst())
	assert.InDelta(t, 1.0, float64(l.Limit()), 0.0001)
}
