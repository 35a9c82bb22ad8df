package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
		unlimited         bool
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "burst defaults to rate", requestsPerSecond: 5, burst: 0},
		{name: "unlimited", requestsPerSecond: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			require.NotNil(t, limiter)
			assert.Equal(t, tt.unlimited, limiter.Unlimited())
		})
	}
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "call %d should be allowed within burst", i)
	}
	assert.False(t, limiter.Allow(), "call should be limited after burst exhausted")

	// 10 calls/s refills one token every 100ms.
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(), "call should be allowed after refill")
}

func TestAllow_BurstDefaultsToRate(t *testing.T) {
	limiter := New(3, 0)

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow() {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestWait(t *testing.T) {
	limiter := New(10, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestWait_ContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestTokens(t *testing.T) {
	limiter := New(10, 10)
	assert.InDelta(t, 10, limiter.Tokens(), 1)

	for i := 0; i < 5; i++ {
		limiter.Allow()
	}
	assert.InDelta(t, 5, limiter.Tokens(), 1)
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		require.True(t, limiter.Allow(), "unlimited limiter rejected call %d", i)
	}
}

func TestPerConnection(t *testing.T) {
	assert.Nil(t, PerConnection(0, 10))

	factory := PerConnection(1, 1)
	require.NotNil(t, factory)

	a := factory()
	b := factory()

	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
	// Each connection has its own bucket.
	assert.True(t, b.Allow())
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(1_000_000, 1_000_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
