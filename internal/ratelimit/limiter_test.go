package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client), mr
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, "1.2.3.4", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other identifiers have their own window.
	ok, err = l.Allow(ctx, "5.6.7.8", rule)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, time.Minute, mr.TTL("rl:test:1.2.3.4"))
}

func TestAllow_WindowResets(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RulePair.Limit; i++ {
		ok, _ := l.Allow(ctx, "s1", RulePair)
		require.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "s1", RulePair)
	require.False(t, ok)

	mr.FastForward(RulePair.Window + time.Second)

	ok, err := l.Allow(ctx, "s1", RulePair)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	n, err := l.Remaining(ctx, "ip", RuleStart)
	require.NoError(t, err)
	assert.Equal(t, RuleStart.Limit, n)

	_, _ = l.Allow(ctx, "ip", RuleStart)
	_, _ = l.Allow(ctx, "ip", RuleStart)
	n, err = l.Remaining(ctx, "ip", RuleStart)
	require.NoError(t, err)
	assert.Equal(t, RuleStart.Limit-2, n)
}

func TestAllow_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	ok, err := NewLimiter(client).Allow(context.Background(), "ip", RuleStart)
	assert.Error(t, err)
	assert.True(t, ok)
}
