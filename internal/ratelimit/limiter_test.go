package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, zerolog.Nop()), mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "alice", rule)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := l.Allow(ctx, "alice", rule)
	require.NoError(t, err)
	require.False(t, ok)

	// Another identifier has its own window.
	ok, err = l.Allow(ctx, "bob", rule)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllowWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	ok, _ := l.Allow(ctx, "alice", rule)
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "alice", rule)
	require.False(t, ok)

	require.Equal(t, 10*time.Second, mr.TTL("rl:test:alice"))
	mr.FastForward(11 * time.Second)

	ok, _ = l.Allow(ctx, "alice", rule)
	require.True(t, ok)
}

func TestAllowFailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	ok, err := l.Allow(context.Background(), "alice", RuleConnect)
	require.Error(t, err)
	require.True(t, ok)
}
