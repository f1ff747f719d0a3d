package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLimiterExhaustsCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lim := New(client, 2, 1, time.Minute)

	allowed, _, err := lim.AllowEnqueue(ctx, "proj-a")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = lim.AllowEnqueue(ctx, "proj-a")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, tokens, err := lim.AllowEnqueue(ctx, "proj-a")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Less(t, tokens, 1.0)

	// Buckets are independent per project.
	allowed, _, err = lim.AllowEnqueue(ctx, "proj-b")
	require.NoError(t, err)
	require.True(t, allowed)

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script takes its clock from Go's time.Now(), not Redis.
}
