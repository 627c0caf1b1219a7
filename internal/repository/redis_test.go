package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPresenceRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisPresenceRepository(client, time.Hour)
	ctx := context.Background()

	t.Run("ConnectAndDisconnect", func(t *testing.T) {
		online, err := repo.IsOnline(ctx, 7)
		require.NoError(t, err)
		assert.False(t, online)

		require.NoError(t, repo.AddConnection(ctx, 7, "conn-a"))
		require.NoError(t, repo.AddConnection(ctx, 7, "conn-b"))
		online, err = repo.IsOnline(ctx, 7)
		require.NoError(t, err)
		assert.True(t, online)

		members, err := s.Members("presence:7")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, members)
		assert.Equal(t, time.Hour, s.TTL("presence:7"))

		require.NoError(t, repo.RemoveConnection(ctx, 7, "conn-a"))
		online, _ = repo.IsOnline(ctx, 7)
		assert.True(t, online, "second tab still connected")

		require.NoError(t, repo.RemoveConnection(ctx, 7, "conn-b"))
		online, _ = repo.IsOnline(ctx, 7)
		assert.False(t, online)
	})

	t.Run("StalePresenceExpires", func(t *testing.T) {
		require.NoError(t, repo.AddConnection(ctx, 8, "conn"))
		s.FastForward(time.Hour + time.Second)
		online, err := repo.IsOnline(ctx, 8)
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("RateLimit", func(t *testing.T) {
		key := "book:789"
		limit := 2
		window := time.Second

		// First request
		allowed, err := repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Second request
		allowed, err = repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Third request (exceeds limit)
		allowed, err = repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		// Wait for window to expire
		s.FastForward(window + time.Millisecond)

		// Should be allowed again
		allowed, err = repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisPresenceRepository(nil, 0)
		assert.Equal(t, DefaultPresenceTTL, repo.ttl)
		_, err := repo.IsOnline(ctx, 123)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("ServerDown", func(t *testing.T) {
		down, err := miniredis.Run()
		require.NoError(t, err)
		c := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
		defer c.Close()
		down.Close()

		err = NewRedisPresenceRepository(c, time.Hour).AddConnection(ctx, 1, "x")
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		err := Ping(ctx, client)
		assert.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		err := Close(client)
		assert.NoError(t, err)
	})
}
