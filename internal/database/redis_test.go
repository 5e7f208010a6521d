package database

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestQueueOptions_SizedForWorkers(t *testing.T) {
	base := &redis.Options{Addr: "localhost:6379", PoolSize: 3}

	opt := queueOptions(base, 4)
	require.Equal(t, "scribe-queue", opt.ClientName)
	require.Equal(t, 4+queueSpareConns, opt.PoolSize)
	require.Equal(t, 4, opt.MinIdleConns)
	require.True(t, opt.ContextTimeoutEnabled)

	require.Equal(t, 3, base.PoolSize, "base options must not be modified")
	require.Equal(t, "scribe-pubsub", pubsubOptions(base).ClientName)
}

func TestNewRedisClients(t *testing.T) {
	mr := miniredis.RunT(t)

	clients, err := NewRedisClients("redis://"+mr.Addr(), 2)
	require.NoError(t, err)
	defer clients.Close()

	require.Equal(t, "scribe-queue", clients.Queue.Options().ClientName)
	require.Equal(t, "scribe-pubsub", clients.PubSub.Options().ClientName)
}

func TestNewRedisClients_BadURL(t *testing.T) {
	_, err := NewRedisClients("not a url", 1)
	require.Error(t, err)
}
