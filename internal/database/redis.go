package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connections kept beside the persist workers' blocking reads, for refresh tokens,
// enqueues, publishes and health pings.
const queueSpareConns = 8

// RedisClients keeps blocking queue reads off the connection used for
// pub/sub and refresh tokens.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// queueOptions sizes the queue client so every worker can hold a BLPOP open
// without starving request handlers.
func queueOptions(base *redis.Options, workers int) *redis.Options {
	opt := *base
	opt.ClientName = "scribe-queue"
	opt.PoolSize = workers + queueSpareConns
	opt.MinIdleConns = workers
	// Lets BLPOP return as soon as the pool is stopped.
	opt.ContextTimeoutEnabled = true
	return &opt
}

func pubsubOptions(base *redis.Options) *redis.Options {
	opt := *base
	opt.ClientName = "scribe-pubsub"
	return &opt
}

func NewRedisClients(redisURL string, workers int) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queueClient := redis.NewClient(queueOptions(opt, workers))
	if err := queueClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (queue): %w", err)
	}

	pubsubClient := redis.NewClient(pubsubOptions(opt))
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Queue:  queueClient,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
}
