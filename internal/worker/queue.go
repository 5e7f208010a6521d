package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"scribe-backend/internal/models"
)

// PersistQueue is the Redis list generated content waits on before it is saved.
const PersistQueue = "queue:content-persist"

// UpdatesChannel is the pub/sub channel carrying notifications for userID.
func UpdatesChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

type Queue struct {
	redis *redis.Client
	now   func() time.Time
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redis: redisClient, now: time.Now}
}

// Enqueue appends job to the persistence queue.
func (q *Queue) Enqueue(ctx context.Context, job models.PersistJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode persist job: %w", err)
	}
	if err := q.redis.RPush(ctx, PersistQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue persist job: %w", err)
	}
	return nil
}

// Publish sends msg to every websocket the user has open.
func Publish(ctx context.Context, client *redis.Client, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.Publish(ctx, UpdatesChannel(userID), data).Err()
}
