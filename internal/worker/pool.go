package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"scribe-backend/internal/metrics"
	"scribe-backend/internal/models"
)

// MaxAttempts bounds how often a job is tried before it is dropped.
const MaxAttempts = 3

// ContentInserter stores generated content.
type ContentInserter interface {
	Insert(ctx context.Context, c *models.Content) error
}

type Pool struct {
	redis       *redis.Client
	contentRepo ContentInserter
	metrics     metrics.Recorder
	logger      *slog.Logger
	workerCount int
	pollTimeout time.Duration
	backoff     func(attempt int) time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(redisClient *redis.Client, contentRepo ContentInserter, rec metrics.Recorder, logger *slog.Logger, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		redis:       redisClient,
		contentRepo: contentRepo,
		metrics:     rec,
		logger:      logger,
		workerCount: workerCount,
		pollTimeout: 5 * time.Second,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("started persistence workers", slog.Int("count", p.workerCount))
}

// Stop cancels the workers and waits for in-flight jobs. Retries still waiting out
// their backoff are pushed back onto the queue before Stop returns.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

type envelope struct {
	models.PersistJob
	Attempt int `json:"attempt,omitempty"`
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			p.logger.Info("worker shutting down", slog.Int("worker", id))
			return
		}

		result, err := p.redis.BLPop(ctx, p.pollTimeout, PersistQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.logger.Warn("queue poll failed", slog.Int("worker", id), slog.String("error", err.Error()))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		if ctx.Err() != nil {
			// Popped during shutdown: hand it back for the next process.
			if err := p.redis.LPush(context.WithoutCancel(ctx), PersistQueue, result[1]).Err(); err != nil {
				p.logger.Error("failed to return persist job", slog.String("error", err.Error()))
				p.metrics.RecordPersistFailure("requeue")
			}
			return
		}

		var job envelope
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			p.logger.Error("failed to parse persist job", slog.Int("worker", id), slog.String("error", err.Error()))
			p.metrics.RecordPersistFailure("decode")
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job envelope) {
	content := &models.Content{
		UserID: job.UserID,
		Title:  job.Title,
		Body:   job.Body,
		Type:   job.Type,
		Model:  job.Model,
	}

	if err := p.contentRepo.Insert(ctx, content); err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	msg := models.WSMessage{
		Type: "content_saved",
		Payload: models.ContentSaved{
			ContentID: content.ID,
			Title:     content.Title,
			Type:      content.Type,
			Model:     content.Model,
		},
	}
	if err := Publish(ctx, p.redis, job.UserID, msg); err != nil {
		p.logger.Warn("failed to publish content_saved",
			slog.String("user_id", job.UserID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("content saved",
		slog.String("content_id", content.ID.String()),
		slog.String("user_id", job.UserID.String()),
	)
}

func (p *Pool) handleFailure(ctx context.Context, job envelope, err error) {
	job.Attempt++
	if job.Attempt >= MaxAttempts || ctx.Err() != nil {
		p.logger.Error("dropping persist job",
			slog.String("user_id", job.UserID.String()),
			slog.Int("attempts", job.Attempt),
			slog.String("error", err.Error()),
		)
		p.metrics.RecordPersistFailure("insert")
		return
	}

	p.logger.Warn("persist job failed, retrying",
		slog.String("user_id", job.UserID.String()),
		slog.Int("attempt", job.Attempt),
		slog.String("error", err.Error()),
	)

	data, merr := json.Marshal(job)
	if merr != nil {
		p.metrics.RecordPersistFailure("encode")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(p.backoff(job.Attempt))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// Shutting down: requeue now so Stop returns before redis is closed.
		}
		if rerr := p.redis.RPush(context.WithoutCancel(ctx), PersistQueue, data).Err(); rerr != nil {
			p.logger.Error("failed to requeue persist job", slog.String("error", rerr.Error()))
			p.metrics.RecordPersistFailure("requeue")
		}
	}()
}
