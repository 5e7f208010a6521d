package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"scribe-backend/internal/metrics"
	"scribe-backend/internal/models"
)

type stubContentRepo struct {
	mu       sync.Mutex
	failures int
	calls    int
	saved    []*models.Content
}

func (s *stubContentRepo) Insert(ctx context.Context, c *models.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection refused")
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	s.saved = append(s.saved, c)
	return nil
}

func (s *stubContentRepo) snapshot() (int, []*models.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]*models.Content(nil), s.saved...)
}

type failureRecorder struct {
	metrics.Nop
	mu     sync.Mutex
	stages []string
}

func (f *failureRecorder) RecordPersistFailure(stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *failureRecorder) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stages...)
}

func newTestPool(t *testing.T, repo ContentInserter, rec metrics.Recorder) (*Pool, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	p := NewPool(client, repo, rec, nil, 1)
	p.pollTimeout = 50 * time.Millisecond
	p.backoff = func(int) time.Duration { return 10 * time.Millisecond }
	return p, client
}

func TestPool_PersistsAndPublishes(t *testing.T) {
	repo := &stubContentRepo{}
	p, client := newTestPool(t, repo, nil)
	ctx := context.Background()
	userID := uuid.New()

	sub := client.Subscribe(ctx, UpdatesChannel(userID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	q := NewQueue(client)
	require.NoError(t, q.Enqueue(ctx, models.PersistJob{
		UserID: userID, Title: "Write a blog post", Body: "body", Type: models.ContentBlog, Model: "gemini-pro",
	}))

	p.Start(ctx)
	defer p.Stop()

	select {
	case msg := <-sub.Channel():
		var ws struct {
			Type    string              `json:"type"`
			Payload models.ContentSaved `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ws))
		require.Equal(t, "content_saved", ws.Type)
		require.Equal(t, "Write a blog post", ws.Payload.Title)
		require.NotEqual(t, uuid.Nil, ws.Payload.ContentID)
	case <-time.After(2 * time.Second):
		t.Fatal("no content_saved notification")
	}

	_, saved := repo.snapshot()
	require.Len(t, saved, 1)
	require.Equal(t, userID, saved[0].UserID)
	require.Equal(t, "gemini-pro", saved[0].Model)
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	repo := &stubContentRepo{failures: 2}
	p, client := newTestPool(t, repo, nil)
	ctx := context.Background()

	require.NoError(t, NewQueue(client).Enqueue(ctx, models.PersistJob{UserID: uuid.New(), Title: "t", Body: "b", Type: "blog"}))

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		_, saved := repo.snapshot()
		return len(saved) == 1
	}, 2*time.Second, 10*time.Millisecond)

	calls, _ := repo.snapshot()
	require.Equal(t, 3, calls)
}

func TestPool_DropsAfterMaxAttempts(t *testing.T) {
	repo := &stubContentRepo{failures: MaxAttempts}
	rec := &failureRecorder{}
	p, client := newTestPool(t, repo, rec)
	ctx := context.Background()

	require.NoError(t, NewQueue(client).Enqueue(ctx, models.PersistJob{UserID: uuid.New(), Title: "t", Body: "b", Type: "blog"}))

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"insert"}, rec.get())
	calls, saved := repo.snapshot()
	require.Equal(t, MaxAttempts, calls)
	require.Empty(t, saved)
}

func TestPool_BadPayload(t *testing.T) {
	rec := &failureRecorder{}
	p, client := newTestPool(t, &stubContentRepo{}, rec)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, PersistQueue, "{not json").Err())

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"decode"}, rec.get())
}

func TestQueue_EnqueueStampsTime(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue(client)
	q.now = func() time.Time { return at }

	require.NoError(t, q.Enqueue(context.Background(), models.PersistJob{Title: "t"}))

	raw, err := client.LPop(context.Background(), PersistQueue).Result()
	require.NoError(t, err)
	var job models.PersistJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	require.True(t, job.EnqueuedAt.Equal(at))
}

func TestPool_StopRequeuesPendingRetry(t *testing.T) {
	repo := &stubContentRepo{failures: 1}
	rec := &failureRecorder{}
	p, client := newTestPool(t, repo, rec)
	p.backoff = func(int) time.Duration { return time.Hour }
	ctx := context.Background()

	require.NoError(t, NewQueue(client).Enqueue(ctx, models.PersistJob{UserID: uuid.New(), Title: "t", Body: "b", Type: "blog"}))

	p.Start(ctx)
	require.Eventually(t, func() bool {
		calls, _ := repo.snapshot()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited for the retry backoff")
	}

	raw, err := client.LRange(ctx, PersistQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &env))
	require.Equal(t, 1, env.Attempt)
	require.Empty(t, rec.get())
}
