// Package conversation keeps the recent, time-limited message log used to give the model
// context about the ongoing chat.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scribe-backend/internal/kv"
)

const (
	DefaultKey = "chat_history"
	DefaultTTL = 24 * time.Hour
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Window is the persisted conversation log. Entries at or past the TTL are dropped lazily
// when the window is loaded or read; an emptied window falls back to its seed messages.
type Window struct {
	store kv.Store
	key   string
	ttl   time.Duration
	now   func() time.Time
	seed  []Message

	mu       sync.Mutex
	messages []Message
}

type Option func(*Window)

func WithTTL(ttl time.Duration) Option {
	return func(w *Window) { w.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

func WithKey(key string) Option {
	return func(w *Window) { w.key = key }
}

// WithSeed sets the messages shown when no unexpired history exists.
func WithSeed(seed ...Message) Option {
	return func(w *Window) { w.seed = seed }
}

// Open loads the window from store.
func Open(ctx context.Context, store kv.Store, opts ...Option) (*Window, error) {
	w := &Window{
		store: store,
		key:   DefaultKey,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.Reload(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Reload discards in-memory state and reads the persisted window again.
func (w *Window) Reload(ctx context.Context) error {
	raw, ok, err := w.store.Get(ctx, w.key)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	var msgs []Message
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			slog.Warn("discarding unreadable conversation history", slog.String("error", err.Error()))
			msgs = nil
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = msgs
	w.purgeLocked(true)
	return nil
}

// purgeLocked drops expired entries. When anything existed before the purge, or on load,
// an empty result is replaced with the seed.
func (w *Window) purgeLocked(loading bool) {
	now := w.now()
	had := len(w.messages) > 0
	kept := w.messages[:0]
	for _, m := range w.messages {
		if now.Sub(m.Timestamp) < w.ttl {
			kept = append(kept, m)
		}
	}
	w.messages = kept
	if len(w.messages) == 0 && (had || loading) {
		w.messages = w.seedLocked(now)
	}
}

func (w *Window) seedLocked(now time.Time) []Message {
	out := make([]Message, len(w.seed))
	for i, m := range w.seed {
		if m.Role == "" {
			m.Role = RoleAssistant
		}
		m.Timestamp = now
		out[i] = m
	}
	return out
}

// Append records a message stamped with the current time and persists the window.
func (w *Window) Append(ctx context.Context, role Role, content string) (Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := Message{Role: role, Content: content, Timestamp: w.now()}
	w.messages = append(w.messages, m)
	return m, w.saveLocked(ctx)
}

// Recent returns up to n of the newest unexpired messages in chronological order.
// n <= 0 returns all of them.
func (w *Window) Recent(n int) []Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purgeLocked(false)
	msgs := w.messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len counts the unexpired messages.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purgeLocked(false)
	return len(w.messages)
}

// Truncate drops every message after the first n. It is used to roll back a cancelled turn.
func (w *Window) Truncate(ctx context.Context, n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n >= len(w.messages) {
		return nil
	}
	w.messages = w.messages[:n]
	return w.saveLocked(ctx)
}

// Reset starts a new conversation, optionally holding a single seed message.
func (w *Window) Reset(ctx context.Context, seed *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.messages = nil
	if seed != nil {
		m := *seed
		if m.Role == "" {
			m.Role = RoleAssistant
		}
		m.Timestamp = w.now()
		w.messages = []Message{m}
	}
	if err := w.store.Remove(ctx, w.key); err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	if len(w.messages) == 0 {
		return nil
	}
	return w.saveLocked(ctx)
}

// Clear empties the window and deletes the persisted history.
func (w *Window) Clear(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.messages = nil
	if err := w.store.Remove(ctx, w.key); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

func (w *Window) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(w.messages)
	if err != nil {
		return err
	}
	if err := w.store.Set(ctx, w.key, string(data)); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}
