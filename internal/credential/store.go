package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const refreshTimeout = 30 * time.Second

// Store is the single owner of the client's credential. It is safe for concurrent use.
type Store struct {
	auth Auth
	skew time.Duration
	now  func() time.Time

	mu        sync.Mutex
	cached    *Credential
	signedOut bool
	rejected  string // refresh token the server last rejected

	group       singleflight.Group
	unsubscribe func()
}

type Option func(*Store)

func WithSkew(d time.Duration) Option {
	return func(s *Store) { s.skew = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(auth Auth, opts ...Option) *Store {
	s := &Store{
		auth: auth,
		skew: DefaultSkew,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = auth.OnAuthStateChange(s.onAuthStateChange)
	return s
}

// Close detaches the store from the auth collaborator.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) onAuthStateChange(c *Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c == nil {
		s.cached = nil
		return
	}
	cp := *c
	s.cached = &cp
	s.signedOut = false
	s.rejected = ""
}

// Valid returns a credential that is not about to expire, refreshing at most once.
func (s *Store) Valid(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return s.revive(ctx)
	}
	if s.cached != nil {
		cur := *s.cached
		s.mu.Unlock()
		if cur.ValidAt(s.now(), s.skew) {
			return cur, nil
		}
		return s.refresh(ctx, cur.AccessToken)
	}
	s.mu.Unlock()

	loaded, err := s.auth.Session(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load session: %w", err)
	}
	if loaded == nil {
		return Credential{}, ErrUnauthenticated
	}

	s.mu.Lock()
	if s.cached == nil {
		cp := *loaded
		s.cached = &cp
	}
	cur := *s.cached
	s.mu.Unlock()

	if cur.ValidAt(s.now(), s.skew) {
		return cur, nil
	}
	return s.refresh(ctx, cur.AccessToken)
}

// revive adopts a session written by another process (a separate `login`) while the
// store is signed out. The session whose refresh token was rejected stays ignored.
func (s *Store) revive(ctx context.Context) (Credential, error) {
	loaded, err := s.auth.Session(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load session: %w", err)
	}

	s.mu.Lock()
	if !s.signedOut {
		// A sign-in event arrived meanwhile.
		s.mu.Unlock()
		return s.Valid(ctx)
	}
	if loaded == nil || loaded.RefreshToken == s.rejected {
		s.mu.Unlock()
		return Credential{}, ErrUnauthenticated
	}
	cp := *loaded
	s.cached = &cp
	s.signedOut = false
	s.rejected = ""
	s.mu.Unlock()

	slog.Info("adopted new session after sign-out")
	if cp.ValidAt(s.now(), s.skew) {
		return cp, nil
	}
	return s.refresh(ctx, cp.AccessToken)
}

// Refresh forces a refresh after the server rejected stale. Callers racing on the same
// stale token share one refresh; a caller whose token was already replaced gets the
// replacement without contacting the collaborator.
func (s *Store) Refresh(ctx context.Context, stale string) (Credential, error) {
	return s.refresh(ctx, stale)
}

func (s *Store) refresh(ctx context.Context, stale string) (Credential, error) {
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		s.mu.Lock()
		if s.signedOut {
			s.mu.Unlock()
			return nil, ErrUnauthenticated
		}
		if s.cached != nil && s.cached.AccessToken != stale && s.cached.ValidAt(s.now(), s.skew) {
			cur := *s.cached
			s.mu.Unlock()
			return cur, nil
		}
		s.mu.Unlock()

		// The refresh is shared by every waiter, so one caller's cancellation must not abort it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		refreshed, err := s.auth.Refresh(rctx)

		s.mu.Lock()
		defer s.mu.Unlock()

		if err == nil && refreshed == nil {
			err = ErrRefreshRejected
		}
		if err != nil {
			if errors.Is(err, ErrRefreshRejected) {
				s.rejected = ""
				if s.cached != nil {
					s.rejected = s.cached.RefreshToken
				}
				s.cached = nil
				s.signedOut = true
				slog.Warn("credential refresh rejected, session cleared", slog.String("error", err.Error()))
				return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
			}
			return nil, fmt.Errorf("failed to refresh credential: %w", err)
		}

		cp := *refreshed
		s.cached = &cp
		slog.Debug("credential refreshed", slog.Time("expires_at", cp.ExpiresAt))
		return cp, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}
