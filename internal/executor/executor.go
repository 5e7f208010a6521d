// Package executor wraps a single API call with a per-attempt timeout, credential refresh on
// 401 and bounded exponential backoff on server and network failures.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"scribe-backend/internal/credential"
)

const maxResponseBytes = 10 << 20

// Policy bounds one Execute call. MaxRetries counts attempts after the first.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// Backoff returns the delay slept before the retry that follows failed attempt k.
func (p Policy) Backoff(k int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < k; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Credentials is the part of credential.Store the executor needs.
type Credentials interface {
	Valid(ctx context.Context) (credential.Credential, error)
	Refresh(ctx context.Context, stale string) (credential.Credential, error)
}

type Request struct {
	Method string
	Path   string
	Body   []byte
}

type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Executor struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	sleep      SleepFunc
	logger     *slog.Logger
}

type Option func(*Executor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(baseURL string, creds Credentials, opts ...Option) *Executor {
	e := &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		creds:      creds,
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attemptState is the loop state carried between attempts.
type attemptState struct {
	index      int
	started    time.Time
	cred       credential.Credential
	lastStatus int
	lastBody   []byte
	lastErr    error
}

// Execute performs req, retrying per policy. 401 and 5xx share one retry counter; only
// 5xx and network failures wait for a backoff delay.
func (e *Executor) Execute(ctx context.Context, req Request, policy Policy) (*Response, error) {
	cred, err := e.creds.Valid(ctx)
	if err != nil {
		return nil, err
	}

	st := attemptState{started: time.Now(), cred: cred}
	for {
		resp, err := e.attempt(ctx, req, policy, &st)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var te *TimeoutError
			if errors.As(err, &te) {
				return nil, err
			}
			st.lastStatus, st.lastBody, st.lastErr = 0, nil, err
		} else {
			st.lastStatus, st.lastBody, st.lastErr = resp.Status, resp.Body, nil
		}

		switch {
		case err == nil && resp.Status >= 200 && resp.Status < 300:
			resp.Attempts = st.index + 1
			return resp, nil

		case err == nil && resp.Status == http.StatusUnauthorized:
			if st.index >= policy.MaxRetries {
				return nil, st.exhausted()
			}
			cred, err := e.creds.Refresh(ctx, st.cred.AccessToken)
			if err != nil {
				return nil, err
			}
			st.cred = cred

		case err != nil || resp.Status >= 500:
			if st.index >= policy.MaxRetries {
				return nil, st.exhausted()
			}
			if err := e.sleep(ctx, policy.Backoff(st.index)); err != nil {
				return nil, err
			}

		default:
			return nil, &NonRetryableError{Status: resp.Status, Body: resp.Body}
		}
		st.index++
	}
}

func (st *attemptState) exhausted() error {
	return &ExhaustedRetriesError{
		Status:   st.lastStatus,
		Body:     st.lastBody,
		Attempts: st.index + 1,
		Err:      st.lastErr,
	}
}

func (e *Executor) attempt(ctx context.Context, req Request, policy Policy, st *attemptState) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, e.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+st.cred.AccessToken)

	start := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	var data []byte
	if err == nil {
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
	}

	attrs := []any{
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("attempt", st.index),
		slog.Duration("duration", time.Since(start)),
		slog.Duration("elapsed", time.Since(st.started)),
	}
	if err != nil {
		if ctx.Err() == nil && isTimeout(actx, err) {
			e.logger.Warn("request attempt timed out", attrs...)
			return nil, &TimeoutError{Method: req.Method, Path: req.Path, Timeout: policy.Timeout, Attempt: st.index}
		}
		e.logger.Warn("request attempt failed", append(attrs, slog.String("error", err.Error()))...)
		return nil, err
	}

	e.logger.Info("request attempt", append(attrs, slog.Int("status", resp.StatusCode))...)
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func isTimeout(actx context.Context, err error) bool {
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
