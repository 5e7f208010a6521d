package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"scribe-backend/internal/kv"
)

// SessionKey is where the signed-in session is kept in the key-value store.
const SessionKey = "auth.session"

// SessionClient is the Auth collaborator backed by the server's /api/auth endpoints.
type SessionClient struct {
	baseURL    string
	httpClient *http.Client
	store      kv.Store
	now        func() time.Time

	mu        sync.Mutex
	listeners map[int]func(*Credential)
	nextID    int
}

func NewSessionClient(baseURL string, store kv.Store, httpClient *http.Client) *SessionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SessionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		store:      store,
		now:        time.Now,
		listeners:  make(map[int]func(*Credential)),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *SessionClient) Session(ctx context.Context) (*Credential, error) {
	raw, ok, err := c.store.Get(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		// A corrupt session is treated as signed out.
		c.store.Remove(ctx, SessionKey)
		return nil, nil
	}
	return &cred, nil
}

func (c *SessionClient) Refresh(ctx context.Context) (*Credential, error) {
	current, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrRefreshRejected)
	}

	cred, status, err := c.postTokens(ctx, "/api/auth/refresh", map[string]string{
		"refresh_token": current.RefreshToken,
	})
	if err != nil {
		if status >= 400 && status < 500 {
			c.clear(ctx)
			return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
		}
		return nil, err
	}

	if err := c.save(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// SignIn exchanges email and password for a session and broadcasts it.
func (c *SessionClient) SignIn(ctx context.Context, email, password string) (*Credential, error) {
	cred, _, err := c.postTokens(ctx, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}
	if err := c.save(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// SignOut revokes the refresh token server-side (best effort) and forgets the session.
func (c *SessionClient) SignOut(ctx context.Context) error {
	current, err := c.Session(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		body, _ := json.Marshal(map[string]string{"refresh_token": current.RefreshToken})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/logout", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+current.AccessToken)
			if resp, err := c.httpClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
	c.clear(ctx)
	return nil
}

func (c *SessionClient) OnAuthStateChange(fn func(*Credential)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *SessionClient) notify(cred *Credential) {
	c.mu.Lock()
	fns := make([]func(*Credential), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(cred)
	}
}

func (c *SessionClient) save(ctx context.Context, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, SessionKey, string(data)); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	c.notify(cred)
	return nil
}

func (c *SessionClient) clear(ctx context.Context) {
	c.store.Remove(ctx, SessionKey)
	c.notify(nil)
}

func (c *SessionClient) postTokens(ctx context.Context, path string, payload interface{}) (*Credential, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, resp.StatusCode, errors.New(apiErr.Message)
		}
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, resp.StatusCode, errors.New("token response missing access_token")
	}

	cred := &Credential{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if tokens.ExpiresIn > 0 {
		cred.ExpiresAt = c.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	} else if exp, ok := ExpiryFromToken(tokens.AccessToken); ok {
		cred.ExpiresAt = exp
	}
	return cred, resp.StatusCode, nil
}
