package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"scribe-backend/internal/handlers"
	"scribe-backend/internal/metrics"
	"scribe-backend/internal/middleware"
	"scribe-backend/internal/models"
	"scribe-backend/internal/providers"
	"scribe-backend/internal/websocket"
)

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, userID uuid.UUID, prompt, modelID string) (*providers.Result, error) {
	return &providers.Result{Content: "echo: " + prompt, ModelUsed: modelID}, nil
}

type nopQueue struct{}

func (nopQueue) Enqueue(ctx context.Context, job models.PersistJob) error { return nil }

type emptyLister struct{}

func (emptyLister) Available(ctx context.Context, userID uuid.UUID) ([]providers.Availability, error) {
	return nil, nil
}

type nopAuth struct{}

func (nopAuth) Register(ctx context.Context, req models.RegisterRequest) (*models.User, *models.AuthTokens, error) {
	return &models.User{ID: uuid.New()}, &models.AuthTokens{}, nil
}
func (nopAuth) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	return &models.AuthTokens{AccessToken: "a"}, nil
}
func (nopAuth) RefreshToken(ctx context.Context, token string) (*models.AuthTokens, error) {
	return &models.AuthTokens{}, nil
}
func (nopAuth) Logout(ctx context.Context, token string) error { return nil }

func newTestRouter(t *testing.T, generatePerMin int) (http.Handler, *middleware.JWTAuth) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	jwtAuth := middleware.NewJWTAuth("secret")
	limiters := Limiters{
		Auth:     middleware.NewRateLimiter("auth", 100, time.Minute),
		Generate: middleware.NewRateLimiter("generate", generatePerMin, time.Minute),
	}
	t.Cleanup(func() {
		limiters.Auth.Stop()
		limiters.Generate.Stop()
	})

	h := New(
		logger,
		collector,
		metrics.Handler(reg),
		jwtAuth,
		limiters,
		handlers.NewAuthHandler(nopAuth{}),
		handlers.NewGenerateHandler(echoGenerator{}, nopQueue{}, logger, false),
		handlers.NewModelsHandler(emptyLister{}, "gemini-pro"),
		handlers.NewHealthHandler(nil),
		websocket.NewHub(nil, jwtAuth, logger),
		"",
	)
	return h, jwtAuth
}

func TestRouter_GenerateRequiresAuth(t *testing.T) {
	h, jwtAuth := newTestRouter(t, 10)

	body, _ := json.Marshal(map[string]string{"prompt": "hi", "model": "gemini-pro"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := jwtAuth.GenerateAccessToken(uuid.New(), "a@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"content":"echo: hi"`)
	require.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_GenerateRateLimited(t *testing.T) {
	h, jwtAuth := newTestRouter(t, 1)
	token, err := jwtAuth.GenerateAccessToken(uuid.New(), "a@example.com")
	require.NoError(t, err)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(map[string]string{"prompt": "hi", "model": "gemini-pro"})
		req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t, 10)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "scribe_http_requests_total")
}

func TestRouter_LoginIsPublic(t *testing.T) {
	h, _ := newTestRouter(t, 10)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte(`{"email":"a@b.co","password":"x"}`))))
	require.Equal(t, http.StatusOK, rr.Code)
}
