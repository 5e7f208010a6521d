package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"scribe-backend/internal/middleware"
	"scribe-backend/internal/models"
	"scribe-backend/internal/providers"
)

type stubGenerator struct {
	result *providers.Result
	err    error
	calls  int
	prompt string
	model  string
	user   uuid.UUID
}

func (s *stubGenerator) Generate(ctx context.Context, userID uuid.UUID, prompt, modelID string) (*providers.Result, error) {
	s.calls++
	s.user, s.prompt, s.model = userID, prompt, modelID
	return s.result, s.err
}

type stubQueue struct {
	jobs []models.PersistJob
	err  error
}

func (s *stubQueue) Enqueue(ctx context.Context, job models.PersistJob) error {
	s.jobs = append(s.jobs, job)
	return s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doGenerate(t *testing.T, h *GenerateHandler, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	jsonBody, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rr := httptest.NewRecorder()
	h.Generate(rr, req)
	return rr
}

func TestGenerateHandler_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing prompt", map[string]interface{}{"model": "gemini-pro"}},
		{"missing model", map[string]interface{}{"prompt": "hi"}},
		{"blank prompt", map[string]interface{}{"prompt": "   ", "model": "gemini-pro"}},
		{"empty body", map[string]interface{}{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &stubGenerator{}
			h := NewGenerateHandler(gen, &stubQueue{}, quietLogger(), false)

			rr := doGenerate(t, h, uuid.New(), tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Message != missingFieldsMessage {
				t.Fatalf("unexpected message %q", resp.Message)
			}
			if gen.calls != 0 {
				t.Fatalf("generator should not be called on validation error")
			}
		})
	}
}

func TestGenerateHandler_Success(t *testing.T) {
	userID := uuid.New()
	gen := &stubGenerator{result: &providers.Result{Content: "Hello world", ModelUsed: "gemini-pro", Provider: "google"}}
	queue := &stubQueue{}
	h := NewGenerateHandler(gen, queue, quietLogger(), false)

	rr := doGenerate(t, h, userID, map[string]interface{}{"prompt": "say hi", "model": "gemini-pro"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["content"] != "Hello world" || resp["model"] != "gemini-pro" {
		t.Fatalf("unexpected response %v", resp)
	}
	if _, ok := resp["message"]; ok {
		t.Fatalf("message must be omitted when the requested model served the request")
	}
	if gen.user != userID {
		t.Fatalf("expected generator to receive user %s, got %s", userID, gen.user)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("nothing should be enqueued without saveContent")
	}
}

func TestGenerateHandler_FallbackSavesContent(t *testing.T) {
	userID := uuid.New()
	prompt := "Write a facebook update about our café opening this weekend in the old town square"
	gen := &stubGenerator{result: &providers.Result{
		Content: "We're open!", ModelUsed: "llama-3.3-70b-versatile", Provider: "groq", FellBack: true,
	}}
	queue := &stubQueue{}
	h := NewGenerateHandler(gen, queue, quietLogger(), false)

	rr := doGenerate(t, h, userID, map[string]interface{}{"prompt": prompt, "model": "gemini-pro", "saveContent": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp models.GenerateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Model != "llama-3.3-70b-versatile" || resp.Message != fallbackMessage {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(queue.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.UserID != userID || job.Model != "llama-3.3-70b-versatile" || job.Body != "We're open!" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Type != models.ContentFacebook {
		t.Fatalf("expected facebook type, got %q", job.Type)
	}
	if got := []rune(job.Title); len(got) != 50 || string(got) != string([]rune(prompt)[:50]) {
		t.Fatalf("unexpected title %q", job.Title)
	}
}

func TestGenerateHandler_EnqueueFailureIsSwallowed(t *testing.T) {
	gen := &stubGenerator{result: &providers.Result{Content: "ok", ModelUsed: "gemini-pro"}}
	h := NewGenerateHandler(gen, &stubQueue{err: errors.New("redis down")}, quietLogger(), false)

	rr := doGenerate(t, h, uuid.New(), map[string]interface{}{"prompt": "blog", "model": "gemini-pro", "saveContent": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 despite enqueue failure, got %d", rr.Code)
	}
}

func TestGenerateHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"unknown model", providers.ErrUnknownModel, http.StatusBadRequest, "ValidationError"},
		{"unavailable", &providers.UnavailableError{Provider: "openai", Model: "gpt-4"}, http.StatusForbidden, "Unavailable"},
		{"network", &providers.UpstreamError{Provider: "google", Err: errors.New("dial tcp")}, http.StatusBadGateway, "Upstream"},
		{"provider 500", &providers.UpstreamError{Provider: "groq", Status: 500, Err: errors.New("boom")}, http.StatusBadGateway, "Upstream"},
		{"provider 429", &providers.UpstreamError{Provider: "groq", Status: 429, Err: errors.New("slow down")}, http.StatusServiceUnavailable, "Upstream"},
		{"provider 503", &providers.UpstreamError{Provider: "groq", Status: 503, Err: errors.New("busy")}, http.StatusServiceUnavailable, "Upstream"},
		{"safety", &providers.UpstreamError{Provider: "groq", Status: 422, Err: errors.New("blocked")}, http.StatusUnprocessableEntity, "Upstream"},
		{"bad key", &providers.UpstreamError{Provider: "openai", Status: 401, Err: errors.New("invalid key")}, http.StatusUnprocessableEntity, "Upstream"},
		{"unexpected", errors.New("nil pointer"), http.StatusInternalServerError, "InternalError"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewGenerateHandler(&stubGenerator{err: tc.err}, &stubQueue{}, quietLogger(), false)

			rr := doGenerate(t, h, uuid.New(), map[string]interface{}{"prompt": "hi", "model": "gemini-pro"})
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error != tc.kind {
				t.Fatalf("expected error kind %q, got %q", tc.kind, resp.Error)
			}
			if resp.Message == "" {
				t.Fatalf("message must be set")
			}
			if resp.Details != "" {
				t.Fatalf("details must be omitted outside development")
			}
		})
	}
}

func TestGenerateHandler_DetailsInDevelopment(t *testing.T) {
	h := NewGenerateHandler(&stubGenerator{err: errors.New("stack here")}, &stubQueue{}, quietLogger(), true)

	rr := doGenerate(t, h, uuid.New(), map[string]interface{}{"prompt": "hi", "model": "gemini-pro"})

	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Details != "stack here" {
		t.Fatalf("expected details in development, got %q", resp.Details)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := map[string]string{
		"Write a blog about Go":          models.ContentBlog,
		"An ARTICLE on testing":          models.ContentBlog,
		"Social media caption for shoes": models.ContentFacebook,
		"FB update for launch":           models.ContentFacebook,
		"A dialogue between two robots":  models.ContentScript,
		"Video intro for my channel":     models.ContentScript,
		"Something else entirely":        models.ContentBlog,
		"Facebook post about our sale":   models.ContentBlog,
	}
	for prompt, want := range tests {
		if got := detectContentType(prompt); got != want {
			t.Errorf("detectContentType(%q) = %q, want %q", prompt, got, want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncateRunes("short", 50); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
}
