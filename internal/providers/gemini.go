package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiBackend calls Google's Gemini API. Clients are cached per API key and calls
// share a fixed number of concurrency slots.
type GeminiBackend struct {
	mu       sync.Mutex
	clients  map[string]*genai.Client
	rateChan chan struct{} // Token bucket
	opts     []option.ClientOption
}

func NewGeminiBackend(concurrentReqs int, opts ...option.ClientOption) *GeminiBackend {
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}
	return &GeminiBackend{
		clients:  make(map[string]*genai.Client),
		rateChan: rateChan,
		opts:     opts,
	}
}

func (g *GeminiBackend) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, c := range g.clients {
		c.Close()
		delete(g.clients, key)
	}
}

// acquireRate blocks until a rate slot is available
func (g *GeminiBackend) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Minute):
		return &UpstreamError{Provider: "google", Status: http.StatusServiceUnavailable, Err: errors.New("timeout waiting for Gemini rate slot")}
	}
}

func (g *GeminiBackend) releaseRate() {
	g.rateChan <- struct{}{}
}

func (g *GeminiBackend) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, g.opts...)
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

func (g *GeminiBackend) Generate(ctx context.Context, call Call) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	client, err := g.client(ctx, call.APIKey)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(call.Model)
	model.SetTemperature(0.7)
	model.SetTopP(0.95)

	resp, err := model.GenerateContent(ctx, genai.Text(call.Prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety {
			return "", &SafetyError{Provider: "google", Reason: "SAFETY"}
		}
	}
	return extractText(resp), nil
}

func classifyGeminiError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		if blocked.Candidate != nil && blocked.Candidate.FinishReason == genai.FinishReasonSafety {
			return &SafetyError{Provider: "google", Reason: "SAFETY"}
		}
		if blocked.PromptFeedback != nil && blocked.PromptFeedback.BlockReason == genai.BlockReasonSafety {
			return &SafetyError{Provider: "google", Reason: "SAFETY"}
		}
		return &UpstreamError{Provider: "google", Status: http.StatusUnprocessableEntity, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: "google", Status: apiErr.Code, Err: err}
	}
	if strings.Contains(err.Error(), "SAFETY") {
		return &SafetyError{Provider: "google", Reason: "SAFETY"}
	}
	return &UpstreamError{Provider: "google", Err: fmt.Errorf("Gemini API error: %w", err)}
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
