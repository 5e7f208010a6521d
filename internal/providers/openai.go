package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseSize = 10 << 20

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

// OpenAIBackend speaks the OpenAI chat completions protocol, which Groq and DeepSeek
// also implement. The provider's base URL comes from the catalog.
type OpenAIBackend struct {
	name       string
	httpClient *http.Client
}

func NewOpenAIBackend(httpClient *http.Client) *OpenAIBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIBackend{name: "openai-compatible", httpClient: httpClient}
}

func (o *OpenAIBackend) Generate(ctx context.Context, call Call) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: call.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: call.Prompt},
		},
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(call.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+call.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Provider: call.BaseURL, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &UpstreamError{Provider: call.BaseURL, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", o.handleErrorResponse(call.BaseURL, resp.StatusCode, data)
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", &UpstreamError{Provider: call.BaseURL, Status: http.StatusBadGateway, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(chat.Choices) == 0 {
		return "", ErrEmptyContent
	}
	if chat.Choices[0].FinishReason == "content_filter" {
		return "", &SafetyError{Provider: call.BaseURL, Reason: "content_filter"}
	}
	return chat.Choices[0].Message.Content, nil
}

func (o *OpenAIBackend) handleErrorResponse(provider string, status int, body []byte) error {
	var apiErr apiErrorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &UpstreamError{Provider: provider, Status: status, Err: errors.New(msg)}
}
