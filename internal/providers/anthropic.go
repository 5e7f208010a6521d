package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend calls the Anthropic Messages API with the caller's key.
type AnthropicBackend struct {
	baseURL string
}

// NewAnthropicBackend uses the SDK's default endpoint when baseURL is empty.
func NewAnthropicBackend(baseURL string) *AnthropicBackend {
	return &AnthropicBackend{baseURL: baseURL}
}

func (a *AnthropicBackend) Generate(ctx context.Context, call Call) (string, error) {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(call.APIKey),
		// Retries are owned by the calling client.
		anthropicoption.WithMaxRetries(0),
	}
	if a.baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(a.baseURL))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(call.Model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(call.Prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &UpstreamError{Provider: "anthropic", Status: apiErr.StatusCode, Err: err}
		}
		return "", &UpstreamError{Provider: "anthropic", Err: err}
	}

	if string(msg.StopReason) == "refusal" {
		return "", &SafetyError{Provider: "anthropic", Reason: "refusal"}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
