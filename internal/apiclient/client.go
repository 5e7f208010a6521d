// Package apiclient is the typed client for the scribe HTTP API. Every call goes through
// the resilient executor so it carries a valid credential and follows the retry policy.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"scribe-backend/internal/executor"
)

type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	SaveContent bool   `json:"saveContent,omitempty"`
}

// GenerateResponse carries the model that actually served the request. Message is set
// when the server substituted a fallback model.
type GenerateResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Message string `json:"message,omitempty"`
}

type Provider struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Models         []string `json:"models"`
	RequiresAPIKey bool     `json:"requiresApiKey"`
	Available      bool     `json:"available"`
}

type ModelsResponse struct {
	Default   string     `json:"default"`
	Providers []Provider `json:"providers"`
}

type Executor interface {
	Execute(ctx context.Context, req executor.Request, policy executor.Policy) (*executor.Response, error)
}

type Client struct {
	exec   Executor
	policy executor.Policy
}

func New(exec Executor, policy executor.Policy) *Client {
	return &Client{exec: exec, policy: policy}
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.exec.Execute(ctx, executor.Request{
		Method: http.MethodPost,
		Path:   "/api/generate",
		Body:   body,
	}, c.policy)
	if err != nil {
		return nil, err
	}

	var out GenerateResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse generate response: %w", err)
	}
	return &out, nil
}

func (c *Client) ListModels(ctx context.Context) (*ModelsResponse, error) {
	resp, err := c.exec.Execute(ctx, executor.Request{
		Method: http.MethodGet,
		Path:   "/api/models",
	}, c.policy)
	if err != nil {
		return nil, err
	}

	var out ModelsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	return &out, nil
}
