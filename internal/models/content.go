package models

import (
	"time"

	"github.com/google/uuid"
)

// Content types detected from the prompt.
const (
	ContentBlog     = "blog"
	ContentFacebook = "facebook"
	ContentScript   = "script"
)

type Content struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// PersistJob is the queue payload for a generated piece of content to be saved.
type PersistJob struct {
	UserID     uuid.UUID `json:"user_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	Model      string    `json:"model"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	SaveContent bool   `json:"saveContent"`
}

type GenerateResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
