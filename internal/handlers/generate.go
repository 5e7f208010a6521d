package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"scribe-backend/internal/middleware"
	"scribe-backend/internal/models"
	"scribe-backend/internal/providers"
)

const (
	missingFieldsMessage = "Missing required fields: prompt and model must be provided"
	fallbackMessage      = "Content was generated using a fallback model due to safety filters"
	titleLength          = 50
)

type Generator interface {
	Generate(ctx context.Context, userID uuid.UUID, prompt, modelID string) (*providers.Result, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job models.PersistJob) error
}

type GenerateHandler struct {
	generator Generator
	queue     Enqueuer
	logger    *slog.Logger
	debug     bool
}

// NewGenerateHandler serves POST /api/generate. debug adds error details to responses.
func NewGenerateHandler(generator Generator, queue Enqueuer, logger *slog.Logger, debug bool) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{generator: generator, queue: queue, logger: logger, debug: debug}
}

func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "ValidationError", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || strings.TrimSpace(req.Model) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "ValidationError", missingFieldsMessage)
		return
	}

	userID := middleware.GetUserID(r.Context())

	result, err := h.generator.Generate(r.Context(), userID, req.Prompt, req.Model)
	if err != nil {
		h.writeGenerateError(w, r, req.Model, err)
		return
	}

	if req.SaveContent {
		job := models.PersistJob{
			UserID: userID,
			Title:  truncateRunes(req.Prompt, titleLength),
			Body:   result.Content,
			Type:   detectContentType(req.Prompt),
			Model:  result.ModelUsed,
		}
		// Persistence is best-effort; the generated content is returned regardless.
		if err := h.queue.Enqueue(context.WithoutCancel(r.Context()), job); err != nil {
			h.logger.Error("failed to enqueue content for saving",
				slog.String("user_id", userID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	resp := models.GenerateResponse{Content: result.Content, Model: result.ModelUsed}
	if result.ModelUsed != req.Model {
		resp.Message = fallbackMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *GenerateHandler) writeGenerateError(w http.ResponseWriter, r *http.Request, model string, err error) {
	status := http.StatusInternalServerError
	body := models.ErrorResponse{Message: "An unexpected error occurred", Error: "InternalError"}

	var unavailable *providers.UnavailableError
	var upstream *providers.UpstreamError
	switch {
	case errors.Is(err, providers.ErrUnknownModel):
		status = http.StatusBadRequest
		body = models.ErrorResponse{Message: "Unknown model: " + model, Error: "ValidationError"}
	case errors.As(err, &unavailable):
		status = http.StatusForbidden
		body = models.ErrorResponse{Message: unavailable.Error(), Error: "Unavailable"}
	case errors.As(err, &upstream):
		status = upstreamStatus(upstream)
		body = models.ErrorResponse{Message: "Content generation failed: " + upstream.Error(), Error: "Upstream"}
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads this response.
		status = 499
		body = models.ErrorResponse{Message: "Request canceled", Error: "Canceled"}
	}

	if h.debug {
		body.Details = err.Error()
	}

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "content generation failed",
		slog.String("model", model),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	middleware.WriteErrorDetails(w, status, body)
}

// upstreamStatus keeps failures the caller may retry in the 5xx range.
func upstreamStatus(e *providers.UpstreamError) int {
	switch {
	case e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case e.Retryable():
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func detectContentType(prompt string) string {
	p := strings.ToLower(prompt)
	switch {
	case containsAny(p, "blog", "article", "post"):
		return models.ContentBlog
	case containsAny(p, "facebook", "social media", "fb"):
		return models.ContentFacebook
	case containsAny(p, "script", "video", "dialogue"):
		return models.ContentScript
	}
	return models.ContentBlog
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
