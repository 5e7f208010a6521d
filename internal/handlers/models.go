package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"scribe-backend/internal/middleware"
	"scribe-backend/internal/providers"
)

type ModelLister interface {
	Available(ctx context.Context, userID uuid.UUID) ([]providers.Availability, error)
}

type ModelsHandler struct {
	lister       ModelLister
	defaultModel string
}

func NewModelsHandler(lister ModelLister, defaultModel string) *ModelsHandler {
	return &ModelsHandler{lister: lister, defaultModel: defaultModel}
}

type modelsResponse struct {
	Default   string                   `json:"default"`
	Providers []providers.Availability `json:"providers"`
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	available, err := h.lister.Available(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		slog.Error("failed to list models", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusInternalServerError, "InternalError", "Failed to load available models")
		return
	}

	writeJSON(w, http.StatusOK, modelsResponse{Default: h.defaultModel, Providers: available})
}
