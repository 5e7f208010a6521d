package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"scribe-backend/internal/middleware"
	"scribe-backend/internal/models"
	"scribe-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func fieldDetails(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *services.ValidationError:
		middleware.WriteErrorDetails(w, http.StatusBadRequest, models.ErrorResponse{
			Message: "Validation failed",
			Error:   "ValidationError",
			Details: fieldDetails(e.Fields),
		})
	case *services.ConflictError:
		middleware.WriteError(w, http.StatusConflict, "Conflict", e.Message)
	case *services.NotFoundError:
		middleware.WriteError(w, http.StatusNotFound, "NotFound", e.Message)
	case *services.UnauthorizedError:
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized", e.Message)
	case *services.ForbiddenError:
		middleware.WriteError(w, http.StatusForbidden, "Forbidden", e.Message)
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "InternalError", "An unexpected error occurred")
	}
}
