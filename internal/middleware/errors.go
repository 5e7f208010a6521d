package middleware

import (
	"encoding/json"
	"net/http"

	"scribe-backend/internal/models"
)

// WriteError writes the API error body {message, error}.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	WriteErrorDetails(w, status, models.ErrorResponse{Message: message, Error: kind})
}

func WriteErrorDetails(w http.ResponseWriter, status int, body models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
