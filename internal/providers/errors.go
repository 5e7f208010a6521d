package providers

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrEmptyContent = errors.New("no content was returned from the model")
)

// UnavailableError means the model's provider needs an API key the caller has not stored.
type UnavailableError struct {
	Provider string
	Model    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("model %s requires your own %s API key. Please add it in settings", e.Model, e.Provider)
}

// SafetyError is returned by a backend when the provider refused the prompt or the
// completion on content-safety grounds.
type SafetyError struct {
	Provider string
	Reason   string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("%s blocked the request: %s", e.Provider, e.Reason)
}

// UpstreamError is any provider failure that was not turned into a fallback.
// Status is 0 when no HTTP response was received.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying from the caller's side.
func (e *UpstreamError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func asUpstream(provider string, err error) *UpstreamError {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return &UpstreamError{Provider: provider, Status: ue.Status, Err: ue.Err}
	}
	var se *SafetyError
	if errors.As(err, &se) {
		return &UpstreamError{Provider: provider, Status: http.StatusUnprocessableEntity, Err: err}
	}
	if errors.Is(err, ErrEmptyContent) {
		return &UpstreamError{Provider: provider, Status: http.StatusBadGateway, Err: err}
	}
	return &UpstreamError{Provider: provider, Err: err}
}
