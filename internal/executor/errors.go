package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorBody is the JSON shape of every non-2xx response from the API.
type ErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ParseErrorBody decodes body, falling back to the raw text as the message.
func ParseErrorBody(body []byte) ErrorBody {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && (eb.Message != "" || eb.Error != "") {
		return eb
	}
	return ErrorBody{Message: strings.TrimSpace(string(body))}
}

type TimeoutError struct {
	Method  string
	Path    string
	Timeout time.Duration
	Attempt int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s (attempt %d)", e.Method, e.Path, e.Timeout, e.Attempt+1)
}

// ExhaustedRetriesError carries the last status and body seen before the retry budget ran out.
// Status is 0 when the last attempt failed at the network level.
type ExhaustedRetriesError struct {
	Status   int
	Body     []byte
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
	}
	msg := ParseErrorBody(e.Body).Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("request failed after %d attempts: %s", e.Attempts, msg)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Err }

type NonRetryableError struct {
	Status int
	Body   []byte
}

func (e *NonRetryableError) Error() string {
	eb := ParseErrorBody(e.Body)
	if eb.Message != "" {
		return eb.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}
