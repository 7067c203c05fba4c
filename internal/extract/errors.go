package extract

import (
	"errors"
	"fmt"
)

// TransientError is a rate-limit, server or transport failure. Callers may
// retry it.
type TransientError struct {
	StatusCode int // 0 for transport failures
	Message    string
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient upstream error: %s", truncate(e.Message, 200))
	}
	return fmt.Sprintf("transient upstream error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// PermanentError is a client-side failure such as bad request or auth.
// Retrying it cannot succeed.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("upstream rejected request (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// ParseError means the model answered but not with the required object.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %s (raw: %s)", e.Reason, truncate(e.Raw, 200))
}

// IsTransient reports whether err wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError maps an HTTP status to the error taxonomy.
func StatusError(status int, body string) error {
	if status == 429 || status >= 500 {
		return &TransientError{StatusCode: status, Message: body}
	}
	return &PermanentError{StatusCode: status, Message: body}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
