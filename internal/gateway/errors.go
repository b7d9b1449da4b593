package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrMalformedResponse = errors.New("malformed response from server")

const networkMessage = "Network error. Please check your connection and try again."

// Error is returned for every non-2xx response and for transport failures.
// Status is 0 when no response was received.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("gateway: %s: %v", e.Message, e.Err)
		}
		return "gateway: " + e.Message
	}
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func fallbackMessage(status int) string {
	return fmt.Sprintf("Request failed with status %d", status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Status
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// Message extracts the user-facing text of err, falling back to fallback for
// errors that did not come from the gateway.
func Message(err error, fallback string) string {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return fallback
}
