package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Details  string `json:"details,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteErrorWithDetails writes a structured JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code, details string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// Common error codes
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeValidation    = "VALIDATION_FAILED"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeLoginRequired = "LOGIN_REQUIRED"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeBadGateway    = "BAD_GATEWAY"
	CodeInternalError = "INTERNAL_ERROR"
)

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message, CodeConflict)
}

// LoginRequired tells the browser where to send the user to sign in.
func LoginRequired(w http.ResponseWriter, redirect string) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:    "Please log in to continue",
		Code:     CodeLoginRequired,
		Redirect: redirect,
	})
}

// FromGateway maps a platform API failure onto the BFF response. Client
// errors keep their status and message; everything else becomes 502.
func FromGateway(w http.ResponseWriter, err error) {
	var lre *session.LoginRequiredError
	if errors.As(err, &lre) {
		LoginRequired(w, lre.RedirectTo)
		return
	}

	status := gateway.StatusOf(err)
	msg := gateway.Message(err, "Upstream request failed")
	switch {
	case status == http.StatusUnauthorized:
		Unauthorized(w, msg)
	case status == http.StatusNotFound:
		NotFound(w, msg)
	case status == http.StatusConflict:
		Conflict(w, msg)
	case status >= 400 && status < 500:
		WriteError(w, status, msg, CodeInvalidInput)
	default:
		WriteError(w, http.StatusBadGateway, msg, CodeBadGateway)
	}
}
