package api

import (
	"errors"
	"net/http"
)

// API-specific errors.
var (
	// ErrBadQuery is returned when a query parameter cannot be parsed.
	ErrBadQuery = errors.New("malformed query parameter")
)

// ErrorCode represents an API error code.
type ErrorCode string

// Error codes for API responses.
const (
	CodeInvalidInput  ErrorCode = "invalid_input"
	CodeInternalError ErrorCode = "internal_error"
)

// HTTPError carries an error with its HTTP status code.
type HTTPError struct {
	StatusCode int
	Code       ErrorCode
	Err        error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// MapError maps a domain error to an HTTPError.
func MapError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrBadQuery):
		return &HTTPError{http.StatusBadRequest, CodeInvalidInput, err}
	default:
		return &HTTPError{http.StatusInternalServerError, CodeInternalError, err}
	}
}

// WriteError writes an error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, err error) {
	httpErr := MapError(err)
	if httpErr == nil {
		return
	}
	resp := ErrorDTO{
		Code:    string(httpErr.Code),
		Message: httpErr.Error(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.StatusCode)
	writeJSON(w, resp)
}
