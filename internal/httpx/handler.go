// Package httpx is a convenience wrapper around the http.ServeMux type that
// allows us to return errors from our handlers.
// see https://blog.questionable.services/article/http-handler-error-handling-revisited/ for more details.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-json-experiment/json"
	"golang.org/x/exp/slog"
)

// Error is a convenience function for returning an error with an associated HTTP status code.
func Error(code int, err error) error {
	return &StatusError{code, err}
}

// StatusError represents an error with an associated HTTP status code.
type StatusError struct {
	Code int
	Err  error
}

// Allows StatusError to satisfy the error interface.
func (se *StatusError) Error() string {
	return se.Err.Error()
}

func (se *StatusError) Unwrap() error {
	return se.Err
}

// Returns our HTTP status code.
func (se *StatusError) Status() int {
	return se.Code
}

// ErrorCode returns the machine readable error code for an HTTP status.
func ErrorCode(status int) string {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return "not_found"
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case status == http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case status >= 400 && status < 500:
		return "invalid_request"
	default:
		return "server_error"
	}
}

// HandlerFunc adapts a function that returns an error to an http.HandlerFunc.
func HandlerFunc[E any](envFn func(r *http.Request) *E, fn func(*E, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := envFn(r)
		err := fn(env, w, r)
		if err == nil {
			return
		}
		status := http.StatusInternalServerError
		if se := new(StatusError); errors.As(err, &se) {
			status = se.Status()
		}
		slog.Warn("HTTP", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		body := map[string]any{
			"error": ErrorCode(status),
		}
		if status < http.StatusInternalServerError {
			body["error_description"] = err.Error()
		}
		json.MarshalFull(w, body)
	}
}

// Redirect returns a 302 redirect to the specified URI.
func Redirect(w http.ResponseWriter, uri string) error {
	w.Header().Set("Location", uri)
	w.WriteHeader(302)
	return nil
}
