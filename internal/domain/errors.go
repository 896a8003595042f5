package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNetwork        = errors.New("network error")
	ErrTimeout        = errors.New("timeout")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrServer         = errors.New("server error")
	ErrValidation     = errors.New("validation error")
	ErrCancelled      = errors.New("cancelled")
	ErrBinding        = errors.New("binding error")
	ErrNotFound       = errors.New("not found")
	ErrSecretNotFound = errors.New("secret not found")
	ErrTaskFailed     = errors.New("task failed")
)

// APIError is a classified failure of a remote call. Kind is one of the
// sentinel errors above and is what errors.Is matches against.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s [request %s]", msg, e.RequestID)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// IsFatal reports whether a failed task check must stop polling. A task
// the backend does not know can never complete.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound)
}

// IsCancelled reports cancellation from either the taxonomy or a context.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// UserMessage maps an error to the text shown inline to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return "Request was cancelled."
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Request timed out. Please try again."
	case errors.Is(err, ErrUnauthorized):
		return "Authentication required. Please log in."
	case errors.Is(err, ErrValidation):
		return "Invalid prompt. Please check your input."
	case errors.Is(err, ErrServer):
		return "Server error. Please try again later."
	case errors.Is(err, ErrNetwork):
		return "Network error. Please check your connection."
	default:
		return err.Error()
	}
}
