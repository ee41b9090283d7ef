package market

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationFailure = errors.New("authentication failed")
	ErrIntegrity             = errors.New("token issued but identity unresolvable")
	ErrAuthorizationFailure  = errors.New("not authorized")
	ErrValidationFailure     = errors.New("validation failed")
	ErrRemoteRejection       = errors.New("rejected by server")
	ErrNetworkFailure        = errors.New("network failure")
)

// RemoteError is a non-2xx response from the API. Kind is one of
// ErrRemoteRejection, ErrAuthorizationFailure or ErrAuthenticationFailure.
type RemoteError struct {
	Kind      error
	Status    int
	Message   string
	RequestID string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: status %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// ValidationError is a local input problem detected before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailure }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UserMessage returns the text shown next to the action that failed. It prefers
// the local validation reason, then the server's message, then fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Reason != "" {
		return verr.Reason
	}
	var rerr *RemoteError
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}
	if errors.Is(err, ErrAuthorizationFailure) {
		return "Your session has expired. Please log in again."
	}
	return fallback
}
