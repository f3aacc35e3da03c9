package apperr

import (
	"errors"
	"fmt"
)

// GenericMessage is shown when a failure carries no message of its own.
const GenericMessage = "An error occurred"

// AuthenticationError is returned when the portal rejects login credentials.
type AuthenticationError struct {
	Code    int
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// SessionError is returned when the bearer token is missing, expired or rejected.
type SessionError struct {
	Code    int
	Message string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session invalid: %s", e.Message)
}

// ValidationError is returned when field values are rejected, either by the
// portal or by the local form checks.
type ValidationError struct {
	Code    int
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ProtocolError means the response could not be understood. Not retryable.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError means the backend could not be reached. The user may retry.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UserMessage returns the text to show a user for err: the backend message
// when there is one, GenericMessage otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var msg string

	var (
		authErr  *AuthenticationError
		sessErr  *SessionError
		validErr *ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		msg = authErr.Message
	case errors.As(err, &sessErr):
		msg = sessErr.Message
	case errors.As(err, &validErr):
		msg = validErr.Message
	}

	if msg == "" {
		return GenericMessage
	}

	return msg
}

// Retryable reports whether repeating the same call could succeed.
func Retryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
