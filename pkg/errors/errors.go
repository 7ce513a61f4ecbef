package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeForbidden   ErrorType = "forbidden"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeStructural  ErrorType = "structural"
	ErrorTypeUncaught    ErrorType = "uncaught"
	ErrorTypeFatal       ErrorType = "fatal"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries a classification alongside the message and HTTP status
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Cause   error
}

// Error renders the classification and message, followed by the cause
// unless the message already carries it
func (e *Error) Error() string {
	msg := e.Message
	if cause := e.causeText(); cause != "" {
		msg += ": " + cause
	}
	if e.Code > 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) causeText() string {
	if e.Cause == nil {
		return ""
	}
	var inner *Error
	if stderrors.As(e.Cause, &inner) && inner.Cause == nil && strings.Contains(e.Message, inner.Message) {
		return ""
	}
	text := e.Cause.Error()
	if strings.Contains(e.Message, text) {
		return ""
	}
	return text
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error
func New(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Code: code, Message: message}
}

// Wrap classifies cause under errorType
func Wrap(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Message: message, Cause: cause}
}

// FromStatus classifies an HTTP status code. Codes below 400 return nil.
func FromStatus(code int) *Error {
	switch {
	case code < 400:
		return nil
	case code == 401:
		return New(ErrorTypeAuth, code, "authentication required")
	case code == 403:
		return New(ErrorTypeForbidden, code, "access forbidden")
	case code == 404:
		return New(ErrorTypeNotFound, code, "resource not found")
	case code == 429:
		return New(ErrorTypeRateLimit, code, "rate limit exceeded")
	case code >= 500:
		return New(ErrorTypeServerError, code, fmt.Sprintf("server returned status %d", code))
	default:
		return New(ErrorTypeUnknown, code, fmt.Sprintf("unexpected status code: %d", code))
	}
}

// FromTransport classifies an error raised below HTTP (timeout, DNS, reset)
func FromTransport(err error) *Error {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified
	}

	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return Wrap(ErrorTypeTimeout, err, err.Error())
	}
	return Wrap(ErrorTypeNetwork, err, err.Error())
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeUncaught, ErrorTypeStructural:
		return true
	default:
		return false
	}
}

// TerminalStatus reports whether an HTTP status must never be retried
func TerminalStatus(code int) bool {
	return code == 401 || code == 403 || code == 404
}

// IsTerminal reports whether err is a terminal-item failure
func IsTerminal(err error) bool {
	var classified *Error
	if !stderrors.As(err, &classified) {
		return false
	}
	switch classified.Type {
	case ErrorTypeAuth, ErrorTypeForbidden, ErrorTypeNotFound:
		return true
	default:
		return TerminalStatus(classified.Code)
	}
}

// IsFatal reports whether err must halt the whole job
func IsFatal(err error) bool {
	var classified *Error
	return stderrors.As(err, &classified) && classified.Type == ErrorTypeFatal
}

// StatusOf extracts the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Code
	}
	return 0
}

// TypeOf extracts the classification carried by err
func TypeOf(err error) ErrorType {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Type
	}
	return ErrorTypeUnknown
}
