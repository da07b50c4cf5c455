package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2php/iffse/internal/crawler"
)

// ErrorType classifies upstream failures.
type ErrorType string

// Upstream error classes.
const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeRejected    ErrorType = "rejected"
	ErrorTypeServerError ErrorType = "server_error"
)

// Error is a classified upstream failure.
type Error struct {
	Type    ErrorType
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps error classes onto the crawl loop's recovery paths.
// Throttling, rejected queries and unparsable payloads all call for a re-seed;
// network and server failures are retried as-is.
func (e *Error) Is(target error) bool {
	switch target {
	case crawler.ErrRateLimited:
		return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeParsing || e.Type == ErrorTypeRejected
	case crawler.ErrTransient:
		return e.Type == ErrorTypeNetwork || e.Type == ErrorTypeServerError
	}
	return false
}

// classifyStatus returns nil for 2xx codes and a typed error otherwise.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &Error{Type: ErrorTypeRateLimit, Code: code, Message: "throttled"}
	case code >= 500:
		return &Error{Type: ErrorTypeServerError, Code: code, Message: http.StatusText(code)}
	default:
		return &Error{Type: ErrorTypeRejected, Code: code, Message: http.StatusText(code)}
	}
}

func parseError(msg string, err error) error {
	return &Error{Type: ErrorTypeParsing, Message: msg, Err: err}
}

func networkError(err error) error {
	return &Error{Type: ErrorTypeNetwork, Message: "request failed", Err: err}
}

// TypeOf reports the class of err, or "" if err is not an upstream error.
func TypeOf(err error) ErrorType {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Type
	}
	return ""
}
