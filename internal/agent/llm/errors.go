package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes a provider failure for retry decisions. Kinds are
// distinguished by constructor, never by matching message strings outside
// this package.
type Kind string

const (
	// KindAPIConnection covers network-level failures reaching the vendor.
	KindAPIConnection Kind = "api_connection"

	// KindRateLimited covers HTTP 429 and quota throttling.
	KindRateLimited Kind = "rate_limited"

	// KindInternal covers vendor 5xx responses.
	KindInternal Kind = "internal"

	// KindInvalidRequest covers malformed requests, bad credentials, and
	// context overflow. Never retried.
	KindInvalidRequest Kind = "invalid_request"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindAPIConnection, KindRateLimited, KindInternal:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps a vendor failure, classifying it from the cause's text.
// Callers with a status code should follow with WithStatus for a precise
// classification.
func NewError(provider, model string, cause error) *Error {
	err := &Error{Provider: provider, Model: model, Cause: cause, Kind: KindAPIConnection}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = classifyMessage(cause.Error())
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if status != 0 {
		e.Kind = classifyStatus(status)
	}
	return e
}

// WithCode records the provider-specific error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithMessage replaces the human-readable message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithKind forces the classification.
func (e *Error) WithKind(k Kind) *Error {
	e.Kind = k
	return e
}

// InvalidRequest builds a non-retryable request error, used for conditions
// detected before the vendor is reached (malformed tool arguments, empty
// message lists).
func InvalidRequest(provider, model, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Provider: provider, Model: model, Message: message}
}

// AsError extracts an *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err may succeed on retry. Unclassified errors
// are treated as connection-level and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.Kind.Retryable()
	}
	return classifyMessage(err.Error()).Retryable()
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindInternal
	case status == http.StatusRequestTimeout:
		return KindAPIConnection
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindAPIConnection
	}
}

// classifyMessage is the string fallback for vendors whose SDK hides the
// status code.
func classifyMessage(msg string) Kind {
	s := strings.ToLower(msg)
	switch {
	case strings.Contains(s, "rate limit") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429"):
		return KindRateLimited
	case strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "504") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "internal server"):
		return KindInternal
	case strings.Contains(s, "invalid") ||
		strings.Contains(s, "unauthorized") ||
		strings.Contains(s, "forbidden") ||
		strings.Contains(s, "authentication") ||
		strings.Contains(s, "api key") ||
		strings.Contains(s, "context length") ||
		strings.Contains(s, "too long") ||
		strings.Contains(s, "400") ||
		strings.Contains(s, "401") ||
		strings.Contains(s, "403") ||
		strings.Contains(s, "404"):
		return KindInvalidRequest
	default:
		return KindAPIConnection
	}
}
