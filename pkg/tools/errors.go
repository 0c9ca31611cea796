// Package tools exposes every external capability the LLM can invoke as a
// uniform, schema-checked operation: a static descriptor table over the
// Kubernetes, GitHub, Jira, AWS, Datadog and notification adapters.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a tool failure for the LLM and the retry layer.
type ErrorKind string

const (
	KindValidation   ErrorKind = "Validation"
	KindNotFound     ErrorKind = "NotFound"
	KindUnauthorized ErrorKind = "Unauthorized"
	KindThrottled    ErrorKind = "Throttled"
	KindTimeout      ErrorKind = "Timeout"
	KindUpstream     ErrorKind = "Upstream"
	KindCancelled    ErrorKind = "Cancelled"
)

// ToolError is the typed failure surfaced for every tool operation.
// At the LLM-driver boundary these become tool results, never Go errors,
// so the model can reason about the failure and choose another action.
type ToolError struct {
	Kind      ErrorKind
	Retryable bool
	Message   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewValidationError reports malformed input or a safety denial.
func NewValidationError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an absent resource.
func NewNotFoundError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewUnauthorizedError reports an auth or permission failure.
func NewUnauthorizedError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// NewThrottledError reports an upstream rate limit. Retryable.
func NewThrottledError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindThrottled, Retryable: true, Message: fmt.Sprintf(format, args...)}
}

// NewTimeoutError reports a deadline expiry. Retried once.
func NewTimeoutError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindTimeout, Retryable: true, Message: fmt.Sprintf(format, args...)}
}

// NewUpstreamError reports a 5xx or transport failure. Retryable.
func NewUpstreamError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindUpstream, Retryable: true, Message: fmt.Sprintf(format, args...)}
}

// NewCancelledError reports an operation cancelled by its caller.
func NewCancelledError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindCancelled, Message: fmt.Sprintf(format, args...)}
}

// AsToolError extracts a *ToolError, or classifies an arbitrary error into
// one. Context errors map to Timeout/Cancelled; everything else is Upstream.
func AsToolError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("%s", err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError("%s", err.Error())
	}
	return NewUpstreamError("%s", err.Error())
}

// ClassifyHTTPStatus maps an HTTP status code from an upstream API to a
// tool error. Used by adapters whose client libraries surface raw responses.
func ClassifyHTTPStatus(status int, message string) *ToolError {
	switch {
	case status == http.StatusNotFound:
		return NewNotFoundError("%s", message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewUnauthorizedError("%s", message)
	case status == http.StatusTooManyRequests:
		return NewThrottledError("%s", message)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return NewTimeoutError("%s", message)
	case status >= 500:
		return NewUpstreamError("%s", message)
	case status >= 400:
		return NewValidationError("%s", message)
	default:
		return NewUpstreamError("unexpected status %d: %s", status, message)
	}
}
