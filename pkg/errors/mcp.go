package errors

import (
	stderrors "errors"
	"fmt"
)

// Reasons reported by the permission gate
const (
	ReasonServerDisabled       = "server disabled"
	ReasonCapabilityNotGranted = "capability not granted"
)

// TargetErrorData is attached to not-found errors
type TargetErrorData struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// ForbiddenErrorData is attached to gate denials
type ForbiddenErrorData struct {
	Reason     string `json:"reason"`
	Capability string `json:"capability,omitempty"`
}

// HandlerErrorData is attached to collaborator failures
type HandlerErrorData struct {
	Operation string `json:"operation"`
	Retryable bool   `json:"retryable"`
}

// ParseError reports a message that is not valid JSON
func ParseError(err error) MCPError {
	return WrapError(err, CodeParseError, "parse error", CategoryProtocol, SeverityWarning)
}

// InvalidRequest reports a structurally invalid JSON-RPC envelope
func InvalidRequest(detail string) MCPError {
	return NewError(CodeInvalidRequest, "invalid request", CategoryProtocol, SeverityWarning).
		WithDetail(detail)
}

// MethodNotFound reports a method outside the supported set
func MethodNotFound(method string) MCPError {
	return NewErrorf(CodeMethodNotFound, CategoryProtocol, SeverityWarning, "method not found: %s", method).
		WithData(map[string]string{"method": method})
}

// InvalidParams reports params that cannot be decoded for a known method.
// This is an envelope problem, so the category is protocol.
func InvalidParams(err error) MCPError {
	return WrapError(err, CodeInvalidParams, "invalid params", CategoryProtocol, SeverityWarning)
}

// NotFound reports a target name that is absent from a catalog. The message
// is "unknown <kind>", e.g. "unknown tool".
func NotFound(kind, name string) MCPError {
	return NewError(CodeResourceNotFound, "unknown "+kind, CategoryNotFound, SeverityWarning).
		WithData(TargetErrorData{Kind: kind, Name: name})
}

// Forbidden reports a permission gate denial
func Forbidden(reason, capability string) MCPError {
	return NewError(CodeForbidden, reason, CategoryForbidden, SeverityWarning).
		WithData(ForbiddenErrorData{Reason: reason, Capability: capability})
}

// HandlerFailed wraps a collaborator failure. The retryable flag is taken
// from the collaborator's error when it implements RetryableError.
func HandlerFailed(operation string, err error) MCPError {
	retryable := IsRetryable(err)
	return &baseError{
		code:      CodeOperationFailed,
		message:   err.Error(),
		category:  CategoryHandler,
		severity:  SeverityError,
		retryable: retryable,
		cause:     err,
		data:      HandlerErrorData{Operation: operation, Retryable: retryable},
		context:   &Context{Operation: operation},
	}
}

// HandlerPanic reports a recovered panic inside a handler
func HandlerPanic(operation string, recovered interface{}) MCPError {
	return NewErrorf(CodeHandlerPanic, CategoryHandler, SeverityCritical, "%s failed unexpectedly", operation).
		WithDetail(fmt.Sprintf("panic: %v", recovered))
}

// RateLimited reports an exhausted per-connection request budget
func RateLimited(limit int) MCPError {
	return &baseError{
		code:      CodeRateLimited,
		message:   "rate limit exceeded",
		category:  CategoryTransport,
		severity:  SeverityWarning,
		retryable: true,
		data:      map[string]int{"requests_per_minute": limit},
	}
}

// AuditFailure wraps a sink error. It is only ever logged.
func AuditFailure(err error) MCPError {
	return WrapError(err, CodeAuditUnavailable, "audit sink unavailable", CategoryAudit, SeverityError)
}

// Internal wraps an unexpected error
func Internal(err error) MCPError {
	return WrapError(err, CodeInternalError, "internal error", CategoryInternal, SeverityError)
}

// RetryableError is implemented by collaborator errors that know whether the
// failed operation can be repeated safely.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err, or any error it wraps, declares itself
// retryable. Protocol, not-found, forbidden and validation errors are
// deterministic and always safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if mcpErr, ok := AsMCPError(err); ok {
		switch mcpErr.Category() {
		case CategoryProtocol, CategoryNotFound, CategoryForbidden, CategoryValidation:
			return true
		}
		if mcpErr.Retryable() {
			return true
		}
	}
	var r RetryableError
	if stderrors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// ConnectionDenied reports a peer whose address is not allowed
func ConnectionDenied(addr string) MCPError {
	return NewError(CodeConnectionDenied, "connection not allowed", CategoryTransport, SeverityWarning).
		WithDetail("remote address " + addr)
}

// ConnectionLimited reports a connection refused at capacity
func ConnectionLimited(max int) MCPError {
	return &baseError{
		code:      CodeConnectionLimited,
		message:   "too many connections",
		category:  CategoryTransport,
		severity:  SeverityWarning,
		retryable: true,
		data:      map[string]int{"max_connections": max},
	}
}

// MessageTooLarge reports a frame over the transport's size limit
func MessageTooLarge(limit int) MCPError {
	return NewError(CodeInvalidRequest, "message too large", CategoryTransport, SeverityWarning).
		WithData(map[string]int{"max_message_size": limit})
}
