// Package errors provides structured error handling for the MCP server.
// Every error that can reach an agent is an MCPError carrying a JSON-RPC code,
// a category from the server's error taxonomy, and optional context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category classifies an error according to where in the request lifecycle
// it was raised.
type Category string

const (
	// CategoryProtocol covers malformed envelopes and unknown methods
	CategoryProtocol Category = "protocol"
	// CategoryNotFound covers targets absent from a catalog
	CategoryNotFound Category = "not_found"
	// CategoryForbidden covers permission gate denials
	CategoryForbidden Category = "forbidden"
	// CategoryValidation covers argument schema violations
	CategoryValidation Category = "validation"
	// CategoryHandler covers failures reported by a collaborator
	CategoryHandler Category = "handler"
	// CategoryAudit covers audit sink failures. Never sent to a caller.
	CategoryAudit Category = "audit"
	// CategoryTransport covers connection level failures
	CategoryTransport Category = "transport"
	// CategoryInternal covers everything else
	CategoryInternal Category = "internal"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where and when an error occurred
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Target    string    `json:"target,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MCPError is implemented by every error the server returns to an agent
type MCPError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int
	// Message returns the human-readable error message
	Message() string
	// Details returns technical detail for logs
	Details() string
	// Data returns structured data sent in the JSON-RPC error object
	Data() interface{}
	Category() Category
	Severity() Severity
	Context() *Context
	// Retryable reports whether repeating the request may succeed
	Retryable() bool

	WithContext(ctx *Context) MCPError
	WithDetail(detail string) MCPError
	WithData(data interface{}) MCPError

	Unwrap() error
	ToJSON() map[string]interface{}
}

type baseError struct {
	code      int
	message   string
	details   string
	data      interface{}
	category  Category
	severity  Severity
	retryable bool
	context   *Context
	cause     error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Code() int { return e.code }
func (e *baseError) Message() string { return e.message }
func (e *baseError) Details() string { return e.details }
func (e *baseError) Data() interface{} { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context { return e.context }
func (e *baseError) Retryable() bool { return e.retryable }
func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) WithContext(ctx *Context) MCPError {
	clone := *e
	clone.context = ctx
	return &clone
}

func (e *baseError) WithDetail(detail string) MCPError {
	clone := *e
	if clone.details != "" {
		clone.details = clone.details + "; " + detail
	} else {
		clone.details = detail
	}
	return &clone
}

func (e *baseError) WithData(data interface{}) MCPError {
	clone := *e
	clone.data = data
	return &clone
}

// ToJSON returns the error as a JSON-serializable map
func (e *baseError) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"code":      e.code,
		"message":   e.message,
		"category":  string(e.category),
		"severity":  string(e.severity),
		"retryable": e.retryable,
	}
	if e.details != "" {
		out["details"] = e.details
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return out
}

// MarshalJSON implements json.Marshaler
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a new MCPError
func NewError(code int, message string, category Category, severity Severity) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// NewErrorf creates a new MCPError with a formatted message
func NewErrorf(code int, category Category, severity Severity, format string, args ...interface{}) MCPError {
	return NewError(code, fmt.Sprintf(format, args...), category, severity)
}

// WrapError wraps an existing error as an MCPError
func WrapError(err error, code int, message string, category Category, severity Severity) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	var mcpErr MCPError
	if stderrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Code() == code
	}
	return false
}
