package errors

import (
	"fmt"
	"strings"
)

// FieldError describes one argument that failed validation
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// ValidationErrorData is attached to argument validation errors
type ValidationErrorData struct {
	Target string       `json:"target"`
	Fields []FieldError `json:"fields"`
}

// ValidationFailed reports arguments that violate a catalog entry's schema
func ValidationFailed(target string, fields []FieldError) MCPError {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.String())
	}
	msg := "invalid arguments"
	if len(parts) > 0 {
		msg = fmt.Sprintf("invalid arguments: %s", strings.Join(parts, "; "))
	}
	return NewError(CodeInvalidParams, msg, CategoryValidation, SeverityWarning).
		WithData(ValidationErrorData{Target: target, Fields: fields})
}

// InvalidArgument is shorthand for a single-field validation failure
func InvalidArgument(target, field, format string, args ...interface{}) MCPError {
	return ValidationFailed(target, []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}})
}
