package errors

import (
	"github.com/fluffypony/universe/pkg/protocol"
)

// ToJSONRPCError converts any error to a JSON-RPC error object. Errors that
// are not MCPErrors are reported as internal errors without leaking their
// text.
func ToJSONRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if mcpErr, ok := AsMCPError(err); ok {
		return &protocol.Error{
			Code:    protocol.ErrorCode(mcpErr.Code()),
			Message: mcpErr.Message(),
			Data:    mcpErr.Data(),
		}
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: "internal error",
	}
}

// ToJSONRPCResponse converts an error into a complete error response
func ToJSONRPCResponse(err error, id interface{}) *protocol.Response {
	return protocol.NewErrorResponse(id, ToJSONRPCError(err))
}

// Reason returns the short, caller-facing reason for an error. This is the
// text recorded as an audit failure reason.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Message()
	}
	return err.Error()
}
