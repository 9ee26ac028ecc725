package errors

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// Server specific error codes
const (
	CodeForbidden         int = -32104 // Permission gate denied the request
	CodeRateLimited       int = -32110 // Per-connection request budget exhausted
	CodeResourceNotFound  int = -32200 // Target absent from the catalog
	CodeOperationFailed   int = -32302 // Collaborator reported failure
	CodeHandlerPanic      int = -32303 // Handler panicked and was recovered
	CodeAuditUnavailable  int = -32850 // Audit sink failed. Internal only.
	CodeConnectionDenied  int = -32501 // Remote address not allowed
	CodeConnectionLimited int = -32502 // Too many concurrent connections
)

// CodeInfo describes a registered error code
type CodeInfo struct {
	Code     int
	Name     string
	Category Category
}

var codeRegistry = map[int]CodeInfo{
	CodeParseError:        {CodeParseError, "ParseError", CategoryProtocol},
	CodeInvalidRequest:    {CodeInvalidRequest, "InvalidRequest", CategoryProtocol},
	CodeMethodNotFound:    {CodeMethodNotFound, "MethodNotFound", CategoryProtocol},
	CodeInvalidParams:     {CodeInvalidParams, "InvalidParams", CategoryValidation},
	CodeInternalError:     {CodeInternalError, "InternalError", CategoryInternal},
	CodeForbidden:         {CodeForbidden, "Forbidden", CategoryForbidden},
	CodeRateLimited:       {CodeRateLimited, "RateLimited", CategoryTransport},
	CodeResourceNotFound:  {CodeResourceNotFound, "NotFound", CategoryNotFound},
	CodeOperationFailed:   {CodeOperationFailed, "OperationFailed", CategoryHandler},
	CodeHandlerPanic:      {CodeHandlerPanic, "HandlerPanic", CategoryHandler},
	CodeAuditUnavailable:  {CodeAuditUnavailable, "AuditUnavailable", CategoryAudit},
	CodeConnectionDenied:  {CodeConnectionDenied, "ConnectionDenied", CategoryTransport},
	CodeConnectionLimited: {CodeConnectionLimited, "ConnectionLimited", CategoryTransport},
}

// GetCodeInfo returns information about an error code
func GetCodeInfo(code int) (CodeInfo, bool) {
	info, ok := codeRegistry[code]
	return info, ok
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, ok := codeRegistry[code]; ok {
		return info.Name
	}
	return "UnknownError"
}
