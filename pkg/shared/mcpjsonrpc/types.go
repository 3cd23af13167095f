package mcpjsonrpc

import "encoding/json"

// Wire types follow JSON-RPC 2.0 (https://www.jsonrpc.org/specification).

// Version is the only supported protocol version string.
const Version = "2.0"

// Request represents a JSON-RPC request object.
type Request struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Method  string          `json:"method"`           // Method to be invoked
	Params  json.RawMessage `json:"params,omitempty"` // Parameters (structured value)
	ID      json.RawMessage `json:"id,omitempty"`     // Request identifier, echoed verbatim
}

// Response represents a JSON-RPC response object.
type Response struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Result  any             `json:"result,omitempty"` // Required on success
	Error   *Error          `json:"error,omitempty"`  // Required on error
	ID      json.RawMessage `json:"id"`               // Must match request ID (null if unknown)
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`           // Error code
	Message string `json:"message"`        // Error message
	Data    any    `json:"data,omitempty"` // Additional data about the error
}

// Error codes defined by JSON-RPC 2.0.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Method names served by the protocol server.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodPing       = "ping"
)

// CallToolParams defines the "params" field of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result builds a success response for id.
func Result(id json.RawMessage, result any) Response {
	return Response{Version: Version, Result: result, ID: id}
}

// Fail builds an error response for id.
func Fail(id json.RawMessage, code int, message string) Response {
	return Response{Version: Version, Error: &Error{Code: code, Message: message}, ID: id}
}
