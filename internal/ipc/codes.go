// Package ipc implements the daemon's local RPC surface: JSON-RPC 2.0 over a
// Unix domain socket, one JSON object per line in both directions. The error
// code table is a client compatibility contract; the numeric values must not
// change.
package ipc

// JSON-RPC 2.0 protocol errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Domain errors.
const (
	CodeProjectNotInitialized = -32001
	CodeDaemonNotRunning      = -32002
	CodeLLMError              = -32003
	CodeInvalidProjectRoot    = -32004
	CodeNoMemoriesFound       = -32005
)

// RPCError is a JSON-RPC error object. It implements error so handlers can
// return protocol-coded failures directly.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// NewRPCError builds a coded error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}
