// Package schema defines the protocol-visible error type shared by the
// proxy, the transports, and the retry layer.
package schema

import (
	"context"
	"errors"
	"fmt"
)

// Protocol error codes surfaced to MCP clients.
const (
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeTimeout     = 408
	CodeServerError = 500
)

// ToolError is an error carrying a protocol code. It crosses the proxy
// boundary unchanged and ends up as the JSON-RPC error code on the wire.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

// NewToolError builds a ToolError with a formatted message.
func NewToolError(code int, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsToolError unwraps err to a ToolError if one is in the chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsTimeout reports whether err is a deadline expiry: a transport-level
// context deadline or a code-408 tool error. Timeouts never trigger an
// upstream restart.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	te, ok := AsToolError(err)
	return ok && te.Code == CodeTimeout
}

// Code extracts the protocol code from err, defaulting to 500 for errors
// without one and 408 for plain context deadlines.
func Code(err error) int {
	if te, ok := AsToolError(err); ok {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeServerError
}
