package bio

import (
	"errors"
	"fmt"
)

// Error codes shared with the host. Values are part of the wire contract.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeInternalError     = -32603
	CodeInvalidParams     = -32602
	CodeMethodNotFound    = -32601
)

// ErrorCodes maps the symbolic names to their codes.
var ErrorCodes = map[string]int{
	"USER_REJECTED":      CodeUserRejected,
	"UNAUTHORIZED":       CodeUnauthorized,
	"UNSUPPORTED_METHOD": CodeUnsupportedMethod,
	"DISCONNECTED":       CodeDisconnected,
	"CHAIN_DISCONNECTED": CodeChainDisconnected,
	"INTERNAL_ERROR":     CodeInternalError,
	"INVALID_PARAMS":     CodeInvalidParams,
	"METHOD_NOT_FOUND":   CodeMethodNotFound,
}

// ErrNoWindow is returned when a provider is requested without a window context.
var ErrNoWindow = errors.New("bio: provider requires a window context")

// ProviderError is the error every failed request settles with.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewProviderError builds a ProviderError.
func NewProviderError(code int, message string, data any) *ProviderError {
	return &ProviderError{Code: code, Message: message, Data: data}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("bio error %d: %s", e.Code, e.Message)
}

// CodeName returns the symbolic name for e.Code, or "" for host-defined codes.
func (e *ProviderError) CodeName() string {
	for name, code := range ErrorCodes {
		if code == e.Code {
			return name
		}
	}
	return ""
}

// AsProviderError unwraps err into a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
