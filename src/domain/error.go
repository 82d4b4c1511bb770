package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode int

const (
	ErrorCodeInternalProcess ErrorCode = iota
	ErrorCodeParameterInvalid
	ErrorCodeRequestInvalid
	ErrorCodeUnsupportedMethod
	ErrorCodeUnauthorized
	ErrorCodeAuthNotAuthenticated
	ErrorCodeUserRejected
	ErrorCodeChainNotFound
	ErrorCodeTransportNotConfigured
	ErrorCodeCredentialCreation
	ErrorCodeDisconnected
	ErrorCodeResourceNotFound
	ErrorCodeRemoteProcess
)

type errorSpec struct {
	name       string
	rpcCode    int
	httpStatus int
	message    string
}

var errorSpecs = map[ErrorCode]errorSpec{
	ErrorCodeInternalProcess:        {"INTERNAL_PROCESS", -32603, http.StatusInternalServerError, "Internal error"},
	ErrorCodeParameterInvalid:       {"PARAMETER_INVALID", -32602, http.StatusBadRequest, "Invalid parameters were provided to the RPC method"},
	ErrorCodeRequestInvalid:         {"REQUEST_INVALID", -32600, http.StatusBadRequest, "Invalid request"},
	ErrorCodeUnsupportedMethod:      {"UNSUPPORTED_METHOD", 4200, http.StatusBadRequest, "The Provider does not support the requested method"},
	ErrorCodeUnauthorized:           {"AUTH_PERMISSION_DENIED", 4100, http.StatusForbidden, "The requested method and/or account has not been authorized by the user"},
	ErrorCodeAuthNotAuthenticated:   {"AUTH_NOT_AUTHENTICATED", 4100, http.StatusUnauthorized, "Not authenticated"},
	ErrorCodeUserRejected:           {"USER_REJECTED", 4001, http.StatusOK, "The user rejected the request"},
	ErrorCodeChainNotFound:          {"CHAIN_NOT_FOUND", 4902, http.StatusNotFound, "Unrecognized chain"},
	ErrorCodeTransportNotConfigured: {"TRANSPORT_NOT_CONFIGURED", 4900, http.StatusServiceUnavailable, "No transport configured for chain"},
	ErrorCodeCredentialCreation:     {"CREDENTIAL_CREATION", -32603, http.StatusInternalServerError, "Failed to create credential"},
	ErrorCodeDisconnected:           {"DISCONNECTED", 4900, http.StatusServiceUnavailable, "The provider is disconnected"},
	ErrorCodeResourceNotFound:       {"RESOURCE_NOT_FOUND", -32001, http.StatusNotFound, "Requested resource not found"},
	ErrorCodeRemoteProcess:          {"REMOTE_PROCESS_ERROR", -32000, http.StatusBadGateway, "Remote service error"},
}

// DomainError carries a stable error code plus the message shown to wallet
// clients. The zero value is an internal error.
type DomainError struct {
	code      ErrorCode
	err       error
	clientMsg string
	detail    map[string]interface{}
}

type ErrorOption func(*DomainError)

func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.clientMsg = msg
	}
}

func WithDetail(detail map[string]interface{}) ErrorOption {
	return func(e *DomainError) {
		e.detail = detail
	}
}

func NewError(code ErrorCode, err error, opts ...ErrorOption) DomainError {
	e := DomainError{code: code, err: err}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	spec := errorSpecs[e.code]
	switch {
	case e.err != nil && e.clientMsg != "":
		return fmt.Sprintf("%s: %s: %v", spec.name, e.clientMsg, e.err)
	case e.err != nil:
		return fmt.Sprintf("%s: %v", spec.name, e.err)
	default:
		return fmt.Sprintf("%s: %s", spec.name, e.ClientMsg())
	}
}

func (e DomainError) Unwrap() error {
	return e.err
}

// Is matches any DomainError with the same code.
func (e DomainError) Is(target error) bool {
	t, ok := target.(DomainError)
	return ok && t.code == e.code
}

func (e DomainError) Code() ErrorCode {
	return e.code
}

func (e DomainError) Name() string {
	return errorSpecs[e.code].name
}

func (e DomainError) RpcCode() int {
	return errorSpecs[e.code].rpcCode
}

func (e DomainError) HTTPStatus() int {
	return errorSpecs[e.code].httpStatus
}

func (e DomainError) ClientMsg() string {
	if e.clientMsg != "" {
		return e.clientMsg
	}
	if e.code == ErrorCodeParameterInvalid && e.err != nil {
		return e.err.Error()
	}
	return errorSpecs[e.code].message
}

func (e DomainError) Detail() map[string]interface{} {
	return e.detail
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrInvalidParams          = NewError(ErrorCodeParameterInvalid, nil)
	ErrInvalidRequest         = NewError(ErrorCodeRequestInvalid, nil)
	ErrUnsupportedMethod      = NewError(ErrorCodeUnsupportedMethod, nil)
	ErrUnauthorized           = NewError(ErrorCodeUnauthorized, nil)
	ErrUserRejected           = NewError(ErrorCodeUserRejected, nil)
	ErrChainNotFound          = NewError(ErrorCodeChainNotFound, nil)
	ErrTransportNotConfigured = NewError(ErrorCodeTransportNotConfigured, nil)
	ErrCredentialCreation     = NewError(ErrorCodeCredentialCreation, nil)
	ErrDisconnected           = NewError(ErrorCodeDisconnected, nil)
	ErrResourceNotFound       = NewError(ErrorCodeResourceNotFound, nil)
	ErrRemoteProcess          = NewError(ErrorCodeRemoteProcess, nil)
)

func NewUserRejectedError(err error) DomainError {
	if err == nil {
		err = errors.New("user rejected the request")
	}
	return NewError(ErrorCodeUserRejected, err)
}

func NewUnsupportedMethodError(method string) DomainError {
	return NewError(ErrorCodeUnsupportedMethod, fmt.Errorf("method %q is not supported", method),
		WithDetail(map[string]interface{}{"method": method}))
}

func NewChainNotFoundError(chainID uint64) DomainError {
	return NewError(ErrorCodeChainNotFound, fmt.Errorf("chain %d not found", chainID),
		WithMsg(fmt.Sprintf("Chain %d not found", chainID)))
}

func NewTransportNotConfiguredError(kind string, chainID uint64) DomainError {
	return NewError(ErrorCodeTransportNotConfigured, fmt.Errorf("%s transport not configured for chain %d", kind, chainID),
		WithMsg(fmt.Sprintf("No %s transport configured for chain %d", kind, chainID)))
}

// AsDomainError extracts the DomainError in err's chain. Errors without one
// become internal errors wrapping err.
func AsDomainError(err error) DomainError {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return NewError(ErrorCodeInternalProcess, err)
}

// RpcError is the JSON-RPC error object returned to wallet clients.
type RpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func ToRpcError(err error) *RpcError {
	if err == nil {
		return nil
	}
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	domainErr := AsDomainError(err)
	out := &RpcError{Code: domainErr.RpcCode(), Message: domainErr.ClientMsg()}
	if detail := domainErr.Detail(); detail != nil {
		out.Data = detail
	}
	return out
}
