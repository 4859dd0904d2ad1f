package errors

import (
	"fmt"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"
	ErrCodeHandshake    ErrorCode = "HANDSHAKE_FAILED"
	ErrCodeSendTimeout  ErrorCode = "SEND_TIMEOUT"
	ErrCodeTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrCodeProtocol     ErrorCode = "PROTOCOL_ERROR"
	ErrCodeEncoder      ErrorCode = "ENCODER_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapError wraps an existing error with a code and message
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message)
}

// NewTransportError wraps a transport-level failure
func NewTransportError(err error, message string) *AppError {
	return WrapError(err, ErrCodeTransport, message)
}

// NewProtocolError creates a protocol-level error surfaced by the gateway
func NewProtocolError(message string, code string) *AppError {
	e := NewAppError(ErrCodeProtocol, message)
	return e.WithContext("gateway_code", code)
}
