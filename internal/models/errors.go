package models

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable error code returned to API clients.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeForbidden        ErrorCode = "forbidden"
	ErrCodeInvalidState     ErrorCode = "invalid_state"
	ErrCodeInvalidArgument  ErrorCode = "invalid_argument"
	ErrCodeConflict         ErrorCode = "conflict"
	ErrCodeTooEarly         ErrorCode = "too_early"
	ErrCodeGatewayError     ErrorCode = "gateway_error"
	ErrCodeGatewayTimeout   ErrorCode = "gateway_timeout"
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
)

// AppError carries an error code plus a short user-safe message.
// Internal details stay in Err and are only logged, never serialized.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to an HTTP status code.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound:
		return 404
	case ErrCodeForbidden:
		return 403
	case ErrCodeConflict:
		return 409
	case ErrCodeGatewayError:
		return 502
	case ErrCodeGatewayTimeout:
		return 504
	case ErrCodeInvalidSignature:
		return 400
	default:
		return 400
	}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

func NewInvalidState(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidState, Message: message}
}

func NewInvalidArgument(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidArgument, Message: message}
}

func NewConflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

func NewTooEarly(message string) *AppError {
	return &AppError{Code: ErrCodeTooEarly, Message: message}
}

func NewGatewayError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeGatewayError, Message: message, Err: err}
}

func NewGatewayTimeout(message string, err error) *AppError {
	return &AppError{Code: ErrCodeGatewayTimeout, Message: message, Err: err}
}

func NewInvalidSignature(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidSignature, Message: message}
}

// AsAppError returns err as *AppError if it is one, unwrapping as needed.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
