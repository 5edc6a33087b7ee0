package http

import (
	"fmt"
	"net/http"
)

const (
	CodeBadRequest = "ERR_BAD_REQUEST"
	CodeNotFound   = "ERR_NOT_FOUND"
	CodeUpstream   = "ERR_UPSTREAM"
	CodeInternal   = "ERR_INTERNAL"
	CodeRateLimit  = "ERR_RATE_LIMIT"
)

// AppError is an error that knows its HTTP status and stable code.
type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithError attaches the cause.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func BadRequestError(message string) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest)
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound)
}

// UpstreamError reports a failure of a provider this service depends on.
func UpstreamError(message string) *AppError {
	return NewAppError(CodeUpstream, message, http.StatusBadGateway)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError(CodeRateLimit, message, http.StatusTooManyRequests)
}

func InternalError(message string) *AppError {
	return NewAppError(CodeInternal, message, http.StatusInternalServerError)
}
