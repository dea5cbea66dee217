package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the canonical failure returned by the console client. Every
// failure surfaced by pkg/client is exactly one *Error.
type Error struct {
	Code    Code                `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
	TraceID string              `json:"traceId,omitempty"`

	// Status is the HTTP status that produced the error, 0 when the
	// request never got a response.
	Status int `json:"-"`
}

// New creates an error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (trace %s)", e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status carried by the error. The retry
// engine uses it to tell status failures from network failures.
func (e *Error) StatusCode() int {
	return e.Status
}

// Is matches another *Error by code, so errors.Is(err, apierror.New(CodeUnauthorized, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e with the given field messages merged in.
func (e *Error) WithDetails(details map[string][]string) *Error {
	out := *e
	if len(details) == 0 {
		return &out
	}
	merged := make(map[string][]string, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range details {
		merged[k] = append(merged[k], v...)
	}
	out.Details = merged
	return &out
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternalError when there is none.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// ResponseError is a response the server answered with a failure: a
// non-2xx status, or a 2xx envelope reporting success=false.
type ResponseError struct {
	Status int
	Body   []byte
	Header http.Header
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Status, http.StatusText(e.Status))
}

// StatusCode returns the HTTP status of the failed response.
func (e *ResponseError) StatusCode() int {
	return e.Status
}

// NetworkError marks a failure where no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error"
	}
	return e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
