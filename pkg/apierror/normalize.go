package apierror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Normalize converts any failure value into the canonical *Error. It never
// panics and never returns nil.
func Normalize(v any) (result *Error) {
	defer func() {
		if r := recover(); r != nil {
			result = Newf(CodeInternalError, "failed to normalize error: %v", r)
		}
	}()

	switch e := v.(type) {
	case nil:
		return New(CodeInternalError, "unknown error")
	case *Error:
		if e == nil {
			return New(CodeInternalError, "unknown error")
		}
		return e
	case *ResponseError:
		if e == nil {
			return New(CodeInternalError, "unknown error")
		}
		return FromRaw(Parse(e.Status, e.Body), e.Header)
	case error:
		return fromError(e)
	case string:
		if e == "" {
			return New(CodeInternalError, "unknown error")
		}
		return New(CodeInternalError, e)
	case fmt.Stringer:
		return New(CodeInternalError, e.String())
	default:
		return Newf(CodeInternalError, "%v", v)
	}
}

func fromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr != nil {
		return FromRaw(Parse(respErr.Status, respErr.Body), respErr.Header)
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeNetworkError, Message: "request canceled"}
	}

	if IsNetworkError(err) {
		return &Error{Code: CodeNetworkError, Message: err.Error()}
	}

	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// IsNetworkError reports whether err means no response was received.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var opErr net.Error
	return errors.As(err, &opErr)
}
