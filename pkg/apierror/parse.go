package apierror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Raw is the shape of a response body, decided once at the network
// boundary. It is one of RawSuccess, RawAPIError or RawUnknown.
type Raw interface {
	isRaw()
}

// RawSuccess is a successful body. Envelopes of the form
// {"success": true, "data": ...} are unwrapped to their data.
type RawSuccess struct {
	Data json.RawMessage
}

// RawAPIError is a body that already carries a well-formed error: a
// non-empty code and a non-empty message. The code is not validated here.
type RawAPIError struct {
	Status int
	Err    *Error
}

// RawUnknown is a failure whose body is not a well-formed error. Message
// and Details hold whatever could be salvaged from the body.
type RawUnknown struct {
	Status  int
	Body    []byte
	Message string
	Details map[string][]string
}

func (RawSuccess) isRaw()  {}
func (RawAPIError) isRaw() {}
func (RawUnknown) isRaw()  {}

// wireBody covers every field the console API is known to use in error
// and envelope bodies. Keys match case-insensitively, so both
// {"Success":false,"Error":{...}} and {"success":false,"error":{...}} decode.
type wireBody struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
	Code    json.RawMessage `json:"code"`
	Message json.RawMessage `json:"message"`
	Title   json.RawMessage `json:"title"`
	Detail  json.RawMessage `json:"detail"`
	Details json.RawMessage `json:"details"`
	Errors  json.RawMessage `json:"errors"`
	TraceID json.RawMessage `json:"traceId"`
}

// Parse classifies a response body.
func Parse(status int, body []byte) Raw {
	trimmed := bytes.TrimSpace(body)

	var w wireBody
	isObject := len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &w) == nil

	if status >= 200 && status < 300 {
		if !isObject || w.Success == nil {
			return RawSuccess{Data: json.RawMessage(trimmed)}
		}
		if *w.Success {
			return RawSuccess{Data: w.Data}
		}
		return parseFailure(status, body, w)
	}

	if !isObject {
		return RawUnknown{Status: status, Body: body}
	}
	return parseFailure(status, body, w)
}

func parseFailure(status int, body []byte, w wireBody) Raw {
	// Nested {"error": {...}} wins over top-level fields.
	if nested := bytes.TrimSpace(w.Error); len(nested) > 0 && nested[0] == '{' {
		var inner wireBody
		if json.Unmarshal(nested, &inner) == nil {
			if e := wellFormed(inner); e != nil {
				return RawAPIError{Status: status, Err: e}
			}
			w = merge(w, inner)
		}
	}

	if e := wellFormed(w); e != nil {
		return RawAPIError{Status: status, Err: e}
	}

	message := firstString(w.Message, w.Detail, w.Title, w.Error)
	details := parseDetails(w.Errors)
	if details == nil {
		details = parseDetails(w.Details)
	}
	return RawUnknown{Status: status, Body: body, Message: message, Details: details}
}

// wellFormed returns an *Error when w has non-empty string code and message.
func wellFormed(w wireBody) *Error {
	code := stringValue(w.Code)
	message := stringValue(w.Message)
	if code == "" || message == "" {
		return nil
	}
	details := parseDetails(w.Details)
	if details == nil {
		details = parseDetails(w.Errors)
	}
	return &Error{
		Code:    Code(code),
		Message: message,
		Details: details,
		TraceID: stringValue(w.TraceID),
	}
}

func merge(outer, inner wireBody) wireBody {
	if len(inner.Message) > 0 {
		outer.Message = inner.Message
	}
	if len(inner.Title) > 0 {
		outer.Title = inner.Title
	}
	if len(inner.Detail) > 0 {
		outer.Detail = inner.Detail
	}
	if len(inner.Errors) > 0 {
		outer.Errors = inner.Errors
	}
	if len(inner.Details) > 0 {
		outer.Details = inner.Details
	}
	if len(inner.TraceID) > 0 {
		outer.TraceID = inner.TraceID
	}
	outer.Error = nil
	return outer
}

// stringValue decodes a JSON string, returning "" for anything else.
func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstString(raws ...json.RawMessage) string {
	for _, raw := range raws {
		if s := stringValue(raw); s != "" {
			return s
		}
	}
	return ""
}

// parseDetails accepts {"field": ["a", "b"]} and {"field": "a"}.
func parseDetails(raw json.RawMessage) map[string][]string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil
	}

	details := make(map[string][]string, len(fields))
	for field, value := range fields {
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			if len(list) > 0 {
				details[field] = list
			}
			continue
		}
		if s := stringValue(value); s != "" {
			details[field] = []string{s}
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// FromRaw converts a failure classification into the canonical error.
// Codes that are not part of the closed set are replaced by the status
// mapping; the server's message and details are kept.
func FromRaw(raw Raw, header http.Header) *Error {
	switch r := raw.(type) {
	case RawAPIError:
		e := *r.Err
		if !e.Code.Valid() {
			code, mapped := FromStatus(r.Status)
			e.Code = code
			if !mapped && !successStatus(r.Status) && r.Status != 0 {
				e.Message = unexpectedStatus(r.Status, e.Message)
			}
		}
		e.Status = r.Status
		if e.TraceID == "" {
			e.TraceID = header.Get("X-Request-ID")
		}
		return &e

	case RawUnknown:
		code, mapped := FromStatus(r.Status)
		message := r.Message
		switch {
		case successStatus(r.Status):
			// failed envelope on a 2xx answer
			if message == "" {
				message = "request failed"
			}
		case !mapped:
			message = unexpectedStatus(r.Status, message)
		case message == "":
			message = defaultMessage(code)
		}
		return &Error{
			Code:    code,
			Message: message,
			Details: r.Details,
			TraceID: header.Get("X-Request-ID"),
			Status:  r.Status,
		}

	default:
		return New(CodeInternalError, "unexpected success response")
	}
}

func successStatus(status int) bool {
	return status >= 200 && status < 300
}

func unexpectedStatus(status int, message string) string {
	if message == "" {
		return fmt.Sprintf("unexpected HTTP status %d", status)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", status, message)
}

func defaultMessage(code Code) string {
	switch code {
	case CodeValidationFailed:
		return "The request failed validation"
	case CodeUnauthorized:
		return "Authentication is required"
	case CodeOperationNotAllowed:
		return "The operation is not allowed"
	case CodeResourceNotFound:
		return "The requested resource was not found"
	case CodeDuplicateResource:
		return "The resource already exists"
	case CodeExternalServiceError:
		return "An upstream service is unavailable"
	case CodeTimeout:
		return "The server timed out"
	default:
		return "An internal server error occurred"
	}
}
