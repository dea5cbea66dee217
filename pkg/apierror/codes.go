package apierror

import "net/http"

// Code is a stable, machine-readable error identifier shared with the console API.
type Code string

const (
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeTimeout              Code = "TIMEOUT"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeOperationNotAllowed  Code = "OPERATION_NOT_ALLOWED"
	CodeResourceNotFound     Code = "RESOURCE_NOT_FOUND"
	CodeDuplicateResource    Code = "DUPLICATE_RESOURCE"
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

var knownCodes = map[Code]bool{
	CodeNetworkError:         true,
	CodeTimeout:              true,
	CodeValidationFailed:     true,
	CodeUnauthorized:         true,
	CodeOperationNotAllowed:  true,
	CodeResourceNotFound:     true,
	CodeDuplicateResource:    true,
	CodeExternalServiceError: true,
	CodeInternalError:        true,
}

// statusCodes maps HTTP statuses to codes. Statuses missing here fall back
// to CodeInternalError.
var statusCodes = map[int]Code{
	http.StatusBadRequest:          CodeValidationFailed,
	http.StatusUnauthorized:        CodeUnauthorized,
	http.StatusForbidden:           CodeOperationNotAllowed,
	http.StatusNotFound:            CodeResourceNotFound,
	http.StatusConflict:            CodeDuplicateResource,
	http.StatusUnprocessableEntity: CodeValidationFailed,
	http.StatusInternalServerError: CodeInternalError,
	http.StatusBadGateway:          CodeExternalServiceError,
	http.StatusServiceUnavailable:  CodeExternalServiceError,
	http.StatusGatewayTimeout:      CodeTimeout,
}

// Valid reports whether c belongs to the closed set of known codes.
func (c Code) Valid() bool {
	return knownCodes[c]
}

func (c Code) String() string {
	return string(c)
}

// FromStatus returns the code for an HTTP status and whether the status
// was present in the mapping table.
func FromStatus(status int) (Code, bool) {
	code, ok := statusCodes[status]
	if !ok {
		return CodeInternalError, false
	}
	return code, true
}
