package claudeadapter

import "net/http"

// Error types of the Claude API error envelope.
const (
	ErrorTypeInvalidRequest  = "invalid_request_error"
	ErrorTypeAuthentication  = "authentication_error"
	ErrorTypePermission      = "permission_error"
	ErrorTypeNotFound        = "not_found_error"
	ErrorTypeRequestTooLarge = "request_too_large"
	ErrorTypeRateLimit       = "rate_limit_error"
	ErrorTypeAPI             = "api_error"
	ErrorTypeOverloaded      = "overloaded_error"
)

// Error is the detail of an error response.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the Claude API error envelope:
// {"type": "error", "error": {"type": ..., "message": ...}}.
type ErrorResponse struct {
	Type string `json:"type"`
	// Err is the error detail. JSON tag ensures it serializes as "error".
	Err Error `json:"error"`
	// UpstreamStatus is the provider's HTTP status when the error originated
	// there.
	UpstreamStatus int `json:"upstream_status,omitempty"`
}

// NewError creates an error response of the given type.
func NewError(errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type: "error",
		Err:  Error{Type: errType, Message: message},
	}
}

// Error implements the error interface, returning the error message.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}

// ErrorTypeForStatus maps a provider HTTP status to a Claude error type.
func ErrorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorTypeInvalidRequest
	case http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrorTypeRequestTooLarge
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusServiceUnavailable, 529:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeAPI
	}
}
