package models

// APIError is the JSON body of errors outside the OAuth2 endpoints
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError codes
const (
	ErrBadRequest     = "BAD_REQUEST"
	ErrTooManyRequest = "TOO_MANY_REQUESTS"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

func NewAPIError(code, message string) APIError {
	return APIError{Code: code, Message: message}
}

// OAuth2Error is an RFC 6749 section 5.2 error body
type OAuth2Error struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func NewOAuth2Error(code, description string) OAuth2Error {
	return OAuth2Error{
		Error:            code,
		ErrorDescription: description,
	}
}
