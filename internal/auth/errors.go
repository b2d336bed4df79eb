package auth

import (
	"errors"
	"fmt"
	"net/http"

	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// Error kinds raised by the engine. Callers use errors.Is against these;
// the wire representation is produced by NewProtocolError.
var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrUnknownClient           = errors.New("unknown client")
	ErrDuplicateClient         = errors.New("duplicate client")
	ErrInvalidRedirectURI      = errors.New("invalid redirect uri")
	ErrRedirectMismatch        = errors.New("redirect uri mismatch")
	ErrScopeExceeded           = errors.New("scope exceeds registered scope")
	ErrMissingPKCEChallenge    = errors.New("missing pkce code challenge")
	ErrUnsupportedTransform    = errors.New("unsupported code challenge method")
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	ErrAccessDenied            = errors.New("access denied")
	ErrInvalidGrant            = errors.New("invalid grant")
	ErrClientMismatch          = errors.New("client mismatch")
	ErrInvalidClient           = errors.New("client authentication failed")
	ErrUnsupportedGrantType    = errors.New("unsupported grant type")
	ErrUnknownToken            = errors.New("unknown token")
	ErrExpiredToken            = errors.New("expired token")
	ErrServerError             = errors.New("server error")

	// Code failures all surface as invalid_grant on the wire.
	ErrUnknownCode     = fmt.Errorf("%w: unknown authorization code", ErrInvalidGrant)
	ErrExpiredCode     = fmt.Errorf("%w: authorization code expired", ErrInvalidGrant)
	ErrCodeAlreadyUsed = fmt.Errorf("%w: authorization code already used", ErrInvalidGrant)
)

// wireErrors maps engine kinds to RFC 6749 error codes and statuses.
// Order matters: the first kind matched by errors.Is wins.
var wireErrors = []struct {
	kind   error
	wire   error
	status int
}{
	{ErrInvalidGrant, oauth2errors.ErrInvalidGrant, http.StatusBadRequest},
	{ErrClientMismatch, oauth2errors.ErrInvalidGrant, http.StatusBadRequest},
	{ErrUnknownToken, oauth2errors.ErrInvalidGrant, http.StatusBadRequest},
	{ErrExpiredToken, oauth2errors.ErrInvalidGrant, http.StatusBadRequest},
	{ErrInvalidClient, oauth2errors.ErrInvalidClient, http.StatusUnauthorized},
	{ErrUnknownClient, oauth2errors.ErrInvalidClient, http.StatusBadRequest},
	{ErrScopeExceeded, oauth2errors.ErrInvalidScope, http.StatusBadRequest},
	{ErrAccessDenied, oauth2errors.ErrAccessDenied, http.StatusForbidden},
	{ErrUnsupportedResponseType, oauth2errors.ErrUnsupportedResponseType, http.StatusBadRequest},
	{ErrUnsupportedGrantType, oauth2errors.ErrUnsupportedGrantType, http.StatusBadRequest},
	{ErrInvalidRequest, oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
	{ErrRedirectMismatch, oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
	{ErrInvalidRedirectURI, oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
	{ErrMissingPKCEChallenge, oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
	{ErrUnsupportedTransform, oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
	{ErrDuplicateClient, oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
}

// ProtocolError is the uniform external shape of every engine failure.
// It unwraps to the engine kind so errors.Is keeps working.
type ProtocolError struct {
	Kind       error
	StatusCode int
	Response   models.OAuth2Error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Response.Error, e.Kind)
}

func (e *ProtocolError) Unwrap() error {
	return e.Kind
}

// NewProtocolError maps err to its wire representation. A nil error
// yields nil; an already mapped error is returned unchanged.
func NewProtocolError(err error) *ProtocolError {
	if err == nil {
		return nil
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}

	wire, status := oauth2errors.ErrServerError, http.StatusInternalServerError
	for _, m := range wireErrors {
		if errors.Is(err, m.kind) {
			wire, status = m.wire, m.status
			break
		}
	}

	description := err.Error()
	if wire == oauth2errors.ErrServerError {
		// internal details never leave the process
		description = oauth2errors.Descriptions[wire]
	}

	return &ProtocolError{
		Kind:       err,
		StatusCode: status,
		Response:   models.NewOAuth2Error(wire.Error(), description),
	}
}
