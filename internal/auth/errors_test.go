package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProtocolError(t *testing.T) {
	testCases := []struct {
		err        error
		wantError  string
		wantStatus int
	}{
		{ErrCodeAlreadyUsed, "invalid_grant", http.StatusBadRequest},
		{ErrUnknownCode, "invalid_grant", http.StatusBadRequest},
		{fmt.Errorf("%w: pkce", ErrInvalidGrant), "invalid_grant", http.StatusBadRequest},
		{ErrClientMismatch, "invalid_grant", http.StatusBadRequest},
		{ErrExpiredToken, "invalid_grant", http.StatusBadRequest},
		{ErrInvalidClient, "invalid_client", http.StatusUnauthorized},
		{ErrScopeExceeded, "invalid_scope", http.StatusBadRequest},
		{ErrAccessDenied, "access_denied", http.StatusForbidden},
		{ErrMissingPKCEChallenge, "invalid_request", http.StatusBadRequest},
		{ErrUnsupportedTransform, "invalid_request", http.StatusBadRequest},
		{ErrUnsupportedGrantType, "unsupported_grant_type", http.StatusBadRequest},
		{ErrUnsupportedResponseType, "unsupported_response_type", http.StatusBadRequest},
		{ErrServerError, "server_error", http.StatusInternalServerError},
		{errors.New("boom"), "server_error", http.StatusInternalServerError},
	}

	for _, tt := range testCases {
		t.Run(tt.err.Error(), func(t *testing.T) {
			pe := NewProtocolError(tt.err)
			assert.Equal(t, tt.wantError, pe.Response.Error)
			assert.Equal(t, tt.wantStatus, pe.StatusCode)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestProtocolErrorHidesInternals(t *testing.T) {
	pe := NewProtocolError(errors.New("database password is hunter2"))
	assert.NotContains(t, pe.Response.ErrorDescription, "hunter2")
}

func TestProtocolErrorIdempotent(t *testing.T) {
	pe := NewProtocolError(ErrAccessDenied)
	assert.Same(t, pe, NewProtocolError(pe))
	assert.Nil(t, NewProtocolError(nil))
}
