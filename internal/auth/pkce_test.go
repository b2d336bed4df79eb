package auth

import (
	"testing"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS256Challenge(t *testing.T) {
	assert.Equal(t, testChallenge, S256Challenge(testVerifier))
}

func TestPKCEBind(t *testing.T) {
	testCases := []struct {
		name      string
		required  bool
		challenge string
		method    string
		expected  oauth2.CodeChallengeMethod
		wantErr   error
		wantNil   bool
	}{
		{name: "S256", required: true, challenge: testChallenge, method: "S256", expected: oauth2.CodeChallengeS256},
		{name: "plain", required: true, challenge: "abc", method: "plain", expected: oauth2.CodeChallengePlain},
		{name: "method defaults to plain", required: true, challenge: "abc", expected: oauth2.CodeChallengePlain},
		{name: "unknown transform", required: true, challenge: "abc", method: "S512", wantErr: ErrUnsupportedTransform},
		{name: "lowercase s256 is not S256", required: true, challenge: "abc", method: "s256", wantErr: ErrUnsupportedTransform},
		{name: "required but missing", required: true, wantErr: ErrMissingPKCEChallenge},
		{name: "optional and missing", required: false, wantNil: true},
		{name: "method without challenge", required: false, method: "S256", wantErr: ErrInvalidRequest},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			binding, err := PKCEValidator{Required: tt.required}.Bind(tt.challenge, tt.method)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, binding)
				return
			}
			require.NotNil(t, binding)
			assert.Equal(t, tt.challenge, binding.Challenge)
			assert.Equal(t, tt.expected, binding.Method)
		})
	}
}

func TestPKCEVerify(t *testing.T) {
	validator := PKCEValidator{Required: true}

	s256, err := validator.Bind(testChallenge, "S256")
	require.NoError(t, err)
	assert.True(t, validator.Verify(s256, testVerifier))
	assert.False(t, validator.Verify(s256, "wrong"))
	assert.False(t, validator.Verify(s256, ""))
	assert.False(t, validator.Verify(s256, testChallenge), "challenge itself is not a verifier for S256")

	plain, err := validator.Bind(testVerifier, "plain")
	require.NoError(t, err)
	assert.True(t, validator.Verify(plain, testVerifier))
	assert.False(t, validator.Verify(plain, testVerifier+"x"))

	assert.True(t, validator.Verify(nil, ""), "no binding accepts anything")
}
