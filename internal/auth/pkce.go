package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/go-oauth2/oauth2/v4"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// PKCEValidator binds code challenges at authorization time and checks
// verifiers at token time (RFC 7636).
type PKCEValidator struct {
	// Required rejects authorization requests without a code challenge.
	Required bool
}

// Bind validates a challenge and its transform. An empty method means
// plain. It returns nil when PKCE is optional and no challenge is given.
func (p PKCEValidator) Bind(challenge, method string) (*models.PKCEBinding, error) {
	if challenge == "" {
		if p.Required {
			return nil, ErrMissingPKCEChallenge
		}
		if method != "" {
			return nil, fmt.Errorf("%w: code_challenge_method without code_challenge", ErrInvalidRequest)
		}
		return nil, nil
	}

	transform := oauth2.CodeChallengeMethod(method)
	switch transform {
	case "":
		transform = oauth2.CodeChallengePlain
	case oauth2.CodeChallengePlain, oauth2.CodeChallengeS256:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransform, method)
	}

	return &models.PKCEBinding{Challenge: challenge, Method: transform}, nil
}

// Verify reports whether verifier satisfies binding. A nil binding
// accepts any verifier.
func (p PKCEValidator) Verify(binding *models.PKCEBinding, verifier string) bool {
	if binding == nil {
		return true
	}
	if verifier == "" {
		return false
	}

	var derived string
	switch binding.Method {
	case oauth2.CodeChallengePlain:
		derived = verifier
	case oauth2.CodeChallengeS256:
		derived = S256Challenge(verifier)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(binding.Challenge)) == 1
}

// S256Challenge derives the S256 challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
