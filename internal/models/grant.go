package models

import (
	"time"

	"github.com/go-oauth2/oauth2/v4"
)

// PKCEBinding is the code challenge recorded when consent was given.
type PKCEBinding struct {
	Challenge string
	Method    oauth2.CodeChallengeMethod
}

// Grant is the authorization an owner gave a client. It is owned by
// whichever code or token record currently represents it and is never
// mutated after creation.
type Grant struct {
	ClientID    string
	RedirectURI string
	Scope       Scope
	OwnerID     string
	PKCE        *PKCEBinding
	IssuedAt    time.Time
}
