package models

// OAuthClient is a client registered with the authorization server.
// Clients are registered once at startup and are never mutated afterwards.
type OAuthClient struct {
	ID           string
	Name         string
	RedirectURI  string // compared byte-for-byte against authorize requests
	Scope        Scope  // upper bound for requested scopes
	Confidential bool
	SecretHash   string // bcrypt hash, only set for confidential clients
}

// IsPublic reports whether the client authenticates without a secret.
func (c *OAuthClient) IsPublic() bool {
	return !c.Confidential
}
