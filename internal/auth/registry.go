package auth

import (
	"fmt"
	"net/url"

	"golang.org/x/crypto/bcrypt"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// ClientRegistry stores registered clients. It is not safe for concurrent
// use; the Dispatcher serializes access to it.
type ClientRegistry struct {
	clients map[string]*models.OAuthClient
}

// PreGrant is the validated part of an authorization request, before the
// owner has decided.
type PreGrant struct {
	ClientID    string
	RedirectURI string
	Scope       models.Scope
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*models.OAuthClient)}
}

// Register adds a client. The redirect URI must be an absolute URI and the
// id must not already be registered. The registered scope is stored
// normalized.
func (r *ClientRegistry) Register(client models.OAuthClient) error {
	if client.ID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidRequest)
	}
	if _, ok := r.clients[client.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, client.ID)
	}
	parsed, err := url.Parse(client.RedirectURI)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRedirectURI, client.RedirectURI)
	}
	if client.Confidential && client.SecretHash == "" {
		return fmt.Errorf("%w: confidential client %s has no secret", ErrInvalidRequest, client.ID)
	}

	scope, err := models.ParseScope(client.Scope.String())
	if err != nil {
		return fmt.Errorf("%w: client %s: %v", ErrInvalidRequest, client.ID, err)
	}

	stored := client
	stored.Scope = scope
	r.clients[client.ID] = &stored
	return nil
}

// Lookup returns a copy of the registered client.
func (r *ClientRegistry) Lookup(id string) (models.OAuthClient, error) {
	client, ok := r.clients[id]
	if !ok {
		return models.OAuthClient{}, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	return *client, nil
}

// Validate checks an authorization request against the registration.
// An empty redirectURI or scope falls back to the registered value; a
// supplied redirect URI must match the registered one exactly.
func (r *ClientRegistry) Validate(id, redirectURI string, requested models.Scope) (*PreGrant, error) {
	client, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	if redirectURI == "" {
		redirectURI = client.RedirectURI
	} else if redirectURI != client.RedirectURI {
		return nil, fmt.Errorf("%w: %q is not registered for %s", ErrRedirectMismatch, redirectURI, id)
	}

	scope := requested
	if scope.IsEmpty() {
		scope = client.Scope
	} else if !scope.IsSubsetOf(client.Scope) {
		return nil, fmt.Errorf("%w: requested %q, registered %q", ErrScopeExceeded, scope, client.Scope)
	}

	return &PreGrant{
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		Scope:       append(models.Scope(nil), scope...),
	}, nil
}

// Authenticate verifies client credentials presented at the token
// endpoint. Public clients pass without a secret.
func (r *ClientRegistry) Authenticate(id, secret string) (models.OAuthClient, error) {
	client, err := r.Lookup(id)
	if err != nil {
		return models.OAuthClient{}, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	if client.IsPublic() {
		return client, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return models.OAuthClient{}, fmt.Errorf("%w: %s", ErrInvalidClient, id)
	}
	return client, nil
}
