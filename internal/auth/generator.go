package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// TokenKind tells a generator which credential it is minting.
type TokenKind string

const (
	KindCode    TokenKind = "code"
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// TokenGenerator mints opaque credential strings for a grant.
type TokenGenerator interface {
	Generate(kind TokenKind, grant *models.Grant, issuedAt, expiresAt time.Time) (string, error)
}

// RandomGenerator produces base64url encoded random strings of Size bytes.
type RandomGenerator struct {
	Size int
}

// minRandomSize is the smallest entropy accepted for any credential.
const minRandomSize = 16

func NewRandomGenerator(size int) *RandomGenerator {
	if size < minRandomSize {
		size = minRandomSize
	}
	return &RandomGenerator{Size: size}
}

func (g *RandomGenerator) Generate(TokenKind, *models.Grant, time.Time, time.Time) (string, error) {
	return randomString(g.Size)
}

func randomString(size int) (string, error) {
	if size < minRandomSize {
		size = minRandomSize
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: reading random bytes: %v", ErrServerError, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// JWTGenerator produces signed JWT access tokens carrying the grant's
// client, owner and scope. Refresh tokens and codes fall back to random
// strings since they are never inspected by resource servers.
type JWTGenerator struct {
	SignedKey    []byte
	SignedMethod jwt.SigningMethod
	Issuer       string
	fallback     *RandomGenerator
}

// NewJWTGenerator creates a generator signing with key using method.
func NewJWTGenerator(key []byte, method jwt.SigningMethod, issuer string) *JWTGenerator {
	return &JWTGenerator{
		SignedKey:    key,
		SignedMethod: method,
		Issuer:       issuer,
		fallback:     NewRandomGenerator(minRandomSize),
	}
}

func (g *JWTGenerator) Generate(kind TokenKind, grant *models.Grant, issuedAt, expiresAt time.Time) (string, error) {
	if kind != KindAccess {
		return g.fallback.Generate(kind, grant, issuedAt, expiresAt)
	}
	if grant == nil {
		return "", fmt.Errorf("%w: cannot sign a token without a grant", ErrServerError)
	}

	jti, err := randomString(minRandomSize)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"aud": grant.ClientID,
		"sub": grant.OwnerID,
		"iat": issuedAt.Unix(),
		"jti": jti,
	}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}
	if g.Issuer != "" {
		claims["iss"] = g.Issuer
	}
	if !grant.Scope.IsEmpty() {
		claims["scope"] = grant.Scope.String()
	}

	token := jwt.NewWithClaims(g.SignedMethod, claims)
	access, err := token.SignedString(g.SignedKey)
	if err != nil {
		return "", fmt.Errorf("%w: signing access token: %v", ErrServerError, err)
	}
	return access, nil
}
