package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// Context keys set by BearerAuth.
const (
	GrantKey    = "grant"
	ClientIDKey = "clientID"
	ScopesKey   = "scopes"
)

// ResourceChecker resolves an access token to its grant.
// *auth.Dispatcher implements it.
type ResourceChecker interface {
	Resource(ctx context.Context, accessToken string) (models.Grant, error)
}

// DenyFunc writes the response for a rejected request and aborts it.
type DenyFunc func(c *gin.Context, status int, errorCode, description string)

// BearerConfig configures BearerAuth.
type BearerConfig struct {
	Checker ResourceChecker
	// JWTSecret, when set, makes BearerAuth verify the signature and time
	// claims of JWT access tokens before consulting the token store.
	JWTSecret []byte
	Realm     string
	// Deny renders rejections; defaults to an RFC 6750 JSON body.
	Deny DenyFunc
}

// BearerAuth middleware that handles OAuth2 access tokens
// It extracts the Bearer token following RFC 6750 and resolves it through
// the token store; unknown, expired and revoked tokens are rejected
func BearerAuth(cfg BearerConfig) gin.HandlerFunc {
	if cfg.Deny == nil {
		cfg.Deny = respondWithOAuth2Error
	}
	if cfg.Realm == "" {
		cfg.Realm = "pkce-server"
	}

	return func(c *gin.Context) {
		deny := func(errorCode, description string) {
			c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error=%q, error_description=%q`,
				cfg.Realm, errorCode, description))
			cfg.Deny(c, http.StatusUnauthorized, errorCode, description)
		}

		// RFC 6750: Extract Bearer token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, cfg.Realm))
			cfg.Deny(c, http.StatusUnauthorized, "invalid_request",
				"Missing Authorization header. A valid Bearer token is required.")
			return
		}

		scheme, tokenString, _ := strings.Cut(authHeader, " ")
		if !strings.EqualFold(scheme, "Bearer") {
			deny("invalid_request", "Authorization header must use Bearer scheme. Format: 'Bearer <token>'")
			return
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			deny("invalid_token", "Bearer token is empty")
			return
		}

		if len(cfg.JWTSecret) > 0 {
			if _, err := parseAndValidateJWT(tokenString, cfg.JWTSecret); err != nil {
				deny("invalid_token", err.Error())
				return
			}
		}

		grant, err := cfg.Checker.Resource(c.Request.Context(), tokenString)
		if err != nil {
			deny("invalid_token", "The access token is unknown, expired or revoked")
			return
		}

		c.Set(GrantKey, grant)
		c.Set(ClientIDKey, grant.ClientID)
		c.Set(ScopesKey, grant.Scope)
		c.Next()
	}
}

// GrantFromContext returns the grant stored by BearerAuth.
func GrantFromContext(c *gin.Context) (models.Grant, bool) {
	value, ok := c.Get(GrantKey)
	if !ok {
		return models.Grant{}, false
	}
	grant, ok := value.(models.Grant)
	return grant, ok
}

// respondWithOAuth2Error responds with RFC 6750 compliant error format
func respondWithOAuth2Error(c *gin.Context, status int, errorCode, description string) {
	c.AbortWithStatusJSON(status, models.NewOAuth2Error(errorCode, description))
}

// parseJWTToken validates and parses a JWT token using HMAC signing method
// Returns the claims if valid, error otherwise
func parseJWTToken(tokenString string, jwtSecret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method to prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v. Expected HMAC", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parsing failed: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims format")
	}

	return claims, nil
}

// parseAndValidateJWT parses the JWT and checks the claims the issuer
// always sets
func parseAndValidateJWT(tokenString string, jwtSecret []byte) (jwt.MapClaims, error) {
	claims, err := parseJWTToken(tokenString, jwtSecret)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	// Validate issued at (iat claim) - prevents using tokens issued in the future
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("invalid iat claim: %w", err)
	}
	if iat != nil && iat.After(now) {
		return nil, fmt.Errorf("token issued in the future")
	}

	// Audience carries the client id
	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 || aud[0] == "" {
		return nil, fmt.Errorf("token missing required 'aud' claim")
	}

	return claims, nil
}
