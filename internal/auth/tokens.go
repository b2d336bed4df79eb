package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

const (
	DefaultAccessTokenTTL = time.Hour
	// DefaultRefreshTokenTTL of zero means refresh tokens never expire.
	DefaultRefreshTokenTTL = 0

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	TokenTypeBearer            = "bearer"
)

// TokenRequest carries the parameters of an authorization_code grant.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
}

// RefreshRequest carries the parameters of a refresh_token grant.
type RefreshRequest struct {
	GrantType    string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenPair is what the token and refresh endpoints hand back.
type TokenPair struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken string
	Scope        models.Scope
}

// ExpiresIn returns the access token lifetime in whole seconds relative
// to now, or zero for tokens without expiry.
func (p *TokenPair) ExpiresIn(now time.Time) int64 {
	if p.ExpiresAt.IsZero() {
		return 0
	}
	return int64(p.ExpiresAt.Sub(now).Round(time.Second) / time.Second)
}

// TokenConfig tunes token lifetimes and the refresh policy.
type TokenConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// RotateRefreshTokens replaces the refresh token on every refresh and
	// invalidates the presented one.
	RotateRefreshTokens bool
}

type tokenRecord struct {
	grant     models.Grant
	expiresAt time.Time // zero: never expires
	code      string    // authorization code the token descends from
}

func (r *tokenRecord) valid(now time.Time) bool {
	return r.expiresAt.IsZero() || now.Before(r.expiresAt)
}

// TokenStore exchanges authorization codes for tokens and validates them.
// It is not safe for concurrent use; the Dispatcher serializes access to it.
type TokenStore struct {
	codes     *AuthorizationCodeStore
	registry  *ClientRegistry
	pkce      PKCEValidator
	config    TokenConfig
	generator TokenGenerator
	now       func() time.Time
	log       logrus.FieldLogger

	access  map[string]*tokenRecord
	refresh map[string]*tokenRecord
	// byCode indexes tokens by originating code for reuse revocation.
	byCode map[string][]string
}

func NewTokenStore(codes *AuthorizationCodeStore, registry *ClientRegistry, pkce PKCEValidator, config TokenConfig,
	generator TokenGenerator, now func() time.Time, log logrus.FieldLogger) *TokenStore {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL < 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if generator == nil {
		generator = NewRandomGenerator(minRandomSize)
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TokenStore{
		codes:     codes,
		registry:  registry,
		pkce:      pkce,
		config:    config,
		generator: generator,
		now:       now,
		log:       log,
		access:    make(map[string]*tokenRecord),
		refresh:   make(map[string]*tokenRecord),
		byCode:    make(map[string][]string),
	}
}

// Exchange redeems an authorization code. The code is consumed before the
// PKCE proof is checked, so a failed proof never makes the code usable
// again.
func (s *TokenStore) Exchange(req TokenRequest) (*TokenPair, error) {
	switch {
	case req.GrantType == "":
		return nil, fmt.Errorf("%w: grant_type is required", ErrInvalidRequest)
	case req.GrantType != GrantTypeAuthorizationCode:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	case req.Code == "":
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	case req.ClientID == "":
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}

	if _, err := s.registry.Authenticate(req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	grant, err := s.codes.Consume(req.Code)
	if err != nil {
		if errors.Is(err, ErrCodeAlreadyUsed) {
			s.revokeByCode(req.Code)
		}
		return nil, err
	}

	if grant.ClientID != req.ClientID {
		return nil, fmt.Errorf("%w: code was issued to another client", ErrClientMismatch)
	}
	if req.RedirectURI != "" && req.RedirectURI != grant.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri does not match the authorization request", ErrInvalidGrant)
	}
	if !s.pkce.Verify(grant.PKCE, req.CodeVerifier) {
		return nil, fmt.Errorf("%w: code_verifier does not match code_challenge", ErrInvalidGrant)
	}

	access, accessExpiry, err := s.mint(KindAccess, &grant, req.Code)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.mint(KindRefresh, &grant, req.Code)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"client_id":     grant.ClientID,
		"access_prefix": truncate(access),
	}).Debug("Exchanged authorization code for tokens")

	return &TokenPair{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresAt:    accessExpiry,
		RefreshToken: refresh,
		Scope:        grant.Scope,
	}, nil
}

// Refresh mints a new access token for the grant behind a refresh token.
func (s *TokenStore) Refresh(req RefreshRequest) (*TokenPair, error) {
	switch {
	case req.GrantType != "" && req.GrantType != GrantTypeRefreshToken:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	case req.RefreshToken == "":
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}

	record, ok := s.refresh[req.RefreshToken]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrUnknownToken)
	}
	if !record.valid(s.now()) {
		delete(s.refresh, req.RefreshToken)
		return nil, fmt.Errorf("%w: refresh token", ErrExpiredToken)
	}
	if req.ClientID != "" && req.ClientID != record.grant.ClientID {
		return nil, fmt.Errorf("%w: refresh token was issued to another client", ErrClientMismatch)
	}
	if _, err := s.registry.Authenticate(record.grant.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	grant := record.grant
	access, accessExpiry, err := s.mint(KindAccess, &grant, record.code)
	if err != nil {
		return nil, err
	}

	refresh := req.RefreshToken
	if s.config.RotateRefreshTokens {
		refresh, _, err = s.mint(KindRefresh, &grant, record.code)
		if err != nil {
			return nil, err
		}
		delete(s.refresh, req.RefreshToken)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":     grant.ClientID,
		"access_prefix": truncate(access),
		"rotated":       s.config.RotateRefreshTokens,
	}).Debug("Refreshed access token")

	return &TokenPair{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresAt:    accessExpiry,
		RefreshToken: refresh,
		Scope:        grant.Scope,
	}, nil
}

// Check returns the grant behind a valid access token.
func (s *TokenStore) Check(accessToken string) (models.Grant, error) {
	if accessToken == "" {
		return models.Grant{}, fmt.Errorf("%w: access token", ErrUnknownToken)
	}
	record, ok := s.access[accessToken]
	if !ok {
		return models.Grant{}, fmt.Errorf("%w: access token", ErrUnknownToken)
	}
	if !record.valid(s.now()) {
		delete(s.access, accessToken)
		return models.Grant{}, fmt.Errorf("%w: access token", ErrExpiredToken)
	}
	return record.grant, nil
}

// Sweep drops expired tokens and reports how many were removed.
func (s *TokenStore) Sweep() int {
	now := s.now()
	removed := 0
	for _, tokens := range []map[string]*tokenRecord{s.access, s.refresh} {
		for token, record := range tokens {
			if !record.valid(now) {
				delete(tokens, token)
				removed++
			}
		}
	}
	for code, tokens := range s.byCode {
		live := tokens[:0]
		for _, token := range tokens {
			if s.access[token] != nil || s.refresh[token] != nil {
				live = append(live, token)
			}
		}
		if len(live) == 0 {
			delete(s.byCode, code)
		} else {
			s.byCode[code] = live
		}
	}
	return removed
}

// Len reports the number of live access and refresh tokens.
func (s *TokenStore) Len() (access, refresh int) {
	return len(s.access), len(s.refresh)
}

func (s *TokenStore) mint(kind TokenKind, grant *models.Grant, code string) (string, time.Time, error) {
	now := s.now()
	var expiresAt time.Time
	target := s.access
	switch kind {
	case KindAccess:
		expiresAt = now.Add(s.config.AccessTokenTTL)
	case KindRefresh:
		target = s.refresh
		if s.config.RefreshTokenTTL > 0 {
			expiresAt = now.Add(s.config.RefreshTokenTTL)
		}
	default:
		return "", time.Time{}, fmt.Errorf("%w: cannot mint %s as a token", ErrServerError, kind)
	}

	token, err := s.generator.Generate(kind, grant, now, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	if s.access[token] != nil || s.refresh[token] != nil {
		return "", time.Time{}, fmt.Errorf("%w: token collision", ErrServerError)
	}

	target[token] = &tokenRecord{grant: *grant, expiresAt: expiresAt, code: code}
	s.byCode[code] = append(s.byCode[code], token)
	return token, expiresAt, nil
}

// revokeByCode drops every token minted from a replayed code.
func (s *TokenStore) revokeByCode(code string) {
	tokens := s.byCode[code]
	for _, token := range tokens {
		delete(s.access, token)
		delete(s.refresh, token)
	}
	delete(s.byCode, code)
	if len(tokens) > 0 {
		s.log.WithFields(logrus.Fields{
			"code_prefix": truncate(code),
			"revoked":     len(tokens),
		}).Warn("Authorization code replayed, revoked descendant tokens")
	}
}
