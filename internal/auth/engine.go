package auth

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EngineConfig wires the protocol components together.
type EngineConfig struct {
	CodeTTL      time.Duration
	Tokens       TokenConfig
	PKCERequired bool
	// Generator mints access and refresh tokens. Codes always come from a
	// RandomGenerator.
	Generator TokenGenerator
	Now       func() time.Time
	Log       logrus.FieldLogger
}

// Engine groups the stateful stores. None of its parts is safe for
// concurrent use; the Dispatcher owns it exclusively.
type Engine struct {
	Registry *ClientRegistry
	Codes    *AuthorizationCodeStore
	Tokens   *TokenStore
	Consent  *ConsentFlow
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	pkce := PKCEValidator{Required: cfg.PKCERequired}
	registry := NewClientRegistry()
	codes := NewAuthorizationCodeStore(cfg.CodeTTL, NewRandomGenerator(minRandomSize), cfg.Now,
		cfg.Log.WithField("component", "authorizer"))
	tokens := NewTokenStore(codes, registry, pkce, cfg.Tokens, cfg.Generator, cfg.Now,
		cfg.Log.WithField("component", "issuer"))
	consent := NewConsentFlow(registry, pkce, codes, cfg.Now,
		cfg.Log.WithField("component", "consent"))

	return &Engine{
		Registry: registry,
		Codes:    codes,
		Tokens:   tokens,
		Consent:  consent,
	}
}
