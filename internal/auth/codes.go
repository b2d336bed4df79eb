package auth

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// DefaultCodeTTL is how long an authorization code stays exchangeable.
const DefaultCodeTTL = 10 * time.Minute

// logPrefixLength is how much of a code or token ends up in logs.
const logPrefixLength = 8

type codeRecord struct {
	grant     models.Grant
	expiresAt time.Time
	consumed  bool
}

// AuthorizationCodeStore issues single-use authorization codes. It is not
// safe for concurrent use; the Dispatcher serializes access to it.
type AuthorizationCodeStore struct {
	codes     map[string]*codeRecord
	ttl       time.Duration
	generator TokenGenerator
	now       func() time.Time
	log       logrus.FieldLogger
}

func NewAuthorizationCodeStore(ttl time.Duration, generator TokenGenerator, now func() time.Time, log logrus.FieldLogger) *AuthorizationCodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
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
	return &AuthorizationCodeStore{
		codes:     make(map[string]*codeRecord),
		ttl:       ttl,
		generator: generator,
		now:       now,
		log:       log,
	}
}

// Issue stores grant under a fresh random code and returns the code.
func (s *AuthorizationCodeStore) Issue(grant models.Grant) (string, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	code, err := s.generator.Generate(KindCode, &grant, now, expiresAt)
	if err != nil {
		return "", err
	}
	if _, exists := s.codes[code]; exists {
		// a collision means the generator is broken
		return "", fmt.Errorf("%w: authorization code collision", ErrServerError)
	}

	s.codes[code] = &codeRecord{grant: grant, expiresAt: expiresAt}
	s.log.WithFields(logrus.Fields{
		"client_id":   grant.ClientID,
		"code_prefix": truncate(code),
		"expires_at":  expiresAt.UTC().Format(time.RFC3339),
	}).Debug("Issued authorization code")
	return code, nil
}

// Consume marks code as used and returns its grant. A code succeeds at
// most once; afterwards every call yields ErrCodeAlreadyUsed until the
// record is swept, then ErrUnknownCode.
func (s *AuthorizationCodeStore) Consume(code string) (models.Grant, error) {
	record, ok := s.codes[code]
	if !ok {
		return models.Grant{}, ErrUnknownCode
	}
	if !s.now().Before(record.expiresAt) {
		delete(s.codes, code)
		return models.Grant{}, ErrExpiredCode
	}
	if record.consumed {
		return models.Grant{}, ErrCodeAlreadyUsed
	}

	markConsumed(record)
	s.log.WithField("code_prefix", truncate(code)).Debug("Consumed authorization code")
	return record.grant, nil
}

func markConsumed(record *codeRecord) {
	if record.consumed {
		panic("auth: authorization code consumed twice")
	}
	record.consumed = true
}

// Sweep removes expired codes, consumed or not, and reports how many.
func (s *AuthorizationCodeStore) Sweep() int {
	now := s.now()
	removed := 0
	for code, record := range s.codes {
		if !now.Before(record.expiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed
}

// Len reports how many codes are held, including consumed ones.
func (s *AuthorizationCodeStore) Len() int {
	return len(s.codes)
}

func truncate(secret string) string {
	if len(secret) <= logPrefixLength {
		return secret
	}
	return secret[:logPrefixLength]
}
