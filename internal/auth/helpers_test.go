package auth

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// RFC 7636 appendix B test vector
const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	testClientID    = "LocalClient"
	testRedirectURI = "http://localhost:8081/"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testClient() models.OAuthClient {
	return models.OAuthClient{
		ID:          testClientID,
		RedirectURI: testRedirectURI,
		Scope:       models.MustParseScope("default-scope"),
	}
}

func newTestEngine(t *testing.T, clock *fakeClock, tokens TokenConfig) *Engine {
	t.Helper()
	engine := NewEngine(EngineConfig{
		Tokens:       tokens,
		PKCERequired: true,
		Now:          clock.Now,
		Log:          quietLogger(),
	})
	require.NoError(t, engine.Registry.Register(testClient()))
	return engine
}

func s256Request() AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "default-scope",
		State:               "xyz",
		CodeChallenge:       testChallenge,
		CodeChallengeMethod: "S256",
	}
}

func testGrant(clock *fakeClock) models.Grant {
	return models.Grant{
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Scope:       models.MustParseScope("default-scope"),
		OwnerID:     "owner",
		PKCE:        &models.PKCEBinding{Challenge: testChallenge, Method: "S256"},
		IssuedAt:    clock.Now(),
	}
}
