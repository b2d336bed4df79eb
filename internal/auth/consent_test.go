package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsent(t *testing.T) (*ConsentFlow, *Engine) {
	t.Helper()
	engine := newTestEngine(t, newFakeClock(), TokenConfig{})
	return engine.Consent, engine
}

func TestConsentStartRendersPage(t *testing.T) {
	flow, engine := newTestConsent(t)

	result, err := flow.Start(s256Request())
	require.NoError(t, err)
	assert.Equal(t, StatePendingConsent, result.State)
	require.NotNil(t, result.Page)
	assert.Nil(t, result.Redirect)

	assert.Equal(t, testClientID, result.Page.ClientID)
	assert.Equal(t, testRedirectURI, result.Page.RedirectURI)
	assert.Equal(t, "default-scope", result.Page.Scope.String())
	assert.Equal(t, "xyz", result.Page.State)
	assert.Equal(t, testChallenge, result.Page.CodeChallenge)
	assert.Equal(t, "S256", result.Page.CodeChallengeMethod)

	assert.Equal(t, 0, engine.Codes.Len(), "a GET never issues a code")
}

func TestConsentStartDirectErrors(t *testing.T) {
	flow, _ := newTestConsent(t)

	testCases := []struct {
		name    string
		mutate  func(*AuthorizeRequest)
		wantErr error
	}{
		{name: "missing client", mutate: func(r *AuthorizeRequest) { r.ClientID = "" }, wantErr: ErrInvalidRequest},
		{name: "unknown client", mutate: func(r *AuthorizeRequest) { r.ClientID = "nobody" }, wantErr: ErrUnknownClient},
		{name: "trailing slash missing", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "http://localhost:8081" }, wantErr: ErrRedirectMismatch},
		{name: "extra path", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "http://localhost:8081/cb" }, wantErr: ErrRedirectMismatch},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			req := s256Request()
			tt.mutate(&req)
			result, err := flow.Start(req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, result)
		})
	}
}

func TestConsentStartRedirectErrors(t *testing.T) {
	flow, engine := newTestConsent(t)

	testCases := []struct {
		name      string
		mutate    func(*AuthorizeRequest)
		wantError string
		wantKind  error
	}{
		{name: "response type", mutate: func(r *AuthorizeRequest) { r.ResponseType = "token" }, wantError: "unsupported_response_type", wantKind: ErrUnsupportedResponseType},
		{name: "scope exceeded", mutate: func(r *AuthorizeRequest) { r.Scope = "admin" }, wantError: "invalid_scope", wantKind: ErrScopeExceeded},
		{name: "missing challenge", mutate: func(r *AuthorizeRequest) { r.CodeChallenge = "" }, wantError: "invalid_request", wantKind: ErrMissingPKCEChallenge},
		{name: "unsupported method", mutate: func(r *AuthorizeRequest) { r.CodeChallengeMethod = "S512" }, wantError: "invalid_request", wantKind: ErrUnsupportedTransform},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			req := s256Request()
			tt.mutate(&req)
			result, err := flow.Start(req)
			require.NoError(t, err)
			require.NotNil(t, result.Redirect)
			assert.Equal(t, StateRejected, result.State)
			assert.Nil(t, result.Page)
			assert.ErrorIs(t, result.Err, tt.wantKind)

			query := result.Redirect.Query()
			assert.Equal(t, tt.wantError, query.Get("error"))
			assert.Equal(t, "xyz", query.Get("state"))
			assert.Empty(t, query.Get("code"))
			assert.Equal(t, "localhost:8081", result.Redirect.Host)
		})
	}
	assert.Equal(t, 0, engine.Codes.Len())
}

func TestConsentDecideAllow(t *testing.T) {
	flow, engine := newTestConsent(t)
	req := s256Request()
	req.Allow = true

	result, err := flow.Decide(req, Solicitor{Mode: DecideFromRequest, OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, result.State)
	require.NotNil(t, result.Redirect)

	query := result.Redirect.Query()
	assert.Equal(t, result.Code, query.Get("code"))
	assert.Equal(t, "xyz", query.Get("state"))
	assert.Equal(t, "/", result.Redirect.Path)

	grant, err := engine.Codes.Consume(query.Get("code"))
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.OwnerID)
	require.NotNil(t, grant.PKCE)
	assert.Equal(t, testChallenge, grant.PKCE.Challenge)
}

func TestConsentDecideDeny(t *testing.T) {
	testCases := []struct {
		name      string
		allow     bool
		solicitor Solicitor
	}{
		{name: "no allow flag", allow: false, solicitor: Solicitor{Mode: DecideFromRequest}},
		{name: "deny always ignores allow", allow: true, solicitor: Solicitor{Mode: DenyAlways}},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			flow, engine := newTestConsent(t)
			req := s256Request()
			req.Allow = tt.allow

			result, err := flow.Decide(req, tt.solicitor)
			require.NoError(t, err)
			assert.Equal(t, StateDenied, result.State)
			assert.Equal(t, "access_denied", result.Redirect.Query().Get("error"))
			assert.Equal(t, "xyz", result.Redirect.Query().Get("state"))
			assert.Empty(t, result.Code)
			assert.Equal(t, 0, engine.Codes.Len(), "denied consent never issues a code")
		})
	}
}

func TestConsentAllowAlways(t *testing.T) {
	flow, engine := newTestConsent(t)

	result, err := flow.Decide(s256Request(), Solicitor{Mode: AllowAlways, OwnerID: "bot"})
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, result.State)
	assert.Equal(t, 1, engine.Codes.Len())
}

func TestConsentDecideRevalidates(t *testing.T) {
	flow, engine := newTestConsent(t)
	req := s256Request()
	req.Allow = true
	req.RedirectURI = "http://evil.example/"

	_, err := flow.Decide(req, Solicitor{Mode: DecideFromRequest})
	assert.ErrorIs(t, err, ErrRedirectMismatch)
	assert.Equal(t, 0, engine.Codes.Len())
}

func TestConsentDefaultsFromRegistration(t *testing.T) {
	flow, _ := newTestConsent(t)
	req := s256Request()
	req.RedirectURI = ""
	req.Scope = ""
	req.Allow = true

	result, err := flow.Decide(req, Solicitor{Mode: DecideFromRequest})
	require.NoError(t, err)
	assert.Equal(t, testRedirectURI, result.Grant.RedirectURI)
	assert.Equal(t, "default-scope", result.Grant.Scope.String())
}

func TestConsentTransitionTable(t *testing.T) {
	assert.Equal(t, StatePendingConsent, transition(StateStart, eventValidated))
	assert.Equal(t, StateRejected, transition(StateStart, eventInvalid))
	assert.Equal(t, StateAuthorized, transition(StatePendingConsent, eventAllow))
	assert.Equal(t, StateDenied, transition(StatePendingConsent, eventDeny))

	for _, terminal := range []ConsentState{StateAuthorized, StateDenied, StateRejected} {
		assert.Panics(t, func() { transition(terminal, eventAllow) })
	}
	assert.Panics(t, func() { transition(StateStart, eventAllow) }, "consent needs validation first")
}

func TestParseSolicitorMode(t *testing.T) {
	mode, err := ParseSolicitorMode("")
	require.NoError(t, err)
	assert.Equal(t, DecideFromRequest, mode)

	mode, err = ParseSolicitorMode(" Allow ")
	require.NoError(t, err)
	assert.Equal(t, AllowAlways, mode)

	_, err = ParseSolicitorMode("maybe")
	assert.Error(t, err)
}
