package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// ConsentState is a node of the owner consent state machine.
type ConsentState string

const (
	StateStart          ConsentState = "start"
	StatePendingConsent ConsentState = "pending_consent"
	StateAuthorized     ConsentState = "authorized"
	StateDenied         ConsentState = "denied"
	// StateRejected marks a request that failed validation.
	StateRejected ConsentState = "rejected"
)

type consentEvent string

const (
	eventValidated consentEvent = "validated"
	eventInvalid   consentEvent = "invalid"
	eventAllow     consentEvent = "allow"
	eventDeny      consentEvent = "deny"
)

// consentTransitions is the complete transition table. Authorized, Denied
// and Rejected are terminal.
var consentTransitions = map[ConsentState]map[consentEvent]ConsentState{
	StateStart: {
		eventValidated: StatePendingConsent,
		eventInvalid:   StateRejected,
	},
	StatePendingConsent: {
		eventAllow: StateAuthorized,
		eventDeny:  StateDenied,
	},
}

func transition(from ConsentState, event consentEvent) ConsentState {
	to, ok := consentTransitions[from][event]
	if !ok {
		panic(fmt.Sprintf("auth: illegal consent transition %s --%s-->", from, event))
	}
	return to
}

// SolicitorMode selects how the owner's decision is obtained on POST.
type SolicitorMode string

const (
	// DecideFromRequest authorizes iff the request carries allow=true.
	DecideFromRequest SolicitorMode = "prompt"
	AllowAlways       SolicitorMode = "allow"
	DenyAlways        SolicitorMode = "deny"
)

// ParseSolicitorMode accepts prompt, allow or deny.
func ParseSolicitorMode(raw string) (SolicitorMode, error) {
	switch mode := SolicitorMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case DecideFromRequest, AllowAlways, DenyAlways:
		return mode, nil
	case "":
		return DecideFromRequest, nil
	default:
		return "", fmt.Errorf("unknown consent mode %q (supported: prompt, allow, deny)", raw)
	}
}

// Solicitor decides owner consent for a pending authorization request.
type Solicitor struct {
	Mode    SolicitorMode
	OwnerID string
}

func (s Solicitor) decide(req AuthorizeRequest) consentEvent {
	switch s.Mode {
	case AllowAlways:
		return eventAllow
	case DenyAlways:
		return eventDeny
	default:
		if req.Allow {
			return eventAllow
		}
		return eventDeny
	}
}

// AuthorizeRequest carries authorize endpoint parameters as the client sent
// them. Nothing about a pending consent is kept server side; the POST
// carries everything forward.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Allow               bool
}

// ConsentPage is everything needed to render the consent prompt and have
// its form echo the request back.
type ConsentPage struct {
	ClientID            string
	RedirectURI         string
	Scope               models.Scope
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult is the outcome of an authorize step. Exactly one of Page
// and Redirect is set.
type AuthorizeResult struct {
	State    ConsentState
	Page     *ConsentPage
	Redirect *url.URL
	Code     string
	Grant    *models.Grant
	// Err is set on redirects that carry an OAuth error.
	Err error
}

// CodeIssuer is the part of AuthorizationCodeStore ConsentFlow needs.
type CodeIssuer interface {
	Issue(grant models.Grant) (string, error)
}

// ConsentFlow runs the two step owner consent handshake.
type ConsentFlow struct {
	registry *ClientRegistry
	pkce     PKCEValidator
	codes    CodeIssuer
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewConsentFlow(registry *ClientRegistry, pkce PKCEValidator, codes CodeIssuer, now func() time.Time, log logrus.FieldLogger) *ConsentFlow {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConsentFlow{registry: registry, pkce: pkce, codes: codes, now: now, log: log}
}

type pendingConsent struct {
	pre  *PreGrant
	pkce *models.PKCEBinding
}

// Start validates an authorize GET and returns the consent page. It never
// issues a code. Errors that cannot be sent to a verified redirect URI are
// returned directly; the rest become error redirects.
func (f *ConsentFlow) Start(req AuthorizeRequest) (*AuthorizeResult, error) {
	pending, result, err := f.validate(req)
	if err != nil || result != nil {
		return result, err
	}
	return &AuthorizeResult{
		State: transition(StateStart, eventValidated),
		Page: &ConsentPage{
			ClientID:            pending.pre.ClientID,
			RedirectURI:         pending.pre.RedirectURI,
			Scope:               pending.pre.Scope,
			State:               req.State,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
		},
	}, nil
}

// Decide rebuilds the pending consent from the POSTed parameters and
// applies the solicitor's decision.
func (f *ConsentFlow) Decide(req AuthorizeRequest, solicitor Solicitor) (*AuthorizeResult, error) {
	pending, result, err := f.validate(req)
	if err != nil || result != nil {
		return result, err
	}

	state := transition(transition(StateStart, eventValidated), solicitor.decide(req))
	if state == StateDenied {
		f.log.WithField("client_id", pending.pre.ClientID).Info("Owner denied consent")
		result := f.errorRedirect(pending.pre.RedirectURI, req.State, ErrAccessDenied)
		result.State = StateDenied
		return result, nil
	}

	grant := models.Grant{
		ClientID:    pending.pre.ClientID,
		RedirectURI: pending.pre.RedirectURI,
		Scope:       pending.pre.Scope,
		OwnerID:     solicitor.OwnerID,
		PKCE:        pending.pkce,
		IssuedAt:    f.now(),
	}
	code, err := f.codes.Issue(grant)
	if err != nil {
		return nil, err
	}

	params := url.Values{"code": {code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	target, err := withQuery(pending.pre.RedirectURI, params)
	if err != nil {
		return nil, err
	}
	return &AuthorizeResult{State: state, Redirect: target, Code: code, Grant: &grant}, nil
}

// validate runs the Start checks. It returns a pending consent, or a
// redirect result carrying an error, or a direct error.
func (f *ConsentFlow) validate(req AuthorizeRequest) (*pendingConsent, *AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	// client and redirect first: until both check out there is no safe
	// place to send an error to
	pre, err := f.registry.Validate(req.ClientID, req.RedirectURI, nil)
	if err != nil {
		return nil, nil, err
	}

	reject := func(err error) (*pendingConsent, *AuthorizeResult, error) {
		f.log.WithFields(logrus.Fields{
			"client_id": req.ClientID,
			"error":     err.Error(),
		}).Info("Rejected authorization request")
		result := f.errorRedirect(pre.RedirectURI, req.State, err)
		result.State = transition(StateStart, eventInvalid)
		return nil, result, nil
	}

	if req.ResponseType != "code" {
		return reject(fmt.Errorf("%w: %q", ErrUnsupportedResponseType, req.ResponseType))
	}
	requested, err := models.ParseScope(req.Scope)
	if err != nil {
		return reject(fmt.Errorf("%w: %v", ErrScopeExceeded, err))
	}
	pre, err = f.registry.Validate(req.ClientID, req.RedirectURI, requested)
	if err != nil {
		return reject(err)
	}
	binding, err := f.pkce.Bind(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return reject(err)
	}
	return &pendingConsent{pre: pre, pkce: binding}, nil, nil
}

func (f *ConsentFlow) errorRedirect(redirectURI, state string, cause error) *AuthorizeResult {
	pe := NewProtocolError(cause)
	params := url.Values{"error": {pe.Response.Error}}
	if pe.Response.ErrorDescription != "" {
		params.Set("error_description", pe.Response.ErrorDescription)
	}
	if state != "" {
		params.Set("state", state)
	}
	target, err := withQuery(redirectURI, params)
	if err != nil {
		// registered URIs are parsed at registration
		panic(err)
	}
	return &AuthorizeResult{Redirect: target, Err: cause}
}

func withQuery(base string, params url.Values) (*url.URL, error) {
	target, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerError, err)
	}
	query := target.Query()
	for key, values := range params {
		query[key] = values
	}
	target.RawQuery = query.Encode()
	return target, nil
}
