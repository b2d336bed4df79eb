package controllers

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/auth"
	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ResourceBody is what the protected resource serves.
const ResourceBody = "SECRET DATA"

// OAuthDispatcher is the part of *auth.Dispatcher the HTTP layer drives.
type OAuthDispatcher interface {
	Authorize(ctx context.Context, req auth.AuthorizeRequest) (*auth.AuthorizeResult, error)
	Decide(ctx context.Context, req auth.AuthorizeRequest) (*auth.AuthorizeResult, error)
	Token(ctx context.Context, req auth.TokenRequest) (*auth.TokenPair, error)
	Refresh(ctx context.Context, req auth.RefreshRequest) (*auth.TokenPair, error)
}

// OAuthController handles the authorization server endpoints
type OAuthController struct {
	dispatcher OAuthDispatcher
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewOAuthController(dispatcher OAuthDispatcher, log logrus.FieldLogger) *OAuthController {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OAuthController{dispatcher: dispatcher, now: time.Now, log: log}
}

type consentView struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

type denyView struct {
	Title       string
	Error       string
	Description string
}

// Authorize godoc
// @Summary Start an authorization request
// @Description Validates the request and renders the consent page. Never issues a code.
// @Tags OAuth2
// @Produce html
// @Param response_type query string true "Must be code"
// @Param client_id query string true "Client identifier"
// @Param redirect_uri query string false "Registered redirect URI"
// @Param scope query string false "Space separated scopes"
// @Param state query string false "Opaque client state"
// @Param code_challenge query string false "PKCE code challenge"
// @Param code_challenge_method query string false "plain or S256"
// @Success 200 {string} string "Consent page"
// @Failure 302 "Redirect carrying an OAuth error"
// @Failure 400 {string} string "Error page for unknown clients or redirect mismatches"
// @Router /oauth/authorize [get]
func (oc *OAuthController) Authorize(c *gin.Context) {
	result, err := oc.dispatcher.Authorize(c.Request.Context(), authorizeRequest(c))
	if err != nil {
		oc.renderError(c, err)
		return
	}
	if result.Redirect != nil {
		c.Redirect(http.StatusFound, result.Redirect.String())
		return
	}

	page := result.Page
	c.Header("Cache-Control", "no-store")
	c.Render(http.StatusOK, render.HTML{Template: pages, Name: "consent.html", Data: consentView{
		ClientID:            page.ClientID,
		RedirectURI:         page.RedirectURI,
		Scope:               page.Scope.String(),
		Scopes:              page.Scope,
		State:               page.State,
		CodeChallenge:       page.CodeChallenge,
		CodeChallengeMethod: page.CodeChallengeMethod,
	}})
}

// Decide godoc
// @Summary Submit the owner's consent decision
// @Description Re-validates the request and redirects with a code on allow=true, or with access_denied otherwise.
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Param allow formData string false "true to grant access"
// @Failure 302 "Redirect to the client with code or error"
// @Failure 400 {string} string "Error page for unknown clients or redirect mismatches"
// @Router /oauth/authorize [post]
func (oc *OAuthController) Decide(c *gin.Context) {
	req := authorizeRequest(c)
	req.Allow = param(c, "allow") == "true"

	result, err := oc.dispatcher.Decide(c.Request.Context(), req)
	if err != nil {
		oc.renderError(c, err)
		return
	}
	c.Redirect(http.StatusFound, result.Redirect.String())
}

// Token godoc
// @Summary Exchange an authorization code
// @Description Redeems a code with its PKCE verifier. grant_type=refresh_token is accepted too.
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "authorization_code or refresh_token"
// @Param code formData string false "Authorization code"
// @Param redirect_uri formData string false "Redirect URI of the authorization request"
// @Param client_id formData string false "Client identifier"
// @Param code_verifier formData string false "PKCE code verifier"
// @Param refresh_token formData string false "Refresh token"
// @Success 200 {object} models.TokenResponse
// @Failure 400 {object} models.OAuth2Error
// @Failure 401 {object} models.OAuth2Error
// @Router /oauth/token [post]
func (oc *OAuthController) Token(c *gin.Context) {
	if param(c, "grant_type") == auth.GrantTypeRefreshToken {
		oc.Refresh(c)
		return
	}

	clientID, secret := clientCredentials(c)
	pair, err := oc.dispatcher.Token(c.Request.Context(), auth.TokenRequest{
		GrantType:    param(c, "grant_type"),
		Code:         param(c, "code"),
		RedirectURI:  param(c, "redirect_uri"),
		ClientID:     clientID,
		ClientSecret: secret,
		CodeVerifier: param(c, "code_verifier"),
	})
	oc.respondToken(c, pair, err)
}

// Refresh godoc
// @Summary Refresh an access token
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string false "refresh_token"
// @Param refresh_token formData string true "Refresh token"
// @Success 200 {object} models.TokenResponse
// @Failure 400 {object} models.OAuth2Error
// @Router /oauth/refresh [post]
func (oc *OAuthController) Refresh(c *gin.Context) {
	clientID, secret := clientCredentials(c)
	pair, err := oc.dispatcher.Refresh(c.Request.Context(), auth.RefreshRequest{
		GrantType:    param(c, "grant_type"),
		RefreshToken: param(c, "refresh_token"),
		ClientID:     clientID,
		ClientSecret: secret,
	})
	oc.respondToken(c, pair, err)
}

// Resource godoc
// @Summary Protected resource
// @Tags Resource
// @Produce plain
// @Success 200 {string} string "SECRET DATA"
// @Failure 401 {string} string "Deny page"
// @Security BearerAuth
// @Router /resource [get]
func (oc *OAuthController) Resource(c *gin.Context) {
	c.String(http.StatusOK, ResourceBody)
}

// DenyPage renders rejected resource requests; it fits middleware.DenyFunc.
func (oc *OAuthController) DenyPage(c *gin.Context, status int, errorCode, description string) {
	c.Render(status, render.HTML{Template: pages, Name: "deny.html", Data: denyView{
		Title:       "Access denied",
		Error:       errorCode,
		Description: description,
	}})
	c.Abort()
}

func (oc *OAuthController) respondToken(c *gin.Context, pair *auth.TokenPair, err error) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	if err != nil {
		pe := auth.NewProtocolError(err)
		if pe.StatusCode == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", `Basic realm="pkce-server"`)
		}
		oc.log.WithFields(logrus.Fields{
			"error":  pe.Response.Error,
			"status": pe.StatusCode,
		}).Debug("Token request rejected")
		c.JSON(pe.StatusCode, pe.Response)
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn(oc.now()),
		RefreshToken: pair.RefreshToken,
		Scope:        pair.Scope.String(),
	})
}

// renderError shows errors that cannot be redirected to the client.
func (oc *OAuthController) renderError(c *gin.Context, err error) {
	pe := auth.NewProtocolError(err)
	c.Render(pe.StatusCode, render.HTML{Template: pages, Name: "deny.html", Data: denyView{
		Title:       "Invalid authorization request",
		Error:       pe.Response.Error,
		Description: pe.Response.ErrorDescription,
	}})
}

// param reads a value from the form body or, failing that, the query.
func param(c *gin.Context, key string) string {
	if value, ok := c.GetPostForm(key); ok {
		return value
	}
	return c.Query(key)
}

func authorizeRequest(c *gin.Context) auth.AuthorizeRequest {
	return auth.AuthorizeRequest{
		ResponseType:        param(c, "response_type"),
		ClientID:            param(c, "client_id"),
		RedirectURI:         param(c, "redirect_uri"),
		Scope:               param(c, "scope"),
		State:               param(c, "state"),
		CodeChallenge:       param(c, "code_challenge"),
		CodeChallengeMethod: param(c, "code_challenge_method"),
	}
}

// clientCredentials prefers HTTP Basic credentials over form parameters.
func clientCredentials(c *gin.Context) (string, string) {
	if id, secret, ok := c.Request.BasicAuth(); ok {
		return id, secret
	}
	return param(c, "client_id"), param(c, "client_secret")
}
