package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franciscosanchezn/gin-pkce-server/internal/auth"
	"github.com/franciscosanchezn/gin-pkce-server/internal/middleware"
	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
	"github.com/franciscosanchezn/gin-pkce-server/internal/services"
)

type fakeAuditReader struct {
	events []models.AuditEvent
	err    error
	filter services.AuditFilter
}

func (f *fakeAuditReader) List(_ context.Context, filter services.AuditFilter) ([]models.AuditEvent, error) {
	f.filter = filter
	return f.events, f.err
}

type staticChecker struct {
	grants map[string]models.Grant
}

func (s staticChecker) Resource(_ context.Context, token string) (models.Grant, error) {
	grant, ok := s.grants[token]
	if !ok {
		return models.Grant{}, auth.NewProtocolError(auth.ErrUnknownToken)
	}
	return grant, nil
}

func newAuditRouter(reader AuditReader) *gin.Engine {
	checker := staticChecker{grants: map[string]models.Grant{
		"auditor": {ClientID: testClientID, Scope: models.MustParseScope("audit default-scope")},
		"plain":   {ClientID: testClientID, Scope: models.MustParseScope("default-scope")},
	}}
	router := gin.New()
	RegisterAuditRoutes(router, NewAuditController(reader, quietLogger()),
		middleware.BearerAuth(middleware.BearerConfig{Checker: checker}),
		middleware.RequireScope("audit"))
	return router
}

func getAudit(router *gin.Engine, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuditListFiltersAndLimits(t *testing.T) {
	reader := &fakeAuditReader{events: []models.AuditEvent{{
		ID:        "1",
		Type:      models.AuditCodeReused,
		ClientID:  testClientID,
		Subject:   "abcdefgh",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	router := newAuditRouter(reader)

	rec := getAudit(router, "/audit?type=code_reused&client_id=LocalClient&limit=10", "auditor")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.AuditFilter{Type: models.AuditCodeReused, ClientID: testClientID, Limit: 10}, reader.filter)

	var body struct {
		Events []models.AuditEvent `json:"events"`
		Count  int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Events, 1)
	assert.Equal(t, models.AuditCodeReused, body.Events[0].Type)

	rec = getAudit(router, "/audit", "auditor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultAuditLimit, reader.filter.Limit)

	rec = getAudit(router, "/audit?limit=100000", "auditor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxAuditLimit, reader.filter.Limit)
}

func TestAuditListRejectsBadLimit(t *testing.T) {
	router := newAuditRouter(&fakeAuditReader{})

	for _, limit := range []string{"0", "-3", "many"} {
		rec := getAudit(router, "/audit?limit="+limit, "auditor")
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
		assert.Contains(t, rec.Body.String(), models.ErrBadRequest)
	}
}

func TestAuditListEmptyTrail(t *testing.T) {
	router := newAuditRouter(&fakeAuditReader{})

	rec := getAudit(router, "/audit", "auditor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[],"count":0}`, rec.Body.String())
}

func TestAuditListStoreFailure(t *testing.T) {
	router := newAuditRouter(&fakeAuditReader{err: errors.New("disk gone")})

	rec := getAudit(router, "/audit", "auditor")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), models.ErrInternalServer)
	assert.NotContains(t, rec.Body.String(), "disk gone")
}

func TestAuditListRequiresAuditScope(t *testing.T) {
	router := newAuditRouter(&fakeAuditReader{})

	assert.Equal(t, http.StatusUnauthorized, getAudit(router, "/audit", "").Code)
	assert.Equal(t, http.StatusUnauthorized, getAudit(router, "/audit", "forged").Code)
	assert.Equal(t, http.StatusForbidden, getAudit(router, "/audit", "plain").Code)
}
