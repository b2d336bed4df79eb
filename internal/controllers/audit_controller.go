package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
	"github.com/franciscosanchezn/gin-pkce-server/internal/services"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditReader is the read side of services.AuditService.
type AuditReader interface {
	List(ctx context.Context, filter services.AuditFilter) ([]models.AuditEvent, error)
}

// AuditController serves the persisted audit trail
type AuditController struct {
	reader AuditReader
	log    logrus.FieldLogger
}

func NewAuditController(reader AuditReader, log logrus.FieldLogger) *AuditController {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuditController{reader: reader, log: log}
}

// List godoc
// @Summary List audit events
// @Description Returns the most recent protocol events, newest first
// @Tags audit
// @Produce json
// @Security BearerAuth
// @Param type query string false "Event type, e.g. code_reused"
// @Param client_id query string false "Client identifier"
// @Param limit query int false "Maximum number of events (default 50, max 500)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.APIError
// @Failure 401 {object} models.OAuth2Error
// @Failure 403 {object} models.OAuth2Error
// @Failure 500 {object} models.APIError
// @Router /audit [get]
func (ac *AuditController) List(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	events, err := ac.reader.List(c.Request.Context(), services.AuditFilter{
		Type:     c.Query("type"),
		ClientID: c.Query("client_id"),
		Limit:    limit,
	})
	if err != nil {
		ac.log.WithError(err).Error("Failed to list audit events")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer, "Failed to read audit trail"))
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
