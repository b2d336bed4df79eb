package controllers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the authorization server and the protected
// resource. guards run in order in front of /resource.
func RegisterRoutes(router gin.IRouter, oc *OAuthController, guards ...gin.HandlerFunc) {
	oauth := router.Group("/oauth")
	{
		oauth.GET("/authorize", oc.Authorize)
		oauth.POST("/authorize", oc.Decide)
		oauth.POST("/token", oc.Token)
		oauth.POST("/refresh", oc.Refresh)
	}

	router.GET("/resource", append(guards, oc.Resource)...)
}

// RegisterAuditRoutes mounts the read-only audit trail behind guards.
func RegisterAuditRoutes(router gin.IRouter, ac *AuditController, guards ...gin.HandlerFunc) {
	router.GET("/audit", append(guards, ac.List)...)
}
