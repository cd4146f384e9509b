package main

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/calls"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/config"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/permission"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/rbac"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/webhook"
	"github.com/sagar-j-gurav/whatsapp-calling/pkg/utils"
)

type routeDeps struct {
	cfg config.Config
	db  *sql.DB

	authMW gin.HandlerFunc

	calls    calls.Handler
	perms    permission.Handler
	webhooks webhook.Handler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; the GET handshake is the provider's own
	// authentication of this endpoint).
	r.GET("/webhooks/whatsapp", deps.webhooks.Verify)
	r.POST("/webhooks/whatsapp", deps.webhooks.Receive)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		// CALLS routes
		callGroup := v1.Group("/calls")
		callGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent))
		{
			callGroup.POST("", deps.calls.PlaceCall)
			callGroup.GET("", deps.calls.List)
			callGroup.GET("/:call_id", deps.calls.Get)
			callGroup.POST("/:call_id/answer", deps.calls.Answer)
			callGroup.POST("/:call_id/terminate", deps.calls.Terminate)
		}

		// Browser clients dial the gateway themselves; hand them the
		// connection parameters.
		v1.GET("/webrtc/config", rbac.RequireAnyRole(rbac.RoleAgent), func(c *gin.Context) {
			c.JSON(200, gin.H{
				"ws_url":         deps.cfg.Janus.WSURL,
				"incoming_topic": calls.IncomingCallChannel,
			})
		})

		// PERMISSIONS routes
		permGroup := v1.Group("/permissions")
		permGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent))
		{
			permGroup.POST("/request", deps.perms.Request)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/permissions/grant", deps.perms.Grant)
		}
	}
}
