package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/auth"
	"github.com/StreallyX/callastar-sub000/internal/httpapi"
	"github.com/StreallyX/callastar-sub000/internal/rbac"
	"github.com/StreallyX/callastar-sub000/internal/room"
	"github.com/StreallyX/callastar-sub000/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal
// modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authManager *auth.Manager, db *sql.DB, rdb *redis.Client, provider room.Provider) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		if err := provider.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "room": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: protect with provider signature validation in production.
	r.POST("/webhooks/room/:call_id", h.RoomWebhook)

	// Token issuance. Upstream platform auth identifies the user before this
	// endpoint is reachable.
	r.POST("/v1/call-access-token", h.IssueCallAccessToken)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireCallToken(authManager))
	{
		// Client-reported call events; booking scope comes from the token.
		v1.POST("/call-events", h.RecordEvent)

		bookings := v1.Group("/bookings/:booking_id")
		bookings.Use(rbac.RequireBookingScope("booking_id"))
		{
			// SESSION lifecycle
			bookings.POST("/session", h.OpenSession)
			bookings.GET("/session", h.GetSession)
			bookings.DELETE("/session", h.CloseSession)
			bookings.POST("/session/join", h.JoinCall)
			bookings.POST("/session/leave", h.LeaveCall)

			// In-call controls
			bookings.POST("/session/media", h.UpdateMedia)
			bookings.POST("/session/fullscreen", h.UpdateFullscreen)
			bookings.POST("/session/media-denied", h.MediaPermissionDenied)

			// Client lifecycle signals (hidden, visible, before-unload)
			bookings.POST("/session/signals", h.ReportSignal)

			// Event history for the post-call summary view.
			bookings.GET("/events", rbac.RequireAnyRole(rbac.RoleCreator, rbac.RoleAdmin), h.ListEvents)
		}
	}
}
