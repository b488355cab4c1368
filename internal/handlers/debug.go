package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/telemetry"
)

// GatewayStats reports open gateway sessions and subscriptions.
type GatewayStats interface {
	SessionCount() int
	SubscriberCount(ownerUID string) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, gateway GatewayStats, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit_test", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/gateway", func(c *gin.Context) {
		body := gin.H{"sessions": gateway.SessionCount()}
		if uid := c.Query("uid"); uid != "" {
			body["subscriptions"] = gateway.SubscriberCount(uid)
		}
		c.JSON(http.StatusOK, body)
	})
}
