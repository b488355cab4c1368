package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-sync/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if id := middleware.GetRequestID(c); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if uid := c.GetString(middleware.UserIDKey); uid != "" {
		return &uid
	}
	return nil
}
