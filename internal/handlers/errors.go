package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
)

// respondError writes err as {"error":{message,type,request_id}}.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	requestID := requestIDFromContext(c)
	if status >= 500 {
		log.Error().Err(err).Str("request_id", requestID).Str("route", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
		"message":    apperr.MessageOf(err),
		"type":       apperr.KindOf(err),
		"request_id": requestID,
	}})
}
