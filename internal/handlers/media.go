package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-sync/internal/media"
)

// BlobFetcher reads stored blobs by key.
type BlobFetcher interface {
	Fetch(ctx context.Context, key string) (media.Blob, error)
}

type MediaHandler struct {
	blobs BlobFetcher
	log   zerolog.Logger
}

func NewMediaHandler(blobs BlobFetcher, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{blobs: blobs, log: log.With().Str("component", "media-handler").Logger()}
}

// Download serves GET /media/*key. Keys embed a ULID so content never changes.
func (h *MediaHandler) Download(c *gin.Context) {
	blob, err := h.blobs.Fetch(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
