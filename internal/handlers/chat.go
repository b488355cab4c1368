package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/messagelog"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
)

// Messenger appends and pages conversation messages.
type Messenger interface {
	Append(ctx context.Context, fromUID, toUID, text string) (models.Message, error)
	Page(ctx context.Context, conversationID string, since int64, limit int) (messagelog.HistoryPage, error)
}

// RecentLister reads and edits a user's recent conversation list.
type RecentLister interface {
	ListRecent(ctx context.Context, ownerUID string) ([]models.RecentConversation, error)
	Hide(ctx context.Context, ownerUID, peerUID string) error
}

// ChatHandler manages one-to-one messaging endpoints.
type ChatHandler struct {
	messages Messenger
	recent   RecentLister
	log      zerolog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(messages Messenger, recent RecentLister, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		messages: messages,
		recent:   recent,
		log:      log.With().Str("component", "chat-handler").Logger(),
	}
}

// SendMessage stores a message from the caller.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		ToUID string `json:"to_uid" binding:"required"`
		Text  string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Validation("handlers.SendMessage", err))
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), c.GetString(middleware.UserIDKey), req.ToUID, req.Text)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListConversations returns the caller's recent conversations, newest first.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	entries, err := h.recent.ListRecent(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": entries})
}

// HideConversation removes a peer from the caller's list until the next message.
func (h *ChatHandler) HideConversation(c *gin.Context) {
	if err := h.recent.Hide(c.Request.Context(), c.GetString(middleware.UserIDKey), c.Param("peer_uid")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMessages pages the conversation between the caller and a peer.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	const op = "handlers.GetMessages"
	since, err := queryInt(c, "since")
	if err != nil {
		respondError(c, h.log, apperr.Validation(op, err))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, h.log, apperr.Validation(op, err))
		return
	}

	convID := models.ConversationID(c.GetString(middleware.UserIDKey), c.Param("peer_uid"))
	page, err := h.messages.Page(c.Request.Context(), convID, since, int(limit))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}
