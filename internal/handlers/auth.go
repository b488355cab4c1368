package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/identity"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
	"chat-sync/internal/registration"
	"chat-sync/internal/telemetry"
)

// Registrar creates accounts with avatars.
type Registrar interface {
	Register(ctx context.Context, req registration.Request) (registration.Result, error)
}

// Accounts authenticates users and reads profiles.
type Accounts interface {
	Authenticate(ctx context.Context, email, password string) (identity.Session, error)
	GetUser(ctx context.Context, uid string) (models.User, error)
}

// AuthHandler serves registration, login and profile endpoints.
type AuthHandler struct {
	registrar      Registrar
	accounts       Accounts
	audit          *telemetry.AuditEmitter
	maxAvatarBytes int64
	log            zerolog.Logger
}

func NewAuthHandler(registrar Registrar, accounts Accounts, audit *telemetry.AuditEmitter, maxAvatarBytes int64, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		registrar:      registrar,
		accounts:       accounts,
		audit:          audit,
		maxAvatarBytes: maxAvatarBytes,
		log:            log.With().Str("component", "auth-handler").Logger(),
	}
}

// Register reads a multipart form with email, password and avatar.
func (h *AuthHandler) Register(c *gin.Context) {
	const op = "handlers.Register"
	req := registration.Request{
		Email:    c.PostForm("email"),
		Password: c.PostForm("password"),
	}

	avatar, contentType, err := h.readAvatar(c)
	if err != nil {
		respondError(c, h.log, apperr.Validation(op, err))
		return
	}
	req.Avatar = avatar
	req.ContentType = contentType

	ctx := c.Request.Context()
	res, err := h.registrar.Register(ctx, req)
	if err != nil {
		h.audit.Emit(ctx, "WARN", "register_failed", apperr.MessageOf(err), requestIDFromContext(c), nil)
		respondError(c, h.log, err)
		return
	}
	uid := res.User.UID
	h.audit.Emit(ctx, "INFO", "register", "user registered", requestIDFromContext(c), &uid)

	session, err := h.accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"uid":               res.User.UID,
		"email":             res.User.Email,
		"profile_image_url": res.ProfileImageURL,
		"token":             session.Token,
		"expires_at":        session.ExpiresAt,
	})
}

func (h *AuthHandler) readAvatar(c *gin.Context) ([]byte, string, error) {
	file, header, err := c.Request.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read avatar: %w", err)
	}
	defer file.Close()

	limit := h.maxAvatarBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read avatar: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("file exceeds max size of %d bytes", limit)
	}
	return data, header.Header.Get("Content-Type"), nil
}

// Login exchanges credentials for a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Validation("handlers.Login", err))
		return
	}

	ctx := c.Request.Context()
	session, err := h.accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if apperr.Is(err, apperr.KindAuthFailure) {
			h.audit.Emit(ctx, "WARN", "login_failed", "invalid credentials", requestIDFromContext(c), nil)
		}
		respondError(c, h.log, err)
		return
	}
	uid := session.User.UID
	h.audit.Emit(ctx, "INFO", "login", "login succeeded", requestIDFromContext(c), &uid)
	c.JSON(http.StatusOK, session)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	h.respondUser(c, c.GetString(middleware.UserIDKey))
}

// GetUser returns another user's profile.
func (h *AuthHandler) GetUser(c *gin.Context) {
	h.respondUser(c, c.Param("uid"))
}

func (h *AuthHandler) respondUser(c *gin.Context, uid string) {
	user, err := h.accounts.GetUser(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
