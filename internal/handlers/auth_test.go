package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/identity"
	"chat-sync/internal/middleware"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/registration"
	"chat-sync/internal/telemetry"
)

func setupAuthRouter(handler *AuthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/auth/register", handler.Register)
	r.POST("/auth/login", handler.Login)
	r.GET("/users/:uid", handler.GetUser)
	r.GET("/me", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	}, handler.Me)
	return r
}

func multipartRegister(t *testing.T, email, password string, avatar []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("email", email))
	require.NoError(t, w.WriteField("password", password))
	if avatar != nil {
		part, err := w.CreateFormFile("avatar", "avatar.png")
		require.NoError(t, err)
		_, err = part.Write(avatar)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/auth/register", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRegisterSuccess(t *testing.T) {
	registrar := new(registrarMock)
	accounts := new(accountsMock)
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit.chat-sync", "chat-sync", "test", zerolog.Nop())
	router := setupAuthRouter(NewAuthHandler(registrar, accounts, audit, 1024, zerolog.Nop()))

	avatar := []byte("\x89PNG\r\n\x1a\nfake")
	registrar.On("Register", mock.Anything, mock.MatchedBy(func(req registration.Request) bool {
		return req.Email == "alice@example.com" && req.Password == "hunter22" && bytes.Equal(req.Avatar, avatar)
	})).Return(registration.Result{
		User:            models.User{UID: "u1", Email: "alice@example.com"},
		ProfileImageURL: "http://localhost/media/avatars/u1/x.png",
	}, nil).Once()
	accounts.On("Authenticate", mock.Anything, "alice@example.com", "hunter22").
		Return(identity.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil).Once()
	pub.On("Publish", mock.Anything, "audit.chat-sync", mock.Anything).Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRegister(t, "alice@example.com", "hunter22", avatar))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "u1", resp["uid"])
	assert.Equal(t, "tok", resp["token"])
	assert.Equal(t, "http://localhost/media/avatars/u1/x.png", resp["profile_image_url"])
	registrar.AssertExpectations(t)
	accounts.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestRegisterRejectsOversizedAvatar(t *testing.T) {
	registrar := new(registrarMock)
	router := setupAuthRouter(NewAuthHandler(registrar, new(accountsMock), nil, 4, zerolog.Nop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRegister(t, "bob@example.com", "hunter22", []byte("too large")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	registrar.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestRegisterFailureSurfacesRetryMessage(t *testing.T) {
	registrar := new(registrarMock)
	router := setupAuthRouter(NewAuthHandler(registrar, new(accountsMock), nil, 1024, zerolog.Nop()))

	regErr := apperr.New(apperr.KindStorage, "registration.Register", "registration could not be completed; please retry",
		&registration.RegistrationError{Stage: registration.StageUpload, Err: assert.AnError})
	registrar.On("Register", mock.Anything, mock.Anything).Return(registration.Result{}, regErr).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRegister(t, "carol@example.com", "hunter22", []byte("img")))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "registration could not be completed; please retry", decodeError(t, rec)["message"])
}

func TestLogin(t *testing.T) {
	accounts := new(accountsMock)
	router := setupAuthRouter(NewAuthHandler(new(registrarMock), accounts, nil, 1024, zerolog.Nop()))

	accounts.On("Authenticate", mock.Anything, "dave@example.com", "right").
		Return(identity.Session{Token: "tok", User: models.User{UID: "u4"}}, nil).Once()
	accounts.On("Authenticate", mock.Anything, "dave@example.com", "wrong").
		Return(identity.Session{}, apperr.AuthFailure("identity.Authenticate", apperr.ErrInvalidCredential)).Once()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"dave@example.com","password":"right"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var session identity.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	assert.Equal(t, "tok", session.Token)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"dave@example.com","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	accounts.AssertExpectations(t)
}

func TestProfileLookups(t *testing.T) {
	accounts := new(accountsMock)
	router := setupAuthRouter(NewAuthHandler(new(registrarMock), accounts, nil, 1024, zerolog.Nop()))

	accounts.On("GetUser", mock.Anything, "u1").Return(models.User{UID: "u1", Email: "me@example.com"}, nil).Once()
	accounts.On("GetUser", mock.Anything, "ghost").Return(models.User{}, apperr.NotFound("identity.GetUser", assert.AnError)).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "me@example.com")
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	accounts.AssertExpectations(t)
}
