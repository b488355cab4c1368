package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/media"
)

func TestMediaDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	blobs := new(blobsMock)
	r := gin.New()
	r.GET("/media/*key", NewMediaHandler(blobs, zerolog.Nop()).Download)

	blobs.On("Fetch", mock.Anything, "/avatars/u1/a.png").Return(media.Blob{Data: []byte("png"), ContentType: "image/png"}, nil).Once()
	blobs.On("Fetch", mock.Anything, "/avatars/u1/missing.png").Return(media.Blob{}, apperr.NotFound("media.Fetch", media.ErrObjectNotFound)).Once()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/avatars/u1/a.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
	assert.Equal(t, "png", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/avatars/u1/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	blobs.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, nil, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/gateway", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugGatewayReportsSubscriptions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stats := new(gatewayStatsMock)
	r := gin.New()
	RegisterDebugRoutes(r, nil, stats, true)

	stats.On("SessionCount").Return(3)
	stats.On("SubscriberCount", "u1").Return(2).Once()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/gateway?uid=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":3,"subscriptions":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/gateway", nil))
	assert.JSONEq(t, `{"sessions":3}`, rec.Body.String())
	stats.AssertExpectations(t)
}
