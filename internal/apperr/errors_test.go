package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("send: %w", Validation("messagelog.Append", ErrEmptyText))

	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, Is(err, KindValidation))
	assert.True(t, errors.Is(err, ErrEmptyText))
	assert.Equal(t, ErrEmptyText.Error(), MessageOf(err))
}

func TestPlainErrorIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.False(t, Is(nil, KindInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[*Error]int{
		AuthFailure("op", ErrInvalidCredential): http.StatusUnauthorized,
		NotFound("op", nil):                     http.StatusNotFound,
		Validation("op", ErrMissingAvatar):      http.StatusBadRequest,
		Storage("op", errors.New("s3 down")):    http.StatusBadGateway,
		Transient("op", errors.New("reset")):    http.StatusServiceUnavailable,
		Internal("op", errors.New("bug")):       http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, HTTPStatus(err), err.Error())
	}
}

func TestStorageHidesCause(t *testing.T) {
	err := Storage("media.Put", errors.New("secret bucket path"))
	assert.Equal(t, "storage failure", MessageOf(err))
	assert.Contains(t, err.Error(), "secret bucket path")
}
