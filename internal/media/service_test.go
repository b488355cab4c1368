package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/ids"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type failingStorage struct {
	uploadErr error
}

func (f failingStorage) Upload(context.Context, string, io.Reader, int64, string) error {
	return f.uploadErr
}

func (f failingStorage) Download(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", errors.New("unreachable")
}

func (f failingStorage) Delete(context.Context, string) error { return nil }

func (f failingStorage) Health(context.Context) error { return nil }

func newLocalService(t *testing.T) *Service {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return NewService(storage, "http://chat.test/", 1024, zerolog.Nop())
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newLocalService(t)

	url, err := svc.Put(ctx, "u1", pngBytes, "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://chat.test/media/avatars/u1/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	blob, err := svc.Get(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, blob.Data)
	assert.Equal(t, "image/png", blob.ContentType)

	key, err := svc.KeyFromURL(url)
	require.NoError(t, err)
	fetched, err := svc.Fetch(ctx, "/"+key)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, fetched.Data)

	require.NoError(t, svc.Delete(ctx, url))
	_, err = svc.Get(ctx, url)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPutRejectsBadInput(t *testing.T) {
	svc := newLocalService(t)
	ctx := context.Background()

	_, err := svc.Put(ctx, "u1", nil, "image/png")
	assert.ErrorIs(t, err, apperr.ErrMissingAvatar)

	_, err = svc.Put(ctx, "u1", []byte("plain text is not an image"), "image/png")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedContent)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	big := append(append([]byte{}, pngBytes...), make([]byte, 2048)...)
	_, err = svc.Put(ctx, "u1", big, "image/png")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPutStorageFailure(t *testing.T) {
	svc := NewService(failingStorage{uploadErr: errors.New("bucket gone")}, "http://chat.test", 0, zerolog.Nop())

	_, err := svc.Put(context.Background(), "u1", pngBytes, "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
}

func TestGetUnknownURL(t *testing.T) {
	svc := newLocalService(t)

	_, err := svc.Get(context.Background(), "http://elsewhere.test/pics/cat.png")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.Fetch(context.Background(), "avatars/none/missing.png")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestLocalStorageConfinesKeys(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewLocalStorage(dir, zerolog.Nop())
	require.NoError(t, err)

	full, err := storage.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, dir))
	require.NoError(t, storage.Health(context.Background()))
}

func TestFetchRejectsMalformedKeys(t *testing.T) {
	svc := NewService(failingStorage{}, "http://chat.test", 0, zerolog.Nop())
	ctx := context.Background()

	for _, key := range []string{
		"",
		"avatars/u1/not-an-id.png",
		"avatars/u1/" + ids.New(),
		"avatars//" + ids.New() + ".png",
		"pics/u1/" + ids.New() + ".png",
		"avatars/u1/../" + ids.New() + ".png",
	} {
		_, err := svc.Fetch(ctx, key)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), key)
	}

	_, err := svc.Fetch(ctx, "avatars/u1/"+ids.New()+".png")
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
}
