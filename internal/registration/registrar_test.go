package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/auth"
	"chat-sync/internal/identity"
	"chat-sync/internal/media"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type blobsMock struct {
	mock.Mock
}

func (m *blobsMock) Check(data []byte) (string, string, error) {
	args := m.Called(data)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *blobsMock) Put(ctx context.Context, uid string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, uid, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *blobsMock) Delete(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func newIdentity(t *testing.T, users repositories.UserRepository) *identity.Service {
	t.Helper()
	svc, err := identity.NewService(users, auth.NewJWTManager("secret", time.Hour), 8, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func installPublisher(t *testing.T) *mocks.PublisherMock {
	t.Helper()
	pub := new(mocks.PublisherMock)
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })
	return pub
}

func assertNotAnnounced(t *testing.T, pub *mocks.PublisherMock) {
	t.Helper()
	pub.AssertNotCalled(t, "PublishJSON", mock.Anything, observability.RoutingUserCreated, mock.Anything, mock.Anything)
}

func TestRegisterStoresAvatar(t *testing.T) {
	pub := installPublisher(t)
	pub.On("PublishJSON", mock.Anything, observability.RoutingUserCreated, mock.Anything, mock.Anything).Return(nil).Once()
	store := repositories.NewMemoryStore()
	ids := newIdentity(t, store)
	local, err := media.NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	blobs := media.NewService(local, "http://chat.test", 1<<20, zerolog.Nop())
	reg := NewRegistrar(ids, blobs, zerolog.Nop())

	res, err := reg.Register(context.Background(), Request{
		Email: "new@example.com", Password: "secret99", Avatar: pngBytes, ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProfileImageURL)

	stored, err := ids.GetUser(context.Background(), res.User.UID)
	require.NoError(t, err)
	assert.Equal(t, res.ProfileImageURL, stored.ProfileImageURL)

	blob, err := blobs.Get(context.Background(), res.ProfileImageURL)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, blob.Data)
	pub.AssertExpectations(t)
}

func TestRegisterWithoutAvatarWritesNothing(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	blobs := new(blobsMock)
	reg := NewRegistrar(newIdentity(t, users), blobs, zerolog.Nop())

	_, err := reg.Register(context.Background(), Request{Email: "x@example.com", Password: "secret99"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.ErrorIs(t, err, apperr.ErrMissingAvatar)

	users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegisterRejectsUnsupportedAvatarBeforeCreate(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	blobs := new(blobsMock)
	reg := NewRegistrar(newIdentity(t, users), blobs, zerolog.Nop())

	bad := apperr.Validation("media.Check", apperr.ErrUnsupportedContent)
	blobs.On("Check", []byte("txt")).Return("", "", bad).Once()

	_, err := reg.Register(context.Background(), Request{Email: "x@example.com", Password: "secret99", Avatar: []byte("txt")})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedContent)
	users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestRegisterUploadFailureRollsBackUser(t *testing.T) {
	pub := installPublisher(t)
	store := repositories.NewMemoryStore()
	blobs := new(blobsMock)
	reg := NewRegistrar(newIdentity(t, store), blobs, zerolog.Nop())

	blobs.On("Check", pngBytes).Return("image/png", "png", nil)
	blobs.On("Put", mock.Anything, mock.Anything, pngBytes, "image/png").
		Return("", apperr.Storage("media.Put", errors.New("bucket gone"))).Once()

	_, err := reg.Register(context.Background(), Request{
		Email: "roll@example.com", Password: "secret99", Avatar: pngBytes, ContentType: "image/png",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, StageUpload, regErr.Stage)

	_, err = store.GetUserByEmail(context.Background(), "roll@example.com")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
	blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	assertNotAnnounced(t, pub)
}

func TestRegisterLinkFailureDeletesBlobAndUser(t *testing.T) {
	pub := installPublisher(t)
	users := new(mocks.UserRepositoryMock)
	blobs := new(blobsMock)
	reg := NewRegistrar(newIdentity(t, users), blobs, zerolog.Nop())

	users.On("CreateUser", mock.Anything, mock.AnythingOfType("models.User")).
		Return(models.User{UID: "u9", Email: "link@example.com"}, nil).Once()
	users.On("SetProfileImage", mock.Anything, "u9", "http://chat.test/media/a.png").Return(assert.AnError).Once()
	users.On("DeleteUser", mock.Anything, "u9").Return(errors.New("db down")).Once()
	blobs.On("Check", pngBytes).Return("image/png", "png", nil)
	blobs.On("Put", mock.Anything, "u9", pngBytes, "").Return("http://chat.test/media/a.png", nil).Once()
	blobs.On("Delete", mock.Anything, "http://chat.test/media/a.png").Return(nil).Once()

	_, err := reg.Register(context.Background(), Request{Email: "link@example.com", Password: "secret99", Avatar: pngBytes})
	require.Error(t, err)

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, StageLink, regErr.Stage)
	assert.Contains(t, regErr.Err.Error(), "db down")

	users.AssertExpectations(t)
	blobs.AssertExpectations(t)
	assertNotAnnounced(t, pub)
}
