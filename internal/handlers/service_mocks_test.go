package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/identity"
	"chat-sync/internal/media"
	"chat-sync/internal/messagelog"
	"chat-sync/internal/models"
	"chat-sync/internal/registration"
)

type messengerMock struct {
	mock.Mock
}

func (m *messengerMock) Append(ctx context.Context, fromUID, toUID, text string) (models.Message, error) {
	args := m.Called(ctx, fromUID, toUID, text)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *messengerMock) Page(ctx context.Context, conversationID string, since int64, limit int) (messagelog.HistoryPage, error) {
	args := m.Called(ctx, conversationID, since, limit)
	return args.Get(0).(messagelog.HistoryPage), args.Error(1)
}

type recentMock struct {
	mock.Mock
}

func (m *recentMock) ListRecent(ctx context.Context, ownerUID string) ([]models.RecentConversation, error) {
	args := m.Called(ctx, ownerUID)
	var list []models.RecentConversation
	if v := args.Get(0); v != nil {
		list = v.([]models.RecentConversation)
	}
	return list, args.Error(1)
}

func (m *recentMock) Hide(ctx context.Context, ownerUID, peerUID string) error {
	return m.Called(ctx, ownerUID, peerUID).Error(0)
}

type registrarMock struct {
	mock.Mock
}

func (m *registrarMock) Register(ctx context.Context, req registration.Request) (registration.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(registration.Result), args.Error(1)
}

type accountsMock struct {
	mock.Mock
}

func (m *accountsMock) Authenticate(ctx context.Context, email, password string) (identity.Session, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(identity.Session), args.Error(1)
}

func (m *accountsMock) GetUser(ctx context.Context, uid string) (models.User, error) {
	args := m.Called(ctx, uid)
	return args.Get(0).(models.User), args.Error(1)
}

type blobsMock struct {
	mock.Mock
}

func (m *blobsMock) Fetch(ctx context.Context, key string) (media.Blob, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(media.Blob), args.Error(1)
}

type gatewayStatsMock struct {
	mock.Mock
}

func (m *gatewayStatsMock) SessionCount() int {
	return m.Called().Int(0)
}

func (m *gatewayStatsMock) SubscriberCount(ownerUID string) int {
	return m.Called(ownerUID).Int(0)
}
