package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, uid string) (models.User, error) {
	args := m.Called(ctx, uid)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) SetProfileImage(ctx context.Context, uid string, url string) error {
	args := m.Called(ctx, uid, url)
	return args.Error(0)
}

func (m *UserRepositoryMock) DeleteUser(ctx context.Context, uid string) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, draft models.MessageDraft) (models.AppendResult, error) {
	args := m.Called(ctx, draft)
	var res models.AppendResult
	if val := args.Get(0); val != nil {
		res = val.(models.AppendResult)
	}
	return res, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, since int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, since, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type RecentRepositoryMock struct {
	mock.Mock
}

func (m *RecentRepositoryMock) UpsertRecent(ctx context.Context, ownerUID string, peerUID string, msg models.Message) (models.RecentChange, bool, error) {
	args := m.Called(ctx, ownerUID, peerUID, msg)
	var change models.RecentChange
	if val := args.Get(0); val != nil {
		change = val.(models.RecentChange)
	}
	return change, args.Bool(1), args.Error(2)
}

func (m *RecentRepositoryMock) ListRecent(ctx context.Context, ownerUID string) ([]models.RecentConversation, error) {
	args := m.Called(ctx, ownerUID)
	var list []models.RecentConversation
	if val := args.Get(0); val != nil {
		list = val.([]models.RecentConversation)
	}
	return list, args.Error(1)
}

func (m *RecentRepositoryMock) HideRecent(ctx context.Context, ownerUID string, peerUID string) (models.RecentChange, bool, error) {
	args := m.Called(ctx, ownerUID, peerUID)
	var change models.RecentChange
	if val := args.Get(0); val != nil {
		change = val.(models.RecentChange)
	}
	return change, args.Bool(1), args.Error(2)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.RecentRepository = (*RecentRepositoryMock)(nil)
