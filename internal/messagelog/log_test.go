package messagelog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/auth"
	"chat-sync/internal/conversations"
	"chat-sync/internal/identity"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

type env struct {
	log    *Log
	index  *conversations.Index
	u1, u2 models.User
}

func newEnv(t *testing.T, pageSize int) env {
	t.Helper()
	store := repositories.NewMemoryStore()
	users, err := identity.NewService(store, auth.NewJWTManager("secret", time.Hour), 8, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	u1, err := users.CreateUser(ctx, "u1@example.com", "password1")
	require.NoError(t, err)
	u2, err := users.CreateUser(ctx, "u2@example.com", "password2")
	require.NoError(t, err)

	index := conversations.NewIndex(store, users, zerolog.Nop())
	return env{
		log:   NewLog(store, users, index, pageSize, 20, zerolog.Nop()),
		index: index,
		u1:    u1,
		u2:    u2,
	}
}

func TestAppendUpdatesBothRecentLists(t *testing.T) {
	e := newEnv(t, 10)
	ctx := context.Background()

	first, err := e.log.Append(ctx, e.u1.UID, e.u2.UID, "hi")
	require.NoError(t, err)
	second, err := e.log.Append(ctx, e.u2.UID, e.u1.UID, "hello")
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Greater(t, second.Timestamp, first.Timestamp)

	for _, owner := range []models.User{e.u1, e.u2} {
		list, err := e.index.ListRecent(ctx, owner.UID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "hello", list[0].LastText)
		assert.Equal(t, second.Timestamp, list[0].LastTimestamp)
		assert.Equal(t, second.ID, list[0].LastMessageID)
	}
}

func TestAppendValidation(t *testing.T) {
	e := newEnv(t, 10)
	ctx := context.Background()

	_, err := e.log.Append(ctx, e.u1.UID, e.u2.UID, "   ")
	assert.ErrorIs(t, err, apperr.ErrEmptyText)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.log.Append(ctx, e.u1.UID, e.u1.UID, "me")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.log.Append(ctx, e.u1.UID, e.u2.UID, strings.Repeat("x", 21))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.log.Append(ctx, "ghost", e.u2.UID, "boo")
	assert.ErrorIs(t, err, apperr.ErrSenderNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = e.log.Append(ctx, e.u1.UID, "ghost", "boo")
	assert.ErrorIs(t, err, apperr.ErrRecipientNotFound)
}

func TestReadPagesInOrder(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()

	var sent []models.Message
	for i := 0; i < 7; i++ {
		from, to := e.u1.UID, e.u2.UID
		if i%2 == 1 {
			from, to = to, from
		}
		msg, err := e.log.Append(ctx, from, to, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		sent = append(sent, msg)
	}
	convID := models.ConversationID(e.u1.UID, e.u2.UID)

	var read []models.Message
	for msg, err := range e.log.Read(ctx, convID, 0) {
		require.NoError(t, err)
		read = append(read, msg)
	}
	require.Len(t, read, len(sent))
	for i := range sent {
		assert.Equal(t, sent[i].ID, read[i].ID)
	}

	var resumed []string
	for msg, err := range e.log.Read(ctx, convID, sent[4].Timestamp) {
		require.NoError(t, err)
		resumed = append(resumed, msg.Text)
	}
	assert.Equal(t, []string{"m5", "m6"}, resumed)
}

func TestPageCursor(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.log.Append(ctx, e.u1.UID, e.u2.UID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	convID := models.ConversationID(e.u1.UID, e.u2.UID)

	page, err := e.log.Page(ctx, convID, 0, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.NotNil(t, page.NextCursor)

	rest, err := e.log.Page(ctx, convID, *page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, rest.Messages, 1)
	assert.Equal(t, "m2", rest.Messages[0].Text)
	assert.Nil(t, rest.NextCursor)

	empty, err := e.log.Page(ctx, "unknown", 0, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)
}

func TestConcurrentCrossSendsConverge(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := e.log.Append(ctx, e.u1.UID, e.u2.UID, fmt.Sprintf("a%d", i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := e.log.Append(ctx, e.u2.UID, e.u1.UID, fmt.Sprintf("b%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var last models.Message
	for msg, err := range e.log.Read(ctx, models.ConversationID(e.u1.UID, e.u2.UID), 0) {
		require.NoError(t, err)
		assert.Greater(t, msg.Timestamp, last.Timestamp)
		last = msg
	}

	a, err := e.index.ListRecent(ctx, e.u1.UID)
	require.NoError(t, err)
	b, err := e.index.ListRecent(ctx, e.u2.UID)
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, last.ID, a[0].LastMessageID)
	assert.Equal(t, last.ID, b[0].LastMessageID)
}

func TestAppendRepositoryFailure(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	lookup, err := identity.NewService(users, auth.NewJWTManager("secret", time.Hour), 8, zerolog.Nop())
	require.NoError(t, err)
	l := NewLog(repo, lookup, nil, 10, 0, zerolog.Nop())

	users.On("GetUser", mock.Anything, "a").Return(models.User{UID: "a"}, nil)
	users.On("GetUser", mock.Anything, "b").Return(models.User{UID: "b"}, nil)
	repo.On("AppendMessage", mock.Anything, mock.MatchedBy(func(d models.MessageDraft) bool {
		return d.FromUID == "a" && d.ToUID == "b" && d.ID != ""
	})).Return(nil, assert.AnError).Once()

	_, err = l.Append(context.Background(), "a", "b", "hey")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	repo.On("ListMessages", mock.Anything, "c", int64(0), 10).Return(nil, assert.AnError).Once()
	for _, err := range l.Read(context.Background(), "c", 0) {
		assert.Error(t, err)
	}
	repo.AssertExpectations(t)
}

func TestAppendPublishesDomainEvent(t *testing.T) {
	e := newEnv(t, 10)
	pub := new(mocks.PublisherMock)
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	ctx := observability.WithRequestID(context.Background(), "req-7")

	pub.On("PublishJSON", mock.Anything, observability.RoutingMessageAppended, mock.MatchedBy(func(env observability.EventEnvelope) bool {
		return env.EventName == "message_appended"
	}), map[string]string{"x-request-id": "req-7"}).Return(nil).Once()

	_, err := e.log.Append(ctx, e.u1.UID, e.u2.UID, "hi")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}
