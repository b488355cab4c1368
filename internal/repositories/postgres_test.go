package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/db"
	"chat-sync/internal/models"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_DSN not set")
	}
	conn, err := db.Connect(db.Options{DSN: dsn})
	require.NoError(t, err)
	_, err = db.Migrate(conn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func createPGUser(t *testing.T, repo *UserRepo) models.User {
	t.Helper()
	uid := uuid.NewString()
	user, err := repo.CreateUser(context.Background(), models.User{UID: uid, Email: uid + "@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	return user
}

func TestPostgresAppendAndRecent(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	users := NewUserRepo(conn)
	a := createPGUser(t, users)
	b := createPGUser(t, users)

	_, err := users.CreateUser(ctx, models.User{UID: uuid.NewString(), Email: a.Email, PasswordHash: "x"})
	require.ErrorIs(t, err, ErrDuplicateEmail)

	base := time.Now()
	messages := NewMessageRepo(conn).WithClock(func() time.Time { return base })
	recent := NewRecentRepo(conn)

	first, err := messages.AppendMessage(ctx, models.MessageDraft{ID: uuid.NewString(), FromUID: a.UID, ToUID: b.UID, Text: "hi"})
	require.NoError(t, err)
	second, err := messages.AppendMessage(ctx, models.MessageDraft{ID: uuid.NewString(), FromUID: b.UID, ToUID: a.UID, Text: "hello"})
	require.NoError(t, err)
	assert.Greater(t, second.Message.Timestamp, first.Message.Timestamp)
	require.Len(t, second.Changes, 2)

	entries, err := recent.ListRecent(ctx, a.UID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].LastText)

	_, changed, err := recent.UpsertRecent(ctx, a.UID, b.UID, first.Message)
	require.NoError(t, err)
	assert.False(t, changed)

	change, changed, err := recent.HideRecent(ctx, a.UID, b.UID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ChangeRemoved, change.Kind)

	page, err := messages.ListMessages(ctx, first.Message.ConversationID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, first.Message.ID, page[0].ID)

	require.NoError(t, users.DeleteUser(ctx, a.UID))
	require.NoError(t, users.DeleteUser(ctx, b.UID))
}
