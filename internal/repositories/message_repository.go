package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

// MessageRepository defines interactions with the conversation logs.
type MessageRepository interface {
	// AppendMessage stores the draft with a server timestamp and updates both
	// participants' recent entries in the same unit of work.
	AppendMessage(ctx context.Context, draft models.MessageDraft) (models.AppendResult, error)
	// ListMessages returns up to limit messages with a timestamp after since,
	// oldest first.
	ListMessages(ctx context.Context, conversationID string, since int64, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

// WithClock replaces the clock used to stamp messages.
func (r *MessageRepo) WithClock(now func() time.Time) *MessageRepo {
	r.now = now
	return r
}

// AppendMessage inserts the message and both recent entries in one transaction
// holding the conversation lock.
func (r *MessageRepo) AppendMessage(ctx context.Context, draft models.MessageDraft) (models.AppendResult, error) {
	convID := models.ConversationID(draft.FromUID, draft.ToUID)

	var result models.AppendResult
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockConversation(ctx, tx, convID); err != nil {
			return err
		}

		var last int64
		if err := tx.GetContext(ctx, &last, `SELECT COALESCE(MAX(ts), 0) FROM messages WHERE conversation_id=$1`, convID); err != nil {
			return err
		}

		msg := models.Message{
			ID:             draft.ID,
			ConversationID: convID,
			FromUID:        draft.FromUID,
			ToUID:          draft.ToUID,
			Text:           draft.Text,
			Timestamp:      models.NextTimestamp(r.now(), last),
		}
		err := tx.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, ts, id, from_uid, to_uid, text)
            VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
			msg.ConversationID, msg.Timestamp, msg.ID, msg.FromUID, msg.ToUID, msg.Text).Scan(&msg.CreatedAt)
		if err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return ErrUserNotFound
			}
			return err
		}

		changes := make([]models.RecentChange, 0, 2)
		for _, view := range [][2]string{{msg.FromUID, msg.ToUID}, {msg.ToUID, msg.FromUID}} {
			change, changed, err := upsertRecent(ctx, tx, view[0], view[1], msg)
			if err != nil {
				return err
			}
			if changed {
				changes = append(changes, change)
			}
		}

		result = models.AppendResult{Message: msg, Changes: changes}
		return nil
	})
	if err != nil {
		return models.AppendResult{}, err
	}
	return result, nil
}

// ListMessages returns one ascending page of a conversation.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, since int64, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, from_uid, to_uid, text, ts, created_at
        FROM messages
        WHERE conversation_id=$1 AND ts > $2
        ORDER BY ts ASC, id ASC
        LIMIT $3`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, since, limit)
	return msgs, err
}
