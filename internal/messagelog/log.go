// Package messagelog appends messages to one-to-one conversation logs and
// reads them back in timestamp order.
package messagelog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/ids"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

var errSelfMessage = errors.New("cannot send a message to yourself")

// UserLookup resolves message participants.
type UserLookup interface {
	GetUser(ctx context.Context, uid string) (models.User, error)
}

// ChangePublisher delivers the recent conversation changes of a committed
// append.
type ChangePublisher interface {
	Publish(ctx context.Context, changes []models.RecentChange)
}

// HistoryPage is one page of a conversation read. NextCursor is nil when the
// page reached the end of the log.
type HistoryPage struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	NextCursor     *int64           `json:"next_cursor"`
}

type Log struct {
	messages  repositories.MessageRepository
	users     UserLookup
	changes   ChangePublisher
	pageSize  int
	maxLength int
	log       zerolog.Logger
}

func NewLog(messages repositories.MessageRepository, users UserLookup, changes ChangePublisher, pageSize, maxLength int, log zerolog.Logger) *Log {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Log{
		messages:  messages,
		users:     users,
		changes:   changes,
		pageSize:  pageSize,
		maxLength: maxLength,
		log:       log.With().Str("component", "message-log").Logger(),
	}
}

// Append stores a message from fromUID to toUID. The message and both
// participants' recent entries are committed together; the resulting changes
// are published afterwards.
func (l *Log) Append(ctx context.Context, fromUID, toUID, text string) (models.Message, error) {
	const op = "messagelog.Append"
	if strings.TrimSpace(text) == "" {
		return models.Message{}, apperr.Validation(op, apperr.ErrEmptyText)
	}
	if l.maxLength > 0 && utf8.RuneCountInString(text) > l.maxLength {
		return models.Message{}, apperr.Validation(op, fmt.Errorf("message exceeds %d characters", l.maxLength))
	}
	if fromUID == toUID {
		return models.Message{}, apperr.Validation(op, errSelfMessage)
	}
	if err := l.requireUser(ctx, op, fromUID, apperr.ErrSenderNotFound); err != nil {
		return models.Message{}, err
	}
	if err := l.requireUser(ctx, op, toUID, apperr.ErrRecipientNotFound); err != nil {
		return models.Message{}, err
	}

	res, err := l.messages.AppendMessage(ctx, models.MessageDraft{
		ID:      ids.New(),
		FromUID: fromUID,
		ToUID:   toUID,
		Text:    text,
	})
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.Message{}, apperr.NotFound(op, apperr.ErrRecipientNotFound)
	}
	if err != nil {
		return models.Message{}, apperr.Internal(op, err)
	}

	if l.changes != nil {
		l.changes.Publish(ctx, res.Changes)
	}
	observability.IncMessagesAppended()
	l.publishAppended(ctx, res.Message)
	return res.Message, nil
}

func (l *Log) requireUser(ctx context.Context, op, uid string, missing error) error {
	_, err := l.users.GetUser(ctx, uid)
	if err == nil {
		return nil
	}
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.NotFound(op, missing)
	}
	return err
}

// Read yields the messages of a conversation with a timestamp after since,
// oldest first. Pages are fetched lazily; resume with the last timestamp seen.
func (l *Log) Read(ctx context.Context, conversationID string, since int64) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		cursor := since
		for {
			page, err := l.messages.ListMessages(ctx, conversationID, cursor, l.pageSize)
			if err != nil {
				yield(models.Message{}, apperr.Internal("messagelog.Read", err))
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
				cursor = msg.Timestamp
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// Page reads at most limit messages after since.
func (l *Log) Page(ctx context.Context, conversationID string, since int64, limit int) (HistoryPage, error) {
	if limit <= 0 || limit > l.pageSize {
		limit = l.pageSize
	}
	msgs, err := l.messages.ListMessages(ctx, conversationID, since, limit+1)
	if err != nil {
		return HistoryPage{}, apperr.Internal("messagelog.Page", err)
	}

	page := HistoryPage{ConversationID: conversationID, Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		next := page.Messages[limit-1].Timestamp
		page.NextCursor = &next
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

func (l *Log) publishAppended(ctx context.Context, msg models.Message) {
	headers := observability.BuildHeaders(observability.RequestIDFromContext(ctx), observability.TraceIDFromContext(ctx))
	envelope := observability.NewEnvelope("messages", "message_appended", map[string]interface{}{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"from_uid":        msg.FromUID,
		"to_uid":          msg.ToUID,
		"timestamp":       msg.Timestamp,
	})
	if err := observability.PublishEvent(ctx, observability.RoutingMessageAppended, envelope, headers); err != nil {
		l.log.Warn().Err(err).Str("message_id", msg.ID).Msg("publish message appended")
	}
}
