package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message is one immutable entry of a conversation log.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	FromUID        string    `db:"from_uid" json:"from_uid"`
	ToUID          string    `db:"to_uid" json:"to_uid"`
	Text           string    `db:"text" json:"text"`
	Timestamp      int64     `db:"ts" json:"timestamp"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MessageDraft is a message before the log assigns its timestamp.
type MessageDraft struct {
	ID      string
	FromUID string
	ToUID   string
	Text    string
}

// AppendResult is the outcome of a committed append: the stored message and
// the recent conversation changes written with it.
type AppendResult struct {
	Message Message
	Changes []RecentChange
}

// ConversationID derives the identifier shared by both directions of a pair.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return hex.EncodeToString(sum[:16])
}

// After orders messages by timestamp, then by id.
func After(ts int64, id string, otherTS int64, otherID string) bool {
	if ts != otherTS {
		return ts > otherTS
	}
	return id > otherID
}

// NextTimestamp returns the timestamp for a message appended at now to a
// conversation whose newest message has last.
func NextTimestamp(now time.Time, last int64) int64 {
	ts := now.UnixMicro()
	if ts <= last {
		ts = last + 1
	}
	return ts
}
