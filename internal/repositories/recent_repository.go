package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrRecentNotFound = errors.New("conversation not found")

// RecentRepository abstracts the per-owner recent conversation projection.
type RecentRepository interface {
	// UpsertRecent replaces the (owner, peer) entry when msg is strictly newer.
	UpsertRecent(ctx context.Context, ownerUID string, peerUID string, msg models.Message) (models.RecentChange, bool, error)
	// ListRecent returns every entry of the owner, hidden ones included.
	ListRecent(ctx context.Context, ownerUID string) ([]models.RecentConversation, error)
	// HideRecent hides the entry for the owner until a newer message arrives.
	HideRecent(ctx context.Context, ownerUID string, peerUID string) (models.RecentChange, bool, error)
}

// RecentRepo is a sqlx implementation of RecentRepository.
type RecentRepo struct {
	db *sqlx.DB
}

// NewRecentRepo constructs a RecentRepo.
func NewRecentRepo(db *sqlx.DB) *RecentRepo {
	return &RecentRepo{db: db}
}

// UpsertRecent applies msg to the owner's entry under the conversation lock.
func (r *RecentRepo) UpsertRecent(ctx context.Context, ownerUID string, peerUID string, msg models.Message) (models.RecentChange, bool, error) {
	var (
		change  models.RecentChange
		changed bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockConversation(ctx, tx, models.ConversationID(ownerUID, peerUID)); err != nil {
			return err
		}
		var err error
		change, changed, err = upsertRecent(ctx, tx, ownerUID, peerUID, msg)
		return err
	})
	return change, changed, err
}

// ListRecent returns the owner's entries newest first.
func (r *RecentRepo) ListRecent(ctx context.Context, ownerUID string) ([]models.RecentConversation, error) {
	query := `SELECT owner_uid, peer_uid, last_message_id, last_text, last_ts, hidden
        FROM recent_conversations
        WHERE owner_uid=$1
        ORDER BY last_ts DESC, peer_uid ASC`
	entries := []models.RecentConversation{}
	err := r.db.SelectContext(ctx, &entries, query, ownerUID)
	return entries, err
}

// HideRecent marks the entry hidden for the owner.
func (r *RecentRepo) HideRecent(ctx context.Context, ownerUID string, peerUID string) (models.RecentChange, bool, error) {
	var (
		change  models.RecentChange
		changed bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockConversation(ctx, tx, models.ConversationID(ownerUID, peerUID)); err != nil {
			return err
		}
		current, err := selectRecentForUpdate(ctx, tx, ownerUID, peerUID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecentNotFound
		}
		if err != nil {
			return err
		}
		if current.Hidden {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE recent_conversations SET hidden = TRUE WHERE owner_uid=$1 AND peer_uid=$2`, ownerUID, peerUID); err != nil {
			return err
		}
		current.Hidden = true
		change = models.RecentChange{Kind: models.ChangeRemoved, Entry: current}
		changed = true
		return nil
	})
	return change, changed, err
}

// upsertRecent must run inside a transaction holding the conversation lock.
func upsertRecent(ctx context.Context, tx *sqlx.Tx, ownerUID, peerUID string, msg models.Message) (models.RecentChange, bool, error) {
	next := models.RecentFromMessage(ownerUID, peerUID, msg)

	res, err := tx.ExecContext(ctx, `INSERT INTO recent_conversations (owner_uid, peer_uid, last_message_id, last_text, last_ts, hidden)
        VALUES ($1, $2, $3, $4, $5, FALSE)
        ON CONFLICT (owner_uid, peer_uid) DO NOTHING`,
		next.OwnerUID, next.PeerUID, next.LastMessageID, next.LastText, next.LastTimestamp)
	if err != nil {
		return models.RecentChange{}, false, err
	}
	if inserted, err := res.RowsAffected(); err != nil {
		return models.RecentChange{}, false, err
	} else if inserted == 1 {
		return models.RecentChange{Kind: models.ChangeAdded, Entry: next}, true, nil
	}

	current, err := selectRecentForUpdate(ctx, tx, ownerUID, peerUID)
	if err != nil {
		return models.RecentChange{}, false, err
	}
	if !next.NewerThan(current) {
		return models.RecentChange{}, false, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE recent_conversations
        SET last_message_id=$3, last_text=$4, last_ts=$5, hidden=FALSE
        WHERE owner_uid=$1 AND peer_uid=$2`,
		next.OwnerUID, next.PeerUID, next.LastMessageID, next.LastText, next.LastTimestamp)
	if err != nil {
		return models.RecentChange{}, false, err
	}

	kind := models.ChangeUpdated
	if current.Hidden {
		kind = models.ChangeAdded
	}
	return models.RecentChange{Kind: kind, Entry: next}, true, nil
}

func selectRecentForUpdate(ctx context.Context, tx *sqlx.Tx, ownerUID, peerUID string) (models.RecentConversation, error) {
	var entry models.RecentConversation
	err := tx.GetContext(ctx, &entry, `SELECT owner_uid, peer_uid, last_message_id, last_text, last_ts, hidden
        FROM recent_conversations WHERE owner_uid=$1 AND peer_uid=$2 FOR UPDATE`, ownerUID, peerUID)
	return entry, err
}
