// Package conversations maintains each user's recent conversation list: one
// entry per peer pointing at the newest message exchanged with that peer.
package conversations

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// UserLookup resolves users for existence checks and entry decoration.
type UserLookup interface {
	GetUser(ctx context.Context, uid string) (models.User, error)
}

// Notifier receives committed changes for delivery to live subscribers.
type Notifier interface {
	NotifyRecent(ctx context.Context, ownerUID string, change models.RecentChange)
}

type Index struct {
	repo  repositories.RecentRepository
	users UserLookup
	log   zerolog.Logger

	mu       sync.RWMutex
	notifier Notifier
}

func NewIndex(repo repositories.RecentRepository, users UserLookup, log zerolog.Logger) *Index {
	return &Index{
		repo:  repo,
		users: users,
		log:   log.With().Str("component", "conversation-index").Logger(),
	}
}

// SetNotifier installs the subscriber fan-out. A nil notifier drops changes.
func (x *Index) SetNotifier(n Notifier) {
	x.mu.Lock()
	x.notifier = n
	x.mu.Unlock()
}

// Upsert points owner's entry for peer at msg when msg is newer than the
// current entry. Stale and duplicate deliveries report changed == false.
func (x *Index) Upsert(ctx context.Context, ownerUID, peerUID string, msg models.Message) (models.RecentChange, bool, error) {
	const op = "conversations.Upsert"
	for _, uid := range []string{ownerUID, peerUID} {
		if _, err := x.users.GetUser(ctx, uid); err != nil {
			return models.RecentChange{}, false, err
		}
	}

	change, changed, err := x.repo.UpsertRecent(ctx, ownerUID, peerUID, msg)
	if err != nil {
		return models.RecentChange{}, false, apperr.Internal(op, err)
	}
	if changed {
		x.Publish(ctx, []models.RecentChange{change})
	}
	return change, changed, nil
}

// ListRecent returns owner's visible entries, newest first.
func (x *Index) ListRecent(ctx context.Context, ownerUID string) ([]models.RecentConversation, error) {
	entries, err := x.repo.ListRecent(ctx, ownerUID)
	if err != nil {
		return nil, apperr.Internal("conversations.ListRecent", err)
	}
	visible := models.VisibleRecent(entries)
	x.decorate(ctx, visible)
	return visible, nil
}

// Recent yields owner's visible entries, newest first.
func (x *Index) Recent(ctx context.Context, ownerUID string) iter.Seq2[models.RecentConversation, error] {
	return func(yield func(models.RecentConversation, error) bool) {
		entries, err := x.ListRecent(ctx, ownerUID)
		if err != nil {
			yield(models.RecentConversation{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Snapshot returns every entry of owner, hidden ones included, for
// subscribers that need to know what a hide superseded.
func (x *Index) Snapshot(ctx context.Context, ownerUID string) ([]models.RecentConversation, error) {
	entries, err := x.repo.ListRecent(ctx, ownerUID)
	if err != nil {
		return nil, apperr.Internal("conversations.Snapshot", err)
	}
	x.decorate(ctx, entries)
	return entries, nil
}

// Hide removes peer from owner's list until a newer message arrives.
func (x *Index) Hide(ctx context.Context, ownerUID, peerUID string) error {
	const op = "conversations.Hide"
	change, changed, err := x.repo.HideRecent(ctx, ownerUID, peerUID)
	if errors.Is(err, repositories.ErrRecentNotFound) {
		return apperr.NotFound(op, err)
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	if changed {
		x.Publish(ctx, []models.RecentChange{change})
	}
	return nil
}

// Publish decorates committed changes and hands them to the notifier.
func (x *Index) Publish(ctx context.Context, changes []models.RecentChange) {
	x.mu.RLock()
	n := x.notifier
	x.mu.RUnlock()
	if n == nil {
		return
	}
	for _, change := range changes {
		x.decorateOne(ctx, &change.Entry)
		n.NotifyRecent(ctx, change.Entry.OwnerUID, change)
	}
}

func (x *Index) decorate(ctx context.Context, entries []models.RecentConversation) {
	for i := range entries {
		x.decorateOne(ctx, &entries[i])
	}
}

func (x *Index) decorateOne(ctx context.Context, entry *models.RecentConversation) {
	peer, err := x.users.GetUser(ctx, entry.PeerUID)
	if err != nil {
		x.log.Warn().Err(err).Str("peer_uid", entry.PeerUID).Msg("peer lookup failed")
		return
	}
	entry.PeerEmail = peer.Email
	entry.PeerProfileImageURL = peer.ProfileImageURL
}
