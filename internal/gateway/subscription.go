package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Snapshotter reads every recent entry of an owner, hidden ones included.
type Snapshotter interface {
	Snapshot(ctx context.Context, ownerUID string) ([]models.RecentConversation, error)
}

// delivered is what a subscriber last saw for one peer.
type delivered struct {
	entry   models.RecentConversation
	removed bool
}

// supersedes reports whether an entry at (ts, id) with the given visibility
// comes after d. A removal of the same message comes after its add.
func (d delivered) supersedes(ts int64, id string, removed bool) bool {
	if ts != d.entry.LastTimestamp || id != d.entry.LastMessageID {
		return models.After(ts, id, d.entry.LastTimestamp, d.entry.LastMessageID)
	}
	return removed && !d.removed
}

// Subscription is one live view of an owner's recent conversation list. It
// yields the current list as "added" events followed by incremental changes.
type Subscription struct {
	ID        string
	OwnerUID  string
	SessionID string

	hub     *Hub
	source  Snapshotter
	log     zerolog.Logger
	onClose func(*Subscription)

	ctx    context.Context
	cancel context.CancelFunc

	inbox  chan models.RecentChange
	out    chan models.RecentChange
	kick   chan struct{}
	done   chan struct{}
	resync atomic.Bool

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	// owned by the pump goroutine once started
	seen    map[string]delivered
	pending []models.RecentChange
}

// Events yields changes until the subscription is closed.
func (s *Subscription) Events() <-chan models.RecentChange {
	return s.out
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		s.cancel()
		close(s.done)
		observability.DecSubscriptions()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *Subscription) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.log.Warn().Err(err).Msg("subscription failed")
	s.Close()
}

// offer queues change without blocking. A full queue switches the
// subscription to resync mode and everything queued is discarded.
func (s *Subscription) offer(change models.RecentChange) {
	select {
	case <-s.done:
		return
	default:
	}
	if s.resync.Load() {
		observability.IncRecentEvent("dropped")
		return
	}
	select {
	case s.inbox <- change:
	default:
		s.resync.Store(true)
		observability.IncRecentEvent("dropped")
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// load seeds the delivered state from a snapshot and queues the initial
// "added" events.
func (s *Subscription) load(entries []models.RecentConversation) {
	s.seen = make(map[string]delivered, len(entries))
	s.pending = make([]models.RecentChange, 0, len(entries))
	for _, e := range entries {
		s.seen[e.PeerUID] = delivered{entry: e, removed: e.Hidden}
		if !e.Hidden {
			s.pending = append(s.pending, models.RecentChange{Kind: models.ChangeAdded, Entry: e})
		}
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	for _, change := range s.pending {
		if !s.emit(change) {
			return
		}
	}
	s.pending = nil

	for {
		if s.resync.Load() {
			if !s.resynchronize() {
				return
			}
			continue
		}
		select {
		case <-s.done:
			return
		case <-s.kick:
		case change := <-s.inbox:
			if s.resync.Load() {
				continue
			}
			out, ok := s.apply(change)
			if !ok {
				observability.IncRecentEvent("filtered")
				continue
			}
			if !s.emit(out) {
				return
			}
		}
	}
}

// apply folds change into the delivered state and rewrites its kind relative
// to what the subscriber already has.
func (s *Subscription) apply(change models.RecentChange) (models.RecentChange, bool) {
	entry := change.Entry
	removed := change.Kind == models.ChangeRemoved
	prev, known := s.seen[entry.PeerUID]
	if known && !prev.supersedes(entry.LastTimestamp, entry.LastMessageID, removed) {
		return models.RecentChange{}, false
	}
	s.seen[entry.PeerUID] = delivered{entry: entry, removed: removed}

	visible := known && !prev.removed
	switch {
	case removed && visible:
		return models.RecentChange{Kind: models.ChangeRemoved, Entry: entry}, true
	case removed:
		return models.RecentChange{}, false
	case visible:
		return models.RecentChange{Kind: models.ChangeUpdated, Entry: entry}, true
	default:
		return models.RecentChange{Kind: models.ChangeAdded, Entry: entry}, true
	}
}

func (s *Subscription) resynchronize() bool {
	s.resync.Store(false)
drain:
	for {
		select {
		case <-s.inbox:
		default:
			break drain
		}
	}

	fresh, err := s.source.Snapshot(s.ctx, s.OwnerUID)
	if err != nil {
		s.fail(err)
		return false
	}
	observability.IncRecentEvent("resync")
	s.log.Info().Str("owner_uid", s.OwnerUID).Msg("subscription resynchronized")
	envelope := observability.NewEnvelope("recent", "subscription_resync", map[string]interface{}{
		"owner_uid":       s.OwnerUID,
		"subscription_id": s.ID,
		"session_id":      s.SessionID,
		"entries":         len(fresh),
	})
	if err := observability.PublishEvent(s.ctx, observability.RoutingRecentResync, envelope, observability.BuildHeaders(observability.RequestIDFromContext(s.ctx), "")); err != nil {
		s.log.Warn().Err(err).Msg("publish resync event")
	}

	for _, change := range s.diff(fresh) {
		if !s.emit(change) {
			return false
		}
	}
	return true
}

// diff brings the delivered state up to fresh and returns the changes the
// subscriber needs to match it.
func (s *Subscription) diff(fresh []models.RecentConversation) []models.RecentChange {
	var changes []models.RecentChange
	present := make(map[string]struct{}, len(fresh))
	for _, e := range fresh {
		present[e.PeerUID] = struct{}{}
		prev, known := s.seen[e.PeerUID]
		if known && !prev.supersedes(e.LastTimestamp, e.LastMessageID, e.Hidden) &&
			!(prev.entry.SameMessage(e) && prev.removed == e.Hidden) {
			continue
		}
		s.seen[e.PeerUID] = delivered{entry: e, removed: e.Hidden}

		visible := known && !prev.removed
		switch {
		case e.Hidden && visible:
			changes = append(changes, models.RecentChange{Kind: models.ChangeRemoved, Entry: e})
		case e.Hidden:
		case !visible:
			changes = append(changes, models.RecentChange{Kind: models.ChangeAdded, Entry: e})
		case !prev.entry.SameMessage(e):
			changes = append(changes, models.RecentChange{Kind: models.ChangeUpdated, Entry: e})
		}
	}
	for peer, prev := range s.seen {
		if _, ok := present[peer]; ok || prev.removed {
			continue
		}
		s.seen[peer] = delivered{entry: prev.entry, removed: true}
		changes = append(changes, models.RecentChange{Kind: models.ChangeRemoved, Entry: prev.entry})
	}
	return changes
}

func (s *Subscription) emit(change models.RecentChange) bool {
	select {
	case s.out <- change:
		observability.IncRecentEvent("delivered")
		return true
	case <-s.done:
		return false
	}
}
