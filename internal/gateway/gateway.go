// Package gateway keeps client sessions and pushes recent conversation
// changes to live subscriptions.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/auth"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Sender appends messages on behalf of a session.
type Sender interface {
	Append(ctx context.Context, fromUID, toUID, text string) (models.Message, error)
}

// Relay carries changes to every gateway replica, this one included.
type Relay interface {
	Publish(ctx context.Context, ownerUID string, change models.RecentChange) error
}

// Session is an authenticated client connection.
type Session struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	ConnectedAt time.Time `json:"connected_at"`
}

type sessionEntry struct {
	session *Session
	subs    map[*Subscription]struct{}
}

type Gateway struct {
	tokens    TokenVerifier
	snapshots Snapshotter
	sender    Sender
	hub       *Hub
	buffer    int
	log       zerolog.Logger

	mu       sync.Mutex
	relay    Relay
	sessions map[string]*sessionEntry
}

// New builds a gateway. buffer bounds the queue of each subscription.
func New(tokens TokenVerifier, snapshots Snapshotter, sender Sender, buffer int, log zerolog.Logger) *Gateway {
	if buffer <= 0 {
		buffer = 64
	}
	return &Gateway{
		tokens:    tokens,
		snapshots: snapshots,
		sender:    sender,
		hub:       NewHub(),
		buffer:    buffer,
		log:       log.With().Str("component", "gateway").Logger(),
		sessions:  make(map[string]*sessionEntry),
	}
}

// SetRelay routes notifications through r instead of the local hub.
func (g *Gateway) SetRelay(r Relay) {
	g.mu.Lock()
	g.relay = r
	g.mu.Unlock()
}

// Connect opens a session for a valid token.
func (g *Gateway) Connect(ctx context.Context, token string) (*Session, error) {
	const op = "gateway.Connect"
	claims, err := g.tokens.VerifyToken(token)
	if err != nil {
		if apperr.Is(err, apperr.KindAuthFailure) {
			return nil, err
		}
		return nil, apperr.AuthFailure(op, apperr.ErrInvalidSession)
	}

	session := &Session{
		ID:          uuid.NewString(),
		UID:         claims.UID,
		Email:       claims.Email,
		ConnectedAt: time.Now().UTC(),
	}
	g.mu.Lock()
	g.sessions[session.ID] = &sessionEntry{session: session, subs: make(map[*Subscription]struct{})}
	g.mu.Unlock()

	g.log.Debug().Str("session_id", session.ID).Str("uid", session.UID).Msg("session connected")
	return session, nil
}

func (g *Gateway) live(session *Session) bool {
	if session == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sessions[session.ID]
	return ok
}

// SubscribeRecent starts a live view of the session owner's recent list.
// The subscription is registered before the snapshot is read so no change
// committed in between is lost.
func (g *Gateway) SubscribeRecent(ctx context.Context, session *Session) (*Subscription, error) {
	const op = "gateway.SubscribeRecent"
	if !g.live(session) {
		return nil, apperr.AuthFailure(op, apperr.ErrInvalidSession)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		ID:        uuid.NewString(),
		OwnerUID:  session.UID,
		SessionID: session.ID,
		hub:       g.hub,
		source:    g.snapshots,
		log:       g.log.With().Str("owner_uid", session.UID).Logger(),
		onClose:   g.forget,
		ctx:       subCtx,
		cancel:    cancel,
		inbox:     make(chan models.RecentChange, g.buffer),
		out:       make(chan models.RecentChange),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	// The hub entry is added under g.mu so a concurrent Disconnect either
	// sees the subscription and closes it or rejects it here.
	g.mu.Lock()
	entry, ok := g.sessions[session.ID]
	if ok {
		entry.subs[sub] = struct{}{}
		g.hub.add(sub)
		observability.IncSubscriptions()
	}
	g.mu.Unlock()
	if !ok {
		cancel()
		return nil, apperr.AuthFailure(op, apperr.ErrInvalidSession)
	}

	entries, err := g.snapshots.Snapshot(ctx, session.UID)
	if err != nil {
		sub.Close()
		close(sub.out)
		return nil, err
	}
	sub.load(entries)
	go sub.run()
	return sub, nil
}

// Send appends a message from the session owner.
func (g *Gateway) Send(ctx context.Context, session *Session, toUID, text string) (models.Message, error) {
	if !g.live(session) {
		return models.Message{}, apperr.AuthFailure("gateway.Send", apperr.ErrInvalidSession)
	}
	return g.sender.Append(ctx, session.UID, toUID, text)
}

// Disconnect closes every subscription of the session. Repeated calls are
// no-ops.
func (g *Gateway) Disconnect(session *Session) {
	if session == nil {
		return
	}
	g.mu.Lock()
	entry, ok := g.sessions[session.ID]
	delete(g.sessions, session.ID)
	g.mu.Unlock()
	if !ok {
		return
	}
	for sub := range entry.subs {
		sub.Close()
	}
	g.log.Debug().Str("session_id", session.ID).Msg("session disconnected")
}

// Shutdown disconnects every session.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, entry := range g.sessions {
		sessions = append(sessions, entry.session)
	}
	g.mu.Unlock()
	for _, s := range sessions {
		g.Disconnect(s)
	}
}

func (g *Gateway) forget(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.sessions[sub.SessionID]; ok {
		delete(entry.subs, sub)
	}
}

// NotifyRecent fans a committed change out to the owner's subscriptions.
func (g *Gateway) NotifyRecent(ctx context.Context, ownerUID string, change models.RecentChange) {
	g.mu.Lock()
	relay := g.relay
	g.mu.Unlock()
	if relay != nil {
		err := relay.Publish(ctx, ownerUID, change)
		if err == nil {
			return
		}
		g.log.Warn().Err(err).Str("owner_uid", ownerUID).Msg("relay publish failed; dispatching locally")
	}
	g.hub.Dispatch(ownerUID, change)
}

// Dispatch delivers a change to this replica's subscriptions only.
func (g *Gateway) Dispatch(ownerUID string, change models.RecentChange) {
	g.hub.Dispatch(ownerUID, change)
}

// SessionCount returns the number of open sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// SubscriberCount returns the number of live subscriptions of owner on this
// replica.
func (g *Gateway) SubscriberCount(ownerUID string) int {
	return g.hub.Count(ownerUID)
}
