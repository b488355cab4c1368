package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/models"
)

// MemoryStore keeps users, conversation logs and recent entries in process.
// It implements UserRepository, MessageRepository and RecentRepository.
//
// Writers of one conversation are serialized by a per-conversation mutex; the
// store-wide lock is only held to publish a finished write, so a reader sees
// a message together with both of its recent entries or none of them.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	emails   map[string]string
	messages map[string][]models.Message
	recent   map[string]map[string]models.RecentConversation

	convMu sync.Mutex
	convs  map[string]*sync.Mutex

	now func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		emails:   make(map[string]string),
		messages: make(map[string][]models.Message),
		recent:   make(map[string]map[string]models.RecentConversation),
		convs:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// WithClock replaces the clock used to stamp messages.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) conversationLock(conversationID string) *sync.Mutex {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	l, ok := s.convs[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.convs[conversationID] = l
	}
	return l
}

func (s *MemoryStore) CreateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[user.Email]; taken {
		return models.User{}, ErrDuplicateEmail
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	s.users[user.UID] = user
	s.emails[user.Email] = user.UID
	return user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, uid string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[uid]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, ok := s.emails[email]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return s.users[uid], nil
}

func (s *MemoryStore) SetProfileImage(_ context.Context, uid string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[uid]
	if !ok {
		return ErrUserNotFound
	}
	user.ProfileImageURL = url
	s.users[uid] = user
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[uid]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.users, uid)
	delete(s.emails, user.Email)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, draft models.MessageDraft) (models.AppendResult, error) {
	convID := models.ConversationID(draft.FromUID, draft.ToUID)
	lock := s.conversationLock(convID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, fromOK := s.users[draft.FromUID]
	_, toOK := s.users[draft.ToUID]
	var last int64
	if log := s.messages[convID]; len(log) > 0 {
		last = log[len(log)-1].Timestamp
	}
	s.mu.RUnlock()
	if !fromOK || !toOK {
		return models.AppendResult{}, ErrUserNotFound
	}

	now := s.now()
	msg := models.Message{
		ID:             draft.ID,
		ConversationID: convID,
		FromUID:        draft.FromUID,
		ToUID:          draft.ToUID,
		Text:           draft.Text,
		Timestamp:      models.NextTimestamp(now, last),
		CreatedAt:      now.UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[convID] = append(s.messages[convID], msg)
	changes := make([]models.RecentChange, 0, 2)
	for _, view := range [][2]string{{msg.FromUID, msg.ToUID}, {msg.ToUID, msg.FromUID}} {
		if change, changed := s.upsertLocked(view[0], view[1], msg); changed {
			changes = append(changes, change)
		}
	}
	return models.AppendResult{Message: msg, Changes: changes}, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, since int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[conversationID]
	start := sort.Search(len(log), func(i int) bool { return log[i].Timestamp > since })
	end := len(log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := make([]models.Message, end-start)
	copy(page, log[start:end])
	return page, nil
}

func (s *MemoryStore) UpsertRecent(_ context.Context, ownerUID string, peerUID string, msg models.Message) (models.RecentChange, bool, error) {
	lock := s.conversationLock(models.ConversationID(ownerUID, peerUID))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	change, changed := s.upsertLocked(ownerUID, peerUID, msg)
	return change, changed, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, ownerUID string) ([]models.RecentConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]models.RecentConversation, 0, len(s.recent[ownerUID]))
	for _, e := range s.recent[ownerUID] {
		entries = append(entries, e)
	}
	models.SortRecent(entries)
	return entries, nil
}

func (s *MemoryStore) HideRecent(_ context.Context, ownerUID string, peerUID string) (models.RecentChange, bool, error) {
	lock := s.conversationLock(models.ConversationID(ownerUID, peerUID))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.recent[ownerUID][peerUID]
	if !ok {
		return models.RecentChange{}, false, ErrRecentNotFound
	}
	if current.Hidden {
		return models.RecentChange{}, false, nil
	}
	current.Hidden = true
	s.recent[ownerUID][peerUID] = current
	return models.RecentChange{Kind: models.ChangeRemoved, Entry: current}, true, nil
}

// upsertLocked requires s.mu held for writing.
func (s *MemoryStore) upsertLocked(ownerUID, peerUID string, msg models.Message) (models.RecentChange, bool) {
	next := models.RecentFromMessage(ownerUID, peerUID, msg)
	byPeer, ok := s.recent[ownerUID]
	if !ok {
		byPeer = make(map[string]models.RecentConversation)
		s.recent[ownerUID] = byPeer
	}

	current, exists := byPeer[peerUID]
	if !exists {
		byPeer[peerUID] = next
		return models.RecentChange{Kind: models.ChangeAdded, Entry: next}, true
	}
	if !next.NewerThan(current) {
		return models.RecentChange{}, false
	}
	byPeer[peerUID] = next
	if current.Hidden {
		return models.RecentChange{Kind: models.ChangeAdded, Entry: next}, true
	}
	return models.RecentChange{Kind: models.ChangeUpdated, Entry: next}, true
}

var (
	_ UserRepository    = (*MemoryStore)(nil)
	_ MessageRepository = (*MemoryStore)(nil)
	_ RecentRepository  = (*MemoryStore)(nil)
	_ UserRepository    = (*UserRepo)(nil)
	_ MessageRepository = (*MessageRepo)(nil)
	_ RecentRepository  = (*RecentRepo)(nil)
)
