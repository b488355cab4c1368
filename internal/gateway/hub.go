package gateway

import (
	"sync"

	"chat-sync/internal/models"
)

// Hub maps recent-list owners to their live subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.OwnerUID]; !ok {
		h.subs[sub.OwnerUID] = make(map[*Subscription]struct{})
	}
	h.subs[sub.OwnerUID][sub] = struct{}{}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.OwnerUID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.OwnerUID)
		}
	}
}

// Dispatch offers change to every subscription of owner. It never blocks.
func (h *Hub) Dispatch(ownerUID string, change models.RecentChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ownerUID] {
		sub.offer(change)
	}
}

// Count returns the number of live subscriptions of owner.
func (h *Hub) Count(ownerUID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerUID])
}
