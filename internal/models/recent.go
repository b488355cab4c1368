package models

import "sort"

// ChangeKind classifies a change to a recent conversation entry.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// RecentConversation is the per-owner summary of the latest message exchanged
// with one peer. Peer fields are filled in from the user record when served.
type RecentConversation struct {
	OwnerUID            string `db:"owner_uid" json:"owner_uid"`
	PeerUID             string `db:"peer_uid" json:"peer_uid"`
	LastMessageID       string `db:"last_message_id" json:"last_message_id"`
	LastText            string `db:"last_text" json:"last_text"`
	LastTimestamp       int64  `db:"last_ts" json:"last_timestamp"`
	Hidden              bool   `db:"hidden" json:"-"`
	PeerEmail           string `db:"-" json:"peer_email,omitempty"`
	PeerProfileImageURL string `db:"-" json:"peer_profile_image_url,omitempty"`
}

// NewerThan reports whether r reflects a later message than other.
func (r RecentConversation) NewerThan(other RecentConversation) bool {
	return After(r.LastTimestamp, r.LastMessageID, other.LastTimestamp, other.LastMessageID)
}

// SameMessage reports whether both entries point at the same message.
func (r RecentConversation) SameMessage(other RecentConversation) bool {
	return r.LastTimestamp == other.LastTimestamp && r.LastMessageID == other.LastMessageID
}

// RecentFromMessage builds the entry owner sees after msg.
func RecentFromMessage(ownerUID, peerUID string, msg Message) RecentConversation {
	return RecentConversation{
		OwnerUID:      ownerUID,
		PeerUID:       peerUID,
		LastMessageID: msg.ID,
		LastText:      msg.Text,
		LastTimestamp: msg.Timestamp,
	}
}

// RecentChange is emitted whenever an owner's recent conversation list changes.
type RecentChange struct {
	Kind  ChangeKind         `json:"type"`
	Entry RecentConversation `json:"entry"`
}

// SortRecent orders entries newest first; ties fall back to peer uid.
func SortRecent(entries []RecentConversation) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastTimestamp != entries[j].LastTimestamp {
			return entries[i].LastTimestamp > entries[j].LastTimestamp
		}
		return entries[i].PeerUID < entries[j].PeerUID
	})
}

// VisibleRecent drops hidden entries and sorts the rest.
func VisibleRecent(entries []RecentConversation) []RecentConversation {
	visible := make([]RecentConversation, 0, len(entries))
	for _, e := range entries {
		if !e.Hidden {
			visible = append(visible, e)
		}
	}
	SortRecent(visible)
	return visible
}
