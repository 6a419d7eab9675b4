package session

import (
	"sort"
	"sync"
	"time"
)

// ViewMessage is the client-side shape of a message inside a ConversationView.
// Optimistic local sends carry a LocalID until the server echo arrives.
type ViewMessage struct {
	ID        uint      `json:"id"`
	LocalID   string    `json:"local_id,omitempty"`
	SenderID  uint      `json:"sender_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	FileURL   string    `json:"file_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending"`
}

// ConversationView is the consolidated client state for one open
// conversation. All mutation goes through the event/command methods; messages
// are deduplicated by server id and reconciled against optimistic sends.
type ConversationView struct {
	mu sync.Mutex

	ConversationID uint
	SelfID         uint

	messages  []ViewMessage
	byID      map[uint]int
	byLocalID map[string]int

	unread     int64
	lastReadID uint
}

// NewConversationView returns an empty view for the conversation.
func NewConversationView(conversationID, selfID uint) *ConversationView {
	return &ConversationView{
		ConversationID: conversationID,
		SelfID:         selfID,
		byID:           make(map[uint]int),
		byLocalID:      make(map[string]int),
	}
}

// ApplyHistory replaces the view's messages with a fetched history page
// merged with any still-pending optimistic sends.
func (v *ConversationView) ApplyHistory(msgs []ViewMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pending := make([]ViewMessage, 0)
	for _, m := range v.messages {
		if m.Pending {
			pending = append(pending, m)
		}
	}

	v.messages = v.messages[:0]
	v.byID = make(map[uint]int)
	v.byLocalID = make(map[string]int)
	for _, m := range msgs {
		v.appendLocked(m)
	}
	for _, m := range pending {
		v.appendLocked(m)
	}
	v.sortLocked()
}

// AddOptimistic records a locally sent message before the server confirms it.
func (v *ConversationView) AddOptimistic(localID string, content, msgType, fileURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appendLocked(ViewMessage{
		LocalID:   localID,
		SenderID:  v.SelfID,
		Content:   content,
		Type:      msgType,
		FileURL:   fileURL,
		CreatedAt: time.Now(),
		Pending:   true,
	})
}

// ApplyNewMessage folds a new_message event into the view. A server echo of
// the caller's own optimistic send replaces the pending entry; duplicates by
// server id are ignored. Returns whether the view changed.
func (v *ConversationView) ApplyNewMessage(m ViewMessage, unread int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.byID[m.ID]; ok {
		return false
	}

	// Reconcile against an optimistic send: same sender, same content, still
	// pending. The oldest pending match wins.
	if m.SenderID == v.SelfID {
		for i, existing := range v.messages {
			if existing.Pending && existing.Content == m.Content && existing.Type == m.Type {
				m.LocalID = existing.LocalID
				m.Pending = false
				v.messages[i] = m
				delete(v.byLocalID, existing.LocalID)
				v.byID[m.ID] = i
				v.unread = unread
				v.sortLocked()
				return true
			}
		}
	}

	v.appendLocked(m)
	v.unread = unread
	v.sortLocked()
	return true
}

// ApplyMessageUpdate replaces a message in place (reaction changes). Unknown
// ids are ignored; history will carry them on the next fetch.
func (v *ConversationView) ApplyMessageUpdate(m ViewMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.byID[m.ID]
	if !ok {
		return false
	}
	m.Pending = false
	v.messages[i] = m
	return true
}

// MarkRead moves the local read cursor forward and clears the unread count.
// Backward moves are ignored, mirroring the server's monotonic cursor.
func (v *ConversationView) MarkRead(messageID uint) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if messageID <= v.lastReadID {
		return
	}
	v.lastReadID = messageID
	v.unread = 0
}

// Messages returns a snapshot of the ordered message list.
func (v *ConversationView) Messages() []ViewMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ViewMessage, len(v.messages))
	copy(out, v.messages)
	return out
}

// Unread returns the current unread count.
func (v *ConversationView) Unread() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread
}

// LastReadID returns the local read cursor.
func (v *ConversationView) LastReadID() uint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastReadID
}

func (v *ConversationView) appendLocked(m ViewMessage) {
	if m.ID != 0 {
		if _, ok := v.byID[m.ID]; ok {
			return
		}
	}
	v.messages = append(v.messages, m)
	idx := len(v.messages) - 1
	if m.ID != 0 {
		v.byID[m.ID] = idx
	}
	if m.LocalID != "" {
		v.byLocalID[m.LocalID] = idx
	}
}

func (v *ConversationView) sortLocked() {
	sort.SliceStable(v.messages, func(i, j int) bool {
		a, b := v.messages[i], v.messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for i, m := range v.messages {
		if m.ID != 0 {
			v.byID[m.ID] = i
		}
		if m.LocalID != "" {
			v.byLocalID[m.LocalID] = i
		}
	}
}
