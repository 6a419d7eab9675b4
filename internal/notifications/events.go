package notifications

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Realtime event types delivered over per-user channels. Clients dedupe on the
// envelope id, so re-delivery across reconnects is harmless.
const (
	EventNewMessage           = "new_message"
	EventMessageUpdate        = "message_update"
	EventNewConversation      = "new_conversation"
	EventConversationAccepted = "conversation_accepted"
	EventConversationRejected = "conversation_rejected"
	EventConversationRemoved  = "conversation_removed"
	EventConversationUpdated  = "conversation_updated"
	EventDropped              = "events_dropped"
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
)

// Event is the wire envelope for realtime events.
type Event struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewEvent builds an envelope with a fresh event id.
func NewEvent(eventType string, payload interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: payload,
	}
}

// Encode marshals the event for publication.
func (e Event) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewMessagePayload carries a sent message plus the recipient's recomputed
// unread count. The sender receives it too, for optimistic-send reconciliation.
type NewMessagePayload struct {
	Message     interface{} `json:"message"`
	UnreadCount int64       `json:"unread_count"`
}

// ConversationPayload carries a conversation snapshot for lifecycle events.
type ConversationPayload struct {
	Conversation interface{} `json:"conversation"`
}

// ConversationRefPayload identifies a conversation the recipient no longer
// has access to, or whose state changed without a full snapshot.
type ConversationRefPayload struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id,omitempty"`
}

// PresencePayload announces a user's connection-state transition.
type PresencePayload struct {
	UserID uint `json:"user_id"`
	Online bool `json:"online"`
}
