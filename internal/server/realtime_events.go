package server

import (
	"context"
	"log"

	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/observability"
)

// publishUserEvent wraps the payload in an envelope with a fresh event id and
// delivers it to every session the user has open. With Redis available the
// event goes through pub/sub so other instances see it too; the local hub
// receives it back through its subscription, keeping delivery single-path.
func (s *Server) publishUserEvent(userID uint, eventType string, payload interface{}) {
	event := notifications.NewEvent(eventType, payload)
	encoded, err := event.Encode()
	if err != nil {
		log.Printf("failed to encode %s event: %v", eventType, err)
		return
	}

	if s.notifier != nil {
		if err := s.notifier.PublishUser(context.Background(), userID, encoded); err != nil {
			log.Printf("failed to publish %s event to user %d: %v", eventType, userID, err)
			return
		}
	} else if s.hub != nil {
		s.hub.Broadcast(userID, encoded)
	}
	observability.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// notifyNewMessage fans a sent message out to every member of the conversation
// with a per-member recomputed unread count. The sender receives the event too
// so its other sessions and optimistic-send reconciliation stay in sync.
func (s *Server) notifyNewMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	for _, m := range conv.Memberships {
		count, err := s.msgService.UnreadCount(ctx, conv.ID, m.UserID)
		if err != nil {
			log.Printf("unread count for user %d in conversation %d: %v", m.UserID, conv.ID, err)
			count = 0
		}
		s.publishUserEvent(m.UserID, notifications.EventNewMessage, notifications.NewMessagePayload{
			Message:     msg,
			UnreadCount: count,
		})
	}
}

// notifyMessageUpdate sends the full updated message (reaction changes) to all
// members.
func (s *Server) notifyMessageUpdate(conv *models.Conversation, msg *models.Message) {
	for _, m := range conv.Memberships {
		s.publishUserEvent(m.UserID, notifications.EventMessageUpdate, msg)
	}
}

// notifyConversation sends a conversation snapshot event to the given users.
func (s *Server) notifyConversation(eventType string, conv *models.Conversation, userIDs []uint) {
	payload := notifications.ConversationPayload{Conversation: conv}
	for _, id := range userIDs {
		s.publishUserEvent(id, eventType, payload)
	}
}

// notifyConversationRef sends a conversation reference event (no snapshot) to
// the given users. actorID identifies the member whose state changed.
func (s *Server) notifyConversationRef(eventType string, convID, actorID uint, userIDs []uint) {
	payload := notifications.ConversationRefPayload{ConversationID: convID, UserID: actorID}
	for _, id := range userIDs {
		s.publishUserEvent(id, eventType, payload)
	}
}

// publishPresence announces a connection-state transition to every connected
// client. Presence goes out as a broadcast: any open conversation list may be
// showing the user.
func (s *Server) publishPresence(userID uint, online bool) {
	eventType := notifications.EventUserOnline
	if !online {
		eventType = notifications.EventUserOffline
	}
	event := notifications.NewEvent(eventType, notifications.PresencePayload{
		UserID: userID,
		Online: online,
	})
	encoded, err := event.Encode()
	if err != nil {
		log.Printf("failed to encode %s event: %v", eventType, err)
		return
	}

	if s.notifier != nil {
		if err := s.notifier.PublishBroadcast(context.Background(), encoded); err != nil {
			log.Printf("failed to publish %s event for user %d: %v", eventType, userID, err)
			return
		}
	} else if s.hub != nil {
		s.hub.BroadcastAll(encoded)
	}
	observability.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// allMemberIDs collects every user holding a membership row, active or pending.
func allMemberIDs(conv *models.Conversation) []uint {
	ids := make([]uint, 0, len(conv.Memberships))
	for _, m := range conv.Memberships {
		ids = append(ids, m.UserID)
	}
	return ids
}
