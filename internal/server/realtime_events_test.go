package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"relay/internal/models"
	"relay/internal/notifications"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireEvent mirrors the envelope clients receive over their user channel.
type wireEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeUser opens a subscription on the user's event channel and blocks
// until the subscription is live, so events published by a subsequent request
// cannot be missed.
func subscribeUser(t *testing.T, rdb *redis.Client, userID uint) <-chan *redis.Message {
	t.Helper()
	sub := rdb.Subscribe(context.Background(), notifications.UserChannel(userID))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	return sub.Channel()
}

func nextEvent(t *testing.T, ch <-chan *redis.Message) wireEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var ev wireEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for realtime event")
		return wireEvent{}
	}
}

func requireNoEvent(t *testing.T, ch <-chan *redis.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected event on channel: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

// createPrivate sets up a private conversation between a and b, created by a.
func createPrivate(t *testing.T, ts *testServer, a, b uint) models.Conversation {
	t.Helper()
	resp := ts.request(t, http.MethodPost, "/api/conversations/private", a,
		map[string]interface{}{"user_ids": []uint{a, b}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[models.Conversation](t, resp)
}

func TestRealtime_AcceptEmitsSnapshotToBothParties(t *testing.T) {
	ts, rdb := newTestServerWithRedis(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := createPrivate(t, ts, alice.ID, bob.ID)

	aliceCh := subscribeUser(t, rdb, alice.ID)
	bobCh := subscribeUser(t, rdb, bob.ID)

	resp := ts.request(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/accept", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Both parties receive the full conversation snapshot, not a bare
	// reference, so clients can render the accepted thread without a re-fetch.
	for _, ch := range []<-chan *redis.Message{aliceCh, bobCh} {
		ev := nextEvent(t, ch)
		assert.Equal(t, notifications.EventConversationAccepted, ev.Type)

		var payload struct {
			Conversation models.Conversation `json:"conversation"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, conv.ID, payload.Conversation.ID)
		require.Len(t, payload.Conversation.Memberships, 2)
		for _, m := range payload.Conversation.Memberships {
			assert.Equal(t, models.MemberStateActive, m.State)
		}
	}
}

func TestRealtime_AcceptIsIdempotentOnEvents(t *testing.T) {
	ts, rdb := newTestServerWithRedis(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := createPrivate(t, ts, alice.ID, bob.ID)

	resp := ts.request(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/accept", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	aliceCh := subscribeUser(t, rdb, alice.ID)

	// A second accept is a no-op and must not re-announce the transition.
	resp = ts.request(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/accept", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	requireNoEvent(t, aliceCh)
}

func TestRealtime_SendMessageFansOutWithPerMemberUnread(t *testing.T) {
	ts, rdb := newTestServerWithRedis(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := createPrivate(t, ts, alice.ID, bob.ID)

	resp := ts.request(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/accept", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	aliceCh := subscribeUser(t, rdb, alice.ID)
	bobCh := subscribeUser(t, rdb, bob.ID)

	resp = ts.request(t, http.MethodPost, "/api/messages/", alice.ID,
		map[string]interface{}{"conversation_id": conv.ID, "content": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	type newMessagePayload struct {
		Message     models.Message `json:"message"`
		UnreadCount int64          `json:"unread_count"`
	}

	// Every member gets the event; the recipient's recomputed unread count
	// rides along so conversation lists update without a round trip.
	bobEv := nextEvent(t, bobCh)
	assert.Equal(t, notifications.EventNewMessage, bobEv.Type)
	var bobPayload newMessagePayload
	require.NoError(t, json.Unmarshal(bobEv.Payload, &bobPayload))
	assert.Equal(t, conv.ID, bobPayload.Message.ConversationID)
	assert.Equal(t, "hello", bobPayload.Message.Content)
	assert.Equal(t, alice.ID, bobPayload.Message.SenderID)
	assert.Equal(t, int64(1), bobPayload.UnreadCount)

	// The sender receives it too, for its other sessions.
	aliceEv := nextEvent(t, aliceCh)
	assert.Equal(t, notifications.EventNewMessage, aliceEv.Type)
	var alicePayload newMessagePayload
	require.NoError(t, json.Unmarshal(aliceEv.Payload, &alicePayload))
	assert.Equal(t, "hello", alicePayload.Message.Content)
}

func TestRealtime_RejectEmitsReferenceToCreator(t *testing.T) {
	ts, rdb := newTestServerWithRedis(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := createPrivate(t, ts, alice.ID, bob.ID)

	aliceCh := subscribeUser(t, rdb, alice.ID)

	resp := ts.request(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/reject", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	ev := nextEvent(t, aliceCh)
	assert.Equal(t, notifications.EventConversationRejected, ev.Type)

	var payload notifications.ConversationRefPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, conv.ID, payload.ConversationID)
	assert.Equal(t, bob.ID, payload.UserID)
}
