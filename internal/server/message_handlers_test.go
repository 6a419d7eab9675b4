package server

import (
	"net/http"
	"testing"

	"relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptedPair creates and accepts a private conversation between two users.
func acceptedPair(t *testing.T, ts *testServer, a, b *models.User) models.Conversation {
	t.Helper()
	resp := ts.request(t, http.MethodPost, "/api/conversations/private", a.ID,
		map[string]interface{}{"user_ids": []uint{a.ID, b.ID}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conv := decodeJSON[models.Conversation](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/accept", b.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	return conv
}

func sendMessage(t *testing.T, ts *testServer, senderID, convID uint, content string) models.Message {
	t.Helper()
	resp := ts.request(t, http.MethodPost, "/api/messages/", senderID,
		map[string]interface{}{"conversation_id": convID, "content": content})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[models.Message](t, resp)
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	eve := ts.user(t, "eve")
	conv := acceptedPair(t, ts, alice, bob)

	t.Run("delivers and echoes sender", func(t *testing.T) {
		msg := sendMessage(t, ts, alice.ID, conv.ID, "hello bob")
		assert.Equal(t, conv.ID, msg.ConversationID)
		assert.Equal(t, models.MessageTypeText, msg.Type)
		require.NotNil(t, msg.Sender)
		assert.Equal(t, "alice", msg.Sender.Username)
	})

	t.Run("missing conversation id", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/messages/", alice.ID,
			map[string]interface{}{"content": "lost"})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty message", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/messages/", alice.ID,
			map[string]interface{}{"conversation_id": conv.ID})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("non-member denied", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/messages/", eve.ID,
			map[string]interface{}{"conversation_id": conv.ID, "content": "hi"})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("pending invitee cannot send", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/conversations/private", alice.ID,
			map[string]interface{}{"user_ids": []uint{alice.ID, eve.ID}})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		pendingConv := decodeJSON[models.Conversation](t, resp)

		resp = ts.request(t, http.MethodPost, "/api/messages/", eve.ID,
			map[string]interface{}{"conversation_id": pendingConv.ID, "content": "hi"})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestGetMessages_Pagination(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := acceptedPair(t, ts, alice, bob)

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		sendMessage(t, ts, alice.ID, conv.ID, content)
	}

	resp := ts.request(t, http.MethodGet, "/api/messages/"+itoa(conv.ID)+"?page=1&limit=2", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page1 := decodeJSON[[]models.Message](t, resp)
	require.Len(t, page1, 2)
	// Page 1 is the newest page, chronological within the page.
	assert.Equal(t, "four", page1[0].Content)
	assert.Equal(t, "five", page1[1].Content)

	resp = ts.request(t, http.MethodGet, "/api/messages/"+itoa(conv.ID)+"?page=3&limit=2", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page3 := decodeJSON[[]models.Message](t, resp)
	require.Len(t, page3, 1)
	assert.Equal(t, "one", page3[0].Content)

	eve := ts.user(t, "eve")
	resp = ts.request(t, http.MethodGet, "/api/messages/"+itoa(conv.ID), eve.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMarkConversationRead(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := acceptedPair(t, ts, alice, bob)

	first := sendMessage(t, ts, alice.ID, conv.ID, "first")
	sendMessage(t, ts, alice.ID, conv.ID, "second")

	path := "/api/messages/" + itoa(conv.ID) + "/read"

	resp := ts.request(t, http.MethodPatch, path, bob.ID,
		map[string]interface{}{"last_read_message_id": first.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]interface{}](t, resp)
	assert.Equal(t, true, body["advanced"])

	// Moving the cursor backwards is a silent no-op.
	resp = ts.request(t, http.MethodPatch, path, bob.ID,
		map[string]interface{}{"last_read_message_id": first.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON[map[string]interface{}](t, resp)
	assert.Equal(t, false, body["advanced"])

	// Without an explicit id the cursor jumps to the newest message.
	resp = ts.request(t, http.MethodPatch, path, bob.ID, map[string]interface{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON[map[string]interface{}](t, resp)
	assert.Equal(t, true, body["advanced"])

	resp = ts.request(t, http.MethodGet, "/api/conversations/", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeJSON[[]models.Conversation](t, resp)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadCount)
}

func TestToggleReaction(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := acceptedPair(t, ts, alice, bob)
	msg := sendMessage(t, ts, alice.ID, conv.ID, "react to this")

	path := "/api/messages/" + itoa(msg.ID) + "/react"

	resp := ts.request(t, http.MethodPut, path, bob.ID, map[string]interface{}{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[struct {
		Message models.Message `json:"message"`
		Added   bool           `json:"added"`
	}](t, resp)
	assert.True(t, body.Added)
	require.Len(t, body.Message.Reactions, 1)
	assert.Equal(t, "🔥", body.Message.Reactions[0].Emoji)

	// Same emoji again removes the reaction.
	resp = ts.request(t, http.MethodPut, path, bob.ID, map[string]interface{}{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON[struct {
		Message models.Message `json:"message"`
		Added   bool           `json:"added"`
	}](t, resp)
	assert.False(t, body.Added)
	assert.Empty(t, body.Message.Reactions)

	resp = ts.request(t, http.MethodPut, path, bob.ID, map[string]interface{}{"emoji": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.request(t, http.MethodPut, "/api/messages/9999/react", bob.ID,
		map[string]interface{}{"emoji": "🔥"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSearchMessages(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")
	conv := acceptedPair(t, ts, alice, bob)

	sendMessage(t, ts, alice.ID, conv.ID, "Deploy tonight")
	sendMessage(t, ts, bob.ID, conv.ID, "lunch?")
	sendMessage(t, ts, alice.ID, conv.ID, "deployment done")

	base := "/api/messages/" + itoa(conv.ID) + "/search"

	resp := ts.request(t, http.MethodGet, base+"?q=DEPLOY", bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeJSON[[]models.Message](t, resp)
	require.Len(t, results, 2)
	assert.Equal(t, "Deploy tonight", results[0].Content)

	resp = ts.request(t, http.MethodGet, base, bob.ID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}
