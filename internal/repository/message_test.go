package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createTestMessage(t *testing.T, db *gorm.DB, convID, senderID uint, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		Type:           models.MessageTypeText,
		CreatedAt:      at,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func TestMessageRepository_ListPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	conv := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
		bob.ID:   models.MemberStateActive,
	})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		createTestMessage(t, db, conv.ID, alice.ID, fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Minute))
	}

	// Page 1 holds the two newest messages, oldest first within the page.
	page1, err := repo.List(ctx, conv.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "msg 3", page1[0].Content)
	assert.Equal(t, "msg 4", page1[1].Content)

	page2, err := repo.List(ctx, conv.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "msg 1", page2[0].Content)
	assert.Equal(t, "msg 2", page2[1].Content)

	page3, err := repo.List(ctx, conv.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "msg 0", page3[0].Content)

	require.NotNil(t, page1[0].Sender)
	assert.Equal(t, "alice", page1[0].Sender.Username)
}

func TestMessageRepository_Search(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	conv := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
	})

	base := time.Now().Add(-time.Hour)
	createTestMessage(t, db, conv.ID, alice.ID, "Hello World", base)
	createTestMessage(t, db, conv.ID, alice.ID, "nothing here", base.Add(time.Minute))
	createTestMessage(t, db, conv.ID, alice.ID, "world peace", base.Add(2*time.Minute))

	results, err := repo.Search(ctx, conv.ID, "WORLD")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Ascending creation order.
	assert.Equal(t, "Hello World", results[0].Content)
	assert.Equal(t, "world peace", results[1].Content)

	results, err = repo.Search(ctx, conv.ID, "absent")
	require.NoError(t, err)
	assert.Empty(t, results)

	// LIKE wildcards in the query are treated literally.
	results, err = repo.Search(ctx, conv.ID, "%")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMessageRepository_ToggleReaction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	conv := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
	})
	msg := createTestMessage(t, db, conv.ID, alice.ID, "react to me", time.Now())

	added, err := repo.ToggleReaction(ctx, msg.ID, alice.ID, "👍")
	require.NoError(t, err)
	assert.True(t, added)

	// Same emoji toggles off.
	added, err = repo.ToggleReaction(ctx, msg.ID, alice.ID, "👍")
	require.NoError(t, err)
	assert.False(t, added)

	// Different emoji is an independent record.
	added, err = repo.ToggleReaction(ctx, msg.ID, alice.ID, "🎉")
	require.NoError(t, err)
	assert.True(t, added)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "🎉", got.Reactions[0].Emoji)
}

func TestMessageRepository_AdvanceReadCursor(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	conv := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
		bob.ID:   models.MemberStateActive,
	})

	base := time.Now().Add(-time.Hour)
	m1 := createTestMessage(t, db, conv.ID, alice.ID, "one", base)
	m2 := createTestMessage(t, db, conv.ID, alice.ID, "two", base.Add(time.Minute))
	m3 := createTestMessage(t, db, conv.ID, alice.ID, "three", base.Add(2*time.Minute))

	advanced, err := repo.AdvanceReadCursor(ctx, conv.ID, bob.ID, m2.ID)
	require.NoError(t, err)
	assert.True(t, advanced)

	// Moving backwards is a silent no-op.
	advanced, err = repo.AdvanceReadCursor(ctx, conv.ID, bob.ID, m1.ID)
	require.NoError(t, err)
	assert.False(t, advanced)

	var member models.ConversationMember
	require.NoError(t, db.Where("conversation_id = ? AND user_id = ?", conv.ID, bob.ID).First(&member).Error)
	require.NotNil(t, member.LastReadMessageID)
	assert.Equal(t, m2.ID, *member.LastReadMessageID)

	advanced, err = repo.AdvanceReadCursor(ctx, conv.ID, bob.ID, m3.ID)
	require.NoError(t, err)
	assert.True(t, advanced)

	// A message from another conversation is rejected.
	other := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
	})
	stray := createTestMessage(t, db, other.ID, alice.ID, "stray", time.Now())
	_, err = repo.AdvanceReadCursor(ctx, conv.ID, bob.ID, stray.ID)
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}

func TestMessageRepository_UnreadCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	conv := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
		bob.ID:   models.MemberStateActive,
	})

	base := time.Now().Add(-time.Hour)
	createTestMessage(t, db, conv.ID, alice.ID, "one", base)
	m2 := createTestMessage(t, db, conv.ID, alice.ID, "two", base.Add(time.Minute))
	createTestMessage(t, db, conv.ID, alice.ID, "three", base.Add(2*time.Minute))

	// No cursor: everything is unread.
	count, err := repo.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	advanced, err := repo.AdvanceReadCursor(ctx, conv.ID, bob.ID, m2.ID)
	require.NoError(t, err)
	require.True(t, advanced)

	count, err = repo.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A non-member has nothing unread.
	count, err = repo.UnreadCount(ctx, conv.ID, 999)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMessageRepository_LatestID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	conv := createTestConversation(t, db, false, alice.ID, map[uint]models.MemberState{
		alice.ID: models.MemberStateActive,
	})

	id, err := repo.LatestID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, id)

	base := time.Now().Add(-time.Hour)
	createTestMessage(t, db, conv.ID, alice.ID, "one", base)
	m2 := createTestMessage(t, db, conv.ID, alice.ID, "two", base.Add(time.Minute))

	id, err = repo.LatestID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, m2.ID, *id)
}
