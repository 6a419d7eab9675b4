package repository

import (
	"context"
	"errors"

	"relay/internal/models"
	"relay/internal/observability"

	"gorm.io/gorm"
)

// MessageRepository defines persistence operations for messages, reactions and
// read cursors.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	List(ctx context.Context, convID uint, limit, offset int) ([]*models.Message, error)
	Search(ctx context.Context, convID uint, query string) ([]*models.Message, error)
	LatestID(ctx context.Context, convID uint) (*uint, error)
	ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error)
	AdvanceReadCursor(ctx context.Context, convID, userID, messageID uint) (bool, error)
	UnreadCount(ctx context.Context, convID, userID uint) (int64, error)
}

type messageRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, metrics: observability.NewDatabaseMetrics()}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	defer r.metrics.TrackQuery("create", "messages")()
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return models.NewInternalError(err)
	}
	// Reload with the sender summary for the fan-out payload.
	err := r.db.WithContext(ctx).Preload("Sender").Preload("Reactions").First(msg, msg.ID).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Reactions").
		First(&msg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

// List returns one page of messages in chronological order. Page 1 is the most
// recent page, so rows are fetched newest-first and reversed.
func (r *messageRepository) List(ctx context.Context, convID uint, limit, offset int) ([]*models.Message, error) {
	defer r.metrics.TrackQuery("list", "messages")()
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Preload("Sender").
		Preload("Reactions").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Search returns text messages whose content contains the query,
// case-insensitive, oldest first.
func (r *messageRepository) Search(ctx context.Context, convID uint, query string) ([]*models.Message, error) {
	defer r.metrics.TrackQuery("search", "messages")()
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND type = ? AND LOWER(content) LIKE ? ESCAPE '\\'",
			convID, models.MessageTypeText, "%"+escapeLike(query)+"%").
		Preload("Sender").
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return messages, nil
}

// escapeLike neutralizes LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	lower := []byte(s)
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		// ASCII lowering only; multi-byte runes pass through and LOWER()
		// on the column side handles the rest.
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// LatestID returns the id of the newest message in the conversation, or nil
// when the conversation has no messages.
func (r *messageRepository) LatestID(ctx context.Context, convID uint) (*uint, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Select("id").
		Where("conversation_id = ?", convID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	id := msg.ID
	return &id, nil
}

// ToggleReaction flips the existence of the (message, user, emoji) reaction
// row inside one transaction. Returns true when the reaction was added, false
// when it was removed.
func (r *messageRepository) ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error) {
	defer r.metrics.TrackQuery("toggle_reaction", "message_reactions")()
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Delete(&models.MessageReaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		reaction := models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}
		if err := tx.Create(&reaction).Error; err != nil {
			// A concurrent toggle can win the insert race; the unique index
			// then makes this call the remove side of the toggle.
			if isUniqueConstraintError(err) {
				return tx.
					Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
					Delete(&models.MessageReaction{}).Error
			}
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return added, nil
}

// AdvanceReadCursor moves the member's read cursor to messageID if it is newer
// than the current cursor. Older targets are a silent no-op; ordering compares
// (created_at, id) so same-second messages stay ordered. Returns whether the
// cursor moved.
func (r *messageRepository) AdvanceReadCursor(ctx context.Context, convID, userID, messageID uint) (bool, error) {
	defer r.metrics.TrackQuery("advance_cursor", "conversation_members")()
	advanced := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.Message
		if err := tx.Select("id", "created_at", "conversation_id").First(&target, messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Message", messageID)
			}
			return err
		}
		if target.ConversationID != convID {
			return models.NewNotFoundError("Message", messageID)
		}

		var member models.ConversationMember
		err := tx.Where("conversation_id = ? AND user_id = ?", convID, userID).First(&member).Error
		if err != nil {
			return err
		}

		if member.LastReadMessageID != nil {
			var cursor models.Message
			err := tx.Select("id", "created_at").First(&cursor, *member.LastReadMessageID).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err == nil {
				if target.CreatedAt.Before(cursor.CreatedAt) {
					return nil
				}
				if target.CreatedAt.Equal(cursor.CreatedAt) && target.ID <= cursor.ID {
					return nil
				}
			}
		}

		res := tx.Model(&models.ConversationMember{}).
			Where("conversation_id = ? AND user_id = ?", convID, userID).
			Update("last_read_message_id", messageID)
		if res.Error != nil {
			return res.Error
		}
		advanced = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return false, appErr
		}
		return false, models.NewInternalError(err)
	}
	return advanced, nil
}

// UnreadCount counts messages strictly after the member's read cursor. With no
// cursor every message in the conversation is unread.
func (r *messageRepository) UnreadCount(ctx context.Context, convID, userID uint) (int64, error) {
	defer r.metrics.TrackQuery("unread_count", "messages")()
	var member models.ConversationMember
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, models.NewInternalError(err)
	}

	q := r.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", convID)

	if member.LastReadMessageID != nil {
		var cursor models.Message
		err := r.db.WithContext(ctx).Select("id", "created_at").First(&cursor, *member.LastReadMessageID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, models.NewInternalError(err)
		}
		if err == nil {
			q = q.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
				cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
