package repository

import (
	"context"
	"errors"
	"time"

	"relay/internal/models"
	"relay/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository defines persistence operations for conversations and
// their membership rows.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	FindPrivateBetween(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error)
	GetMembership(ctx context.Context, convID, userID uint) (*models.ConversationMember, error)
	AddMember(ctx context.Context, member *models.ConversationMember) error
	RemoveMember(ctx context.Context, convID, userID uint) error
	RemovePendingMember(ctx context.Context, convID, userID uint) (bool, error)
	AcceptMembership(ctx context.Context, convID, userID uint) (bool, error)
	SetAdmin(ctx context.Context, convID, userID uint, isAdmin bool) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	Delete(ctx context.Context, convID uint) error
	SetLastMessage(ctx context.Context, convID, messageID uint) error
}

type conversationRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
}

// NewConversationRepository returns a new ConversationRepository implementation.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db, metrics: observability.NewDatabaseMetrics()}
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	defer r.metrics.TrackQuery("create", "conversations")()
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	defer r.metrics.TrackQuery("get", "conversations")()
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Memberships").
		Preload("Memberships.User").
		Preload("LastMessage").
		Preload("LastMessage.Sender").
		First(&conv, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Conversation", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

// FindPrivateBetween returns the existing private conversation whose member
// rows are exactly the two given users, or nil when none exists. Soft-deleted
// (rejected) conversations are excluded, so a rejected pair can start over.
func (r *conversationRepository) FindPrivateBetween(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	defer r.metrics.TrackQuery("find_private", "conversations")()
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_members m1 ON m1.conversation_id = conversations.id AND m1.user_id = ?", userA).
		Joins("JOIN conversation_members m2 ON m2.conversation_id = conversations.id AND m2.user_id = ?", userB).
		Where("conversations.is_group = ?", false).
		Preload("Memberships").
		Preload("Memberships.User").
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	defer r.metrics.TrackQuery("list_for_user", "conversations")()
	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id").
		Where("cm.user_id = ?", userID).
		Preload("Memberships").
		Preload("Memberships.User").
		Preload("LastMessage").
		Preload("LastMessage.Sender").
		Order("conversations.updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return conversations, nil
}

func (r *conversationRepository) GetMembership(ctx context.Context, convID, userID uint) (*models.ConversationMember, error) {
	var member models.ConversationMember
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &member, nil
}

func (r *conversationRepository) AddMember(ctx context.Context, member *models.ConversationMember) error {
	defer r.metrics.TrackQuery("add_member", "conversation_members")()
	// OnConflict DoNothing keeps re-invites of an existing member idempotent.
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(member).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) RemoveMember(ctx context.Context, convID, userID uint) error {
	defer r.metrics.TrackQuery("remove_member", "conversation_members")()
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Delete(&models.ConversationMember{}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// RemovePendingMember deletes the membership row only while it is still
// pending. Returns whether a row was removed.
func (r *conversationRepository) RemovePendingMember(ctx context.Context, convID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ? AND state = ?", convID, userID, models.MemberStatePending).
		Delete(&models.ConversationMember{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AcceptMembership flips a pending membership to active in a single
// conditional UPDATE. Concurrent accepts race on the WHERE clause, so exactly
// one caller observes the transition.
func (r *conversationRepository) AcceptMembership(ctx context.Context, convID, userID uint) (bool, error) {
	defer r.metrics.TrackQuery("accept_membership", "conversation_members")()
	res := r.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND state = ?", convID, userID, models.MemberStatePending).
		Updates(map[string]interface{}{
			"state":      models.MemberStateActive,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *conversationRepository) SetAdmin(ctx context.Context, convID, userID uint, isAdmin bool) error {
	err := r.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("is_admin", isAdmin).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := r.db.WithContext(ctx).Save(conv).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) Delete(ctx context.Context, convID uint) error {
	defer r.metrics.TrackQuery("delete", "conversations")()
	if err := r.db.WithContext(ctx).Delete(&models.Conversation{}, convID).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// SetLastMessage bumps the denormalized last-message pointer and the
// conversation's updated_at so list ordering follows recent activity.
func (r *conversationRepository) SetLastMessage(ctx context.Context, convID, messageID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", convID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"updated_at":      time.Now(),
		}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
