package service

import (
	"context"
	"strings"

	"relay/internal/models"
	"relay/internal/observability"
	"relay/internal/repository"
)

const (
	maxMessageContentLen = 10000 // 10K characters
	defaultPageLimit     = 50
	maxPageLimit         = 100
)

// MessageService owns message delivery, history, read cursors, search and the
// reaction ledger.
type MessageService struct {
	msgRepo  repository.MessageRepository
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
}

// NewMessageService returns a new MessageService.
func NewMessageService(
	msgRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
) *MessageService {
	return &MessageService{
		msgRepo:  msgRepo,
		convRepo: convRepo,
		userRepo: userRepo,
	}
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID       uint
	ConversationID uint
	Content        string
	Type           string
	FileURL        string
}

// Send appends a message to the conversation and bumps its last-message
// pointer. Only active members may send; pending members must accept first.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (*models.Message, *models.Conversation, error) {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	switch in.Type {
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
	default:
		return nil, nil, models.NewInvalidArgumentError("Unknown message type")
	}
	if in.Content == "" && in.FileURL == "" {
		return nil, nil, models.NewInvalidArgumentError("Message requires content or a file URL")
	}
	if (in.Type == models.MessageTypeImage || in.Type == models.MessageTypeFile) && in.FileURL == "" {
		return nil, nil, models.NewInvalidArgumentError("Image and file messages require a file URL")
	}
	if len(in.Content) > maxMessageContentLen {
		return nil, nil, models.NewInvalidArgumentError("Message content too long (max 10000 characters)")
	}

	conv, err := s.convRepo.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsActiveMember(in.SenderID) {
		return nil, nil, models.NewPermissionDeniedError("You are not an active member of this conversation")
	}

	if !conv.IsGroup {
		for _, m := range conv.Memberships {
			if m.UserID == in.SenderID {
				continue
			}
			blocked, berr := s.userRepo.BlockExists(ctx, in.SenderID, m.UserID)
			if berr != nil {
				return nil, nil, berr
			}
			if blocked {
				return nil, nil, models.NewPermissionDeniedError("Messaging is blocked between these users")
			}
		}
	}

	message := &models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		FileURL:        in.FileURL,
	}
	if err := s.msgRepo.Create(ctx, message); err != nil {
		return nil, nil, err
	}

	if err := s.convRepo.SetLastMessage(ctx, conv.ID, message.ID); err != nil {
		return nil, nil, err
	}
	observability.MessagesSentTotal.WithLabelValues(message.Type).Inc()

	return message, conv, nil
}

// GetMessages returns one page of conversation history. Page 1 is the most
// recent page; messages within a page are in chronological order.
func (s *MessageService) GetMessages(ctx context.Context, convID, userID uint, page, limit int) ([]*models.Message, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	// Pending members can read history: a chat request carries its messages.
	if conv.Membership(userID) == nil {
		return nil, models.NewPermissionDeniedError("You are not a member of this conversation")
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	return s.msgRepo.List(ctx, convID, limit, (page-1)*limit)
}

// MarkAsRead advances the caller's read cursor. With no explicit message id
// the cursor jumps to the newest message. Older ids are a silent no-op; the
// cursor never moves backwards.
func (s *MessageService) MarkAsRead(ctx context.Context, convID, userID uint, messageID *uint) (bool, error) {
	member, err := s.convRepo.GetMembership(ctx, convID, userID)
	if err != nil {
		return false, err
	}
	if member == nil {
		return false, models.NewPermissionDeniedError("You are not a member of this conversation")
	}

	target := messageID
	if target == nil {
		latest, err := s.msgRepo.LatestID(ctx, convID)
		if err != nil {
			return false, err
		}
		if latest == nil {
			// Empty conversation; nothing to read.
			return false, nil
		}
		target = latest
	}

	return s.msgRepo.AdvanceReadCursor(ctx, convID, userID, *target)
}

// SearchMessages finds text messages containing the query, case-insensitive,
// oldest first.
func (s *MessageService) SearchMessages(ctx context.Context, convID, userID uint, query string) ([]*models.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.NewInvalidArgumentError("Search query is required")
	}

	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv.Membership(userID) == nil {
		return nil, models.NewPermissionDeniedError("You are not a member of this conversation")
	}

	return s.msgRepo.Search(ctx, convID, query)
}

// ToggleReaction flips the caller's (emoji) reaction on the message and
// returns the updated message. Adding when absent, removing when present.
func (s *MessageService) ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, *models.Conversation, bool, error) {
	if emoji == "" {
		return nil, nil, false, models.NewInvalidArgumentError("Emoji is required")
	}

	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, false, err
	}

	conv, err := s.convRepo.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, false, err
	}
	if !conv.IsActiveMember(userID) {
		return nil, nil, false, models.NewPermissionDeniedError("You are not an active member of this conversation")
	}

	added, err := s.msgRepo.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, nil, false, err
	}

	updated, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, false, err
	}
	return updated, conv, added, nil
}

// UnreadCount exposes the per-member unread computation for fan-out payloads.
func (s *MessageService) UnreadCount(ctx context.Context, convID, userID uint) (int64, error) {
	return s.msgRepo.UnreadCount(ctx, convID, userID)
}
