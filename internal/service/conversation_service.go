// Package service provides the messaging core business logic.
package service

import (
	"context"
	"strings"

	"relay/internal/models"
	"relay/internal/repository"
)

// ConversationService owns the conversation lifecycle: creation, the
// pending-membership workflow and group administration.
type ConversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	userRepo repository.UserRepository
}

// NewConversationService returns a new ConversationService.
func NewConversationService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
) *ConversationService {
	return &ConversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		userRepo: userRepo,
	}
}

// CreateGroupInput is the input for creating a group conversation.
type CreateGroupInput struct {
	CreatorID uint
	Name      string
	MemberIDs []uint
}

// UpdateMembersInput is the input for the membership update operation.
type UpdateMembersInput struct {
	ConversationID uint
	ActorID        uint
	AddIDs         []uint
	RemoveIDs      []uint
}

// MemberChanges reports the per-id outcome of UpdateMembers. Invalid ids are
// skipped rather than failing the whole request.
type MemberChanges struct {
	Added   []uint `json:"added"`
	Removed []uint `json:"removed"`
	Skipped []uint `json:"skipped"`
}

// CreatePrivate starts (or returns) the private conversation between the
// creator and one other user. The creator joins active, the counterpart
// pending until accepted. Returns created=false when an existing conversation
// was reused.
func (s *ConversationService) CreatePrivate(ctx context.Context, creatorID, otherID uint) (*models.Conversation, bool, error) {
	if creatorID == otherID {
		return nil, false, models.NewInvalidArgumentError("Cannot start a conversation with yourself")
	}

	if _, err := s.userRepo.GetByID(ctx, otherID); err != nil {
		return nil, false, err
	}

	blocked, err := s.userRepo.BlockExists(ctx, creatorID, otherID)
	if err != nil {
		return nil, false, err
	}
	if blocked {
		return nil, false, models.NewPermissionDeniedError("Cannot start a conversation with this user")
	}

	existing, err := s.convRepo.FindPrivateBetween(ctx, creatorID, otherID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	conv := &models.Conversation{
		IsGroup:   false,
		CreatedBy: creatorID,
		Memberships: []models.ConversationMember{
			{UserID: creatorID, State: models.MemberStateActive},
			{UserID: otherID, State: models.MemberStatePending},
		},
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, false, err
	}

	created, err := s.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// CreateGroup creates a group conversation. The creator becomes the sole
// admin and only active member; every invitee starts pending. Nonexistent
// invitee ids are skipped.
func (s *ConversationService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Conversation, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, models.NewInvalidArgumentError("Group name is required")
	}
	if len(name) > models.MaxGroupNameLen {
		return nil, models.NewInvalidArgumentError("Group name must be at most 50 characters")
	}

	// Dedup intended members; the creator counts toward the minimum.
	seen := map[uint]struct{}{in.CreatorID: {}}
	inviteeIDs := make([]uint, 0, len(in.MemberIDs))
	for _, id := range in.MemberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		inviteeIDs = append(inviteeIDs, id)
	}

	invitees, err := s.userRepo.GetByIDs(ctx, inviteeIDs)
	if err != nil {
		return nil, err
	}
	if len(invitees)+1 < models.MinGroupMembers {
		return nil, models.NewInvalidArgumentError("Group conversations require at least 3 distinct members")
	}

	memberships := make([]models.ConversationMember, 0, len(invitees)+1)
	memberships = append(memberships, models.ConversationMember{
		UserID:  in.CreatorID,
		State:   models.MemberStateActive,
		IsAdmin: true,
	})
	for _, invitee := range invitees {
		memberships = append(memberships, models.ConversationMember{
			UserID: invitee.ID,
			State:  models.MemberStatePending,
		})
	}

	conv := &models.Conversation{
		IsGroup:     true,
		Name:        name,
		CreatedBy:   in.CreatorID,
		Memberships: memberships,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	return s.convRepo.GetByID(ctx, conv.ID)
}

// Accept transitions the caller's pending membership to active. Exactly one
// of several concurrent accepts observes the transition; an already-active
// member gets an idempotent no-op; a user with no membership row gets a
// conflict.
func (s *ConversationService) Accept(ctx context.Context, convID, userID uint) (*models.Conversation, bool, error) {
	transitioned, err := s.convRepo.AcceptMembership(ctx, convID, userID)
	if err != nil {
		return nil, false, err
	}

	if !transitioned {
		member, err := s.convRepo.GetMembership(ctx, convID, userID)
		if err != nil {
			return nil, false, err
		}
		if member == nil {
			return nil, false, models.NewConflictError("No pending invitation for this conversation")
		}
		// Already active: a concurrent accept won the race. No-op.
	}

	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, false, err
	}
	return conv, transitioned, nil
}

// Reject declines a pending invitation. Rejecting a private conversation
// deletes it (the terminal state for a declined chat request); rejecting a
// group invite only removes the caller's pending row.
func (s *ConversationService) Reject(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}

	removed, err := s.convRepo.RemovePendingMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, models.NewConflictError("No pending invitation for this conversation")
	}

	if !conv.IsGroup {
		if err := s.convRepo.Delete(ctx, convID); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

// UpdateMembers applies adds and removes to a group conversation. Each id is
// handled independently; ids that cannot be applied are skipped and reported.
func (s *ConversationService) UpdateMembers(ctx context.Context, in UpdateMembersInput) (*models.Conversation, *MemberChanges, error) {
	conv, err := s.convRepo.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsGroup {
		return nil, nil, models.NewInvalidArgumentError("Cannot update members of a private conversation")
	}
	if !s.canAdminister(conv, in.ActorID) {
		return nil, nil, models.NewPermissionDeniedError("Only group admins can update members")
	}

	changes := &MemberChanges{Added: []uint{}, Removed: []uint{}, Skipped: []uint{}}

	for _, id := range in.AddIDs {
		if conv.Membership(id) != nil {
			changes.Skipped = append(changes.Skipped, id)
			continue
		}
		if _, err := s.userRepo.GetByID(ctx, id); err != nil {
			if models.ErrorCode(err) == models.CodeNotFound {
				changes.Skipped = append(changes.Skipped, id)
				continue
			}
			return nil, nil, err
		}
		member := &models.ConversationMember{
			ConversationID: conv.ID,
			UserID:         id,
			State:          models.MemberStatePending,
		}
		if err := s.convRepo.AddMember(ctx, member); err != nil {
			return nil, nil, err
		}
		changes.Added = append(changes.Added, id)
	}

	for _, id := range in.RemoveIDs {
		if id == conv.CreatedBy {
			changes.Skipped = append(changes.Skipped, id)
			continue
		}
		if conv.Membership(id) == nil {
			changes.Skipped = append(changes.Skipped, id)
			continue
		}
		if err := s.convRepo.RemoveMember(ctx, conv.ID, id); err != nil {
			return nil, nil, err
		}
		changes.Removed = append(changes.Removed, id)
	}

	updated, err := s.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	return updated, changes, nil
}

// PromoteModerator grants admin rights to an active group member. Promoting
// an existing admin is a no-op.
func (s *ConversationService) PromoteModerator(ctx context.Context, convID, actorID, targetID uint) (bool, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return false, err
	}
	if !conv.IsGroup {
		return false, models.NewInvalidArgumentError("Private conversations have no moderators")
	}
	if !s.canAdminister(conv, actorID) {
		return false, models.NewPermissionDeniedError("Only group admins can promote members")
	}

	member := conv.Membership(targetID)
	if member == nil || member.State != models.MemberStateActive {
		return false, models.NewConflictError("Target is not an active member of this conversation")
	}
	if member.IsAdmin {
		return false, nil
	}

	if err := s.convRepo.SetAdmin(ctx, convID, targetID, true); err != nil {
		return false, err
	}
	return true, nil
}

// DemoteModerator revokes admin rights. The conversation owner cannot be
// demoted; demoting a non-admin is a no-op.
func (s *ConversationService) DemoteModerator(ctx context.Context, convID, actorID, targetID uint) (bool, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return false, err
	}
	if !conv.IsGroup {
		return false, models.NewInvalidArgumentError("Private conversations have no moderators")
	}
	if !s.canAdminister(conv, actorID) {
		return false, models.NewPermissionDeniedError("Only group admins can demote members")
	}
	if targetID == conv.CreatedBy {
		return false, models.NewPermissionDeniedError("The conversation owner cannot be demoted")
	}

	member := conv.Membership(targetID)
	if member == nil || member.State != models.MemberStateActive {
		return false, models.NewConflictError("Target is not an active member of this conversation")
	}
	if !member.IsAdmin {
		return false, nil
	}

	if err := s.convRepo.SetAdmin(ctx, convID, targetID, false); err != nil {
		return false, err
	}
	return true, nil
}

// GetUserConversations returns the user's conversations, most recently active
// first, with per-conversation unread counts.
func (s *ConversationService) GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		count, err := s.msgRepo.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		conv.UnreadCount = count
	}
	return convs, nil
}

// GetConversationForUser returns the conversation when the caller holds a
// membership row in it, active or pending.
func (s *ConversationService) GetConversationForUser(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv.Membership(userID) == nil {
		return nil, models.NewPermissionDeniedError("You are not a member of this conversation")
	}
	count, err := s.msgRepo.UnreadCount(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	conv.UnreadCount = count
	return conv, nil
}

// canAdminister reports whether the actor may administer the group: the
// creator always can, and so can any active admin member.
func (s *ConversationService) canAdminister(conv *models.Conversation, actorID uint) bool {
	if conv.CreatedBy == actorID && conv.IsActiveMember(actorID) {
		return true
	}
	return conv.IsAdmin(actorID)
}
