package server

import (
	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/service"

	"github.com/gofiber/fiber/v2"
)

// privateCounterpart validates the user_ids pair of a private conversation
// request and returns the user the caller wants to talk to.
func privateCounterpart(selfID uint, ids []uint) (uint, error) {
	if len(ids) != 2 {
		return 0, models.NewInvalidArgumentError("user_ids must contain exactly two user IDs")
	}
	if ids[0] != selfID && ids[1] != selfID {
		return 0, models.NewInvalidArgumentError("user_ids must include the authenticated user")
	}
	if ids[0] == selfID {
		return ids[1], nil
	}
	return ids[0], nil
}

// CreatePrivateConversation handles POST /api/conversations/private
func (s *Server) CreatePrivateConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	var req struct {
		UserIDs []uint `json:"user_ids"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("Invalid request body"))
	}

	otherID, err := privateCounterpart(userID, req.UserIDs)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	conv, created, err := s.convService.CreatePrivate(ctx, userID, otherID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	if created {
		s.notifyConversation(notifications.EventNewConversation, conv, allMemberIDs(conv))
		return c.Status(fiber.StatusCreated).JSON(conv)
	}
	return c.JSON(conv)
}

// CreateGroupConversation handles POST /api/conversations/group
func (s *Server) CreateGroupConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	var req struct {
		Name      string `json:"name"`
		MemberIDs []uint `json:"member_ids"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("Invalid request body"))
	}

	conv, err := s.convService.CreateGroup(ctx, service.CreateGroupInput{
		CreatorID: userID,
		Name:      req.Name,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	s.notifyConversation(notifications.EventNewConversation, conv, allMemberIDs(conv))

	return c.Status(fiber.StatusCreated).JSON(conv)
}

// GetConversations handles GET /api/conversations
func (s *Server) GetConversations(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	conversations, err := s.convService.GetUserConversations(ctx, userID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(conversations)
}

// GetConversation handles GET /api/conversations/:id
func (s *Server) GetConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	conv, err := s.convService.GetConversationForUser(ctx, convID, userID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(conv)
}

// UpdateConversationMembers handles PATCH /api/conversations/:id/members
func (s *Server) UpdateConversationMembers(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		AddMembers    []uint `json:"add_members"`
		RemoveMembers []uint `json:"remove_members"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("Invalid request body"))
	}

	conv, changes, err := s.convService.UpdateMembers(ctx, service.UpdateMembersInput{
		ConversationID: convID,
		ActorID:        userID,
		AddIDs:         req.AddMembers,
		RemoveIDs:      req.RemoveMembers,
	})
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	// Removed users lose access and get a bare reference; invitees get the
	// snapshot their pending invite points at; everyone else sees the update.
	s.notifyConversationRef(notifications.EventConversationRemoved, conv.ID, userID, changes.Removed)
	s.notifyConversation(notifications.EventNewConversation, conv, changes.Added)
	s.notifyConversation(notifications.EventConversationUpdated, conv, remainingMemberIDs(conv, changes.Added))

	return c.JSON(fiber.Map{
		"conversation": conv,
		"changes":      changes,
	})
}

// remainingMemberIDs returns the member ids minus the given exclusions.
func remainingMemberIDs(conv *models.Conversation, exclude []uint) []uint {
	skip := make(map[uint]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	ids := make([]uint, 0, len(conv.Memberships))
	for _, m := range conv.Memberships {
		if _, ok := skip[m.UserID]; ok {
			continue
		}
		ids = append(ids, m.UserID)
	}
	return ids
}

// AcceptConversation handles POST /api/conversations/:id/accept
func (s *Server) AcceptConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	conv, transitioned, err := s.convService.Accept(ctx, convID, userID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	if transitioned {
		s.notifyConversation(notifications.EventConversationAccepted, conv, allMemberIDs(conv))
	}

	return c.JSON(conv)
}

// RejectConversation handles POST /api/conversations/:id/reject
func (s *Server) RejectConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	conv, err := s.convService.Reject(ctx, convID, userID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	s.notifyConversationRef(notifications.EventConversationRejected, conv.ID, userID,
		remainingMemberIDs(conv, []uint{userID}))

	return c.JSON(fiber.Map{"message": "Invitation rejected"})
}

// PromoteModerator handles POST /api/conversations/:id/promote/:userId
func (s *Server) PromoteModerator(c *fiber.Ctx) error {
	return s.setModerator(c, true)
}

// DemoteModerator handles POST /api/conversations/:id/demote/:userId
func (s *Server) DemoteModerator(c *fiber.Ctx) error {
	return s.setModerator(c, false)
}

func (s *Server) setModerator(c *fiber.Ctx, promote bool) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	targetID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	var changed bool
	if promote {
		changed, err = s.convService.PromoteModerator(ctx, convID, userID, targetID)
	} else {
		changed, err = s.convService.DemoteModerator(ctx, convID, userID, targetID)
	}
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	if changed {
		conv, gerr := s.convService.GetConversationForUser(ctx, convID, userID)
		if gerr == nil {
			s.notifyConversation(notifications.EventConversationUpdated, conv, allMemberIDs(conv))
		}
	}

	return c.JSON(fiber.Map{"changed": changed})
}
