package server

import (
	"relay/internal/models"
	"relay/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessage handles POST /api/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)

	var req struct {
		ConversationID uint   `json:"conversation_id"`
		Content        string `json:"content"`
		Type           string `json:"type,omitempty"`
		FileURL        string `json:"file_url,omitempty"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("Invalid request body"))
	}
	if req.ConversationID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("conversation_id is required"))
	}

	message, conv, err := s.msgService.Send(ctx, service.SendMessageInput{
		SenderID:       userID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Type:           req.Type,
		FileURL:        req.FileURL,
	})
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	s.notifyNewMessage(ctx, conv, message)

	return c.Status(fiber.StatusCreated).JSON(message)
}

// GetMessages handles GET /api/messages/:conversationId
func (s *Server) GetMessages(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "conversationId")
	if err != nil {
		return nil
	}

	page := parsePagination(c, 50)

	messages, err := s.msgService.GetMessages(ctx, convID, userID, page.Page, page.Limit)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(messages)
}

// MarkConversationRead handles PATCH /api/messages/:conversationId/read
func (s *Server) MarkConversationRead(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "conversationId")
	if err != nil {
		return nil
	}

	var req struct {
		LastReadMessageID *uint `json:"last_read_message_id,omitempty"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil && len(c.Body()) > 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("Invalid request body"))
	}

	advanced, err := s.msgService.MarkAsRead(ctx, convID, userID, req.LastReadMessageID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(fiber.Map{
		"message":  "Conversation marked as read",
		"advanced": advanced,
	})
}

// ToggleReaction handles PUT /api/messages/:messageId/react
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	messageID, err := s.parseID(c, "messageId")
	if err != nil {
		return nil
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewInvalidArgumentError("Invalid request body"))
	}

	message, conv, added, err := s.msgService.ToggleReaction(ctx, messageID, userID, req.Emoji)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	s.notifyMessageUpdate(conv, message)

	return c.JSON(fiber.Map{
		"message": message,
		"added":   added,
	})
}

// SearchMessages handles GET /api/messages/:conversationId/search
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "conversationId")
	if err != nil {
		return nil
	}

	messages, err := s.msgService.SearchMessages(ctx, convID, userID, c.Query("q"))
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(messages)
}
