package server

import (
	"relay/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetBlockStatus handles GET /api/users/:id/block-status. Clients use it to
// decide whether to offer messaging actions against another user instead of
// deriving the flag locally.
func (s *Server) GetBlockStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Locals("userID").(uint)
	otherID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	status, err := s.userService.GetBlockStatus(ctx, userID, otherID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(status)
}

// GetPresence handles GET /api/users/:id/presence.
func (s *Server) GetPresence(c *fiber.Ctx) error {
	otherID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	online := false
	if s.hub != nil {
		online = s.hub.IsOnline(otherID)
	}
	return c.JSON(fiber.Map{"user_id": otherID, "online": online})
}

// GetOnlineUsers handles GET /api/users/online.
func (s *Server) GetOnlineUsers(c *fiber.Ctx) error {
	ids := []uint{}
	if s.hub != nil {
		ids = s.hub.OnlineUserIDs(c.UserContext())
	}
	if ids == nil {
		ids = []uint{}
	}
	return c.JSON(fiber.Map{"user_ids": ids})
}
