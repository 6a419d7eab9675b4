package service

import (
	"context"

	"relay/internal/models"
	"relay/internal/repository"
)

// UserService exposes the identity-collaborator queries the messaging core
// needs: user lookups and explicit block-status checks.
type UserService struct {
	userRepo repository.UserRepository
}

// NewUserService returns a new UserService.
func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// BlockStatus describes the block relation between the caller and another user.
type BlockStatus struct {
	UserID  uint `json:"user_id"`
	Blocked bool `json:"blocked"`
}

// GetBlockStatus reports whether messaging is blocked between the caller and
// the given user, in either direction.
func (s *UserService) GetBlockStatus(ctx context.Context, callerID, otherID uint) (*BlockStatus, error) {
	if _, err := s.userRepo.GetByID(ctx, otherID); err != nil {
		return nil, err
	}
	blocked, err := s.userRepo.BlockExists(ctx, callerID, otherID)
	if err != nil {
		return nil, err
	}
	return &BlockStatus{UserID: otherID, Blocked: blocked}, nil
}

// GetUser returns the user's public summary.
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.UserSummary, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := user.Summary()
	return &summary, nil
}
