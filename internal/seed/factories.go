// Package seed creates demo data for development environments. It is wired
// behind an explicit flag on the server binary and is never invoked in
// production configurations.
package seed

import (
	"fmt"
	"math/rand"
	"time"

	"relay/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db   *gorm.DB
	rand *rand.Rand
	opts Options
}

// NewFactory creates a Factory bound to the provided GORM DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{
		db:   db,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
		opts: opts,
	}
}

// CreateUser constructs and persists a sample user. Optional override
// functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username: gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		Email:    gofakeit.Email(),
		Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
	}

	// All seeded users share one password so the demo login is predictable.
	if f.opts.SkipBcrypt {
		user.PasswordHash = seedPassword
	} else {
		hashed, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = string(hashed)
	}

	for _, override := range overrides {
		override(user)
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreatePrivateConversation persists a private thread between two users with
// both memberships already active.
func (f *Factory) CreatePrivateConversation(a, b *models.User) (*models.Conversation, error) {
	conv := &models.Conversation{CreatedBy: a.ID}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		members := []models.ConversationMember{
			{ConversationID: conv.ID, UserID: a.ID, State: models.MemberStateActive},
			{ConversationID: conv.ID, UserID: b.ID, State: models.MemberStateActive},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateGroupConversation persists a group with the first user as admin and
// the rest as active members. Pass pending user IDs separately via
// AddPendingMember.
func (f *Factory) CreateGroupConversation(name string, users []*models.User) (*models.Conversation, error) {
	if len(users) < models.MinGroupMembers {
		return nil, fmt.Errorf("group needs at least %d members, got %d", models.MinGroupMembers, len(users))
	}
	conv := &models.Conversation{
		IsGroup:   true,
		Name:      name,
		CreatedBy: users[0].ID,
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		members := make([]models.ConversationMember, 0, len(users))
		for i, u := range users {
			members = append(members, models.ConversationMember{
				ConversationID: conv.ID,
				UserID:         u.ID,
				State:          models.MemberStateActive,
				IsAdmin:        i == 0,
			})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AddPendingMember attaches an invited-but-unaccepted membership.
func (f *Factory) AddPendingMember(conv *models.Conversation, user *models.User) error {
	member := models.ConversationMember{
		ConversationID: conv.ID,
		UserID:         user.ID,
		State:          models.MemberStatePending,
	}
	return f.db.Create(&member).Error
}

// CreateMessage persists one message with a realistic created_at spread and
// updates the conversation's last-message pointer.
func (f *Factory) CreateMessage(conv *models.Conversation, sender *models.User, overrides ...func(*models.Message)) (*models.Message, error) {
	maxMinutes := f.opts.MaxDays * 24 * 60
	if maxMinutes <= 0 {
		maxMinutes = 30 * 24 * 60
	}
	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Content:        gofakeit.Sentence(f.rand.Intn(12) + 3),
		Type:           models.MessageTypeText,
		CreatedAt:      time.Now().Add(-time.Duration(f.rand.Intn(maxMinutes)) * time.Minute),
	}

	for _, override := range overrides {
		override(msg)
	}

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ? AND (last_message_id IS NULL OR last_message_id < ?)", conv.ID, msg.ID).
			Update("last_message_id", msg.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateReaction attaches an emoji reaction to a message.
func (f *Factory) CreateReaction(msg *models.Message, user *models.User) error {
	emojis := []string{"👍", "❤️", "😂", "🔥", "🎉", "😮"}
	reaction := models.MessageReaction{
		MessageID: msg.ID,
		UserID:    user.ID,
		Emoji:     emojis[f.rand.Intn(len(emojis))],
	}
	return f.db.Create(&reaction).Error
}
