package seed

import (
	"fmt"
	"log"

	"relay/internal/models"

	"gorm.io/gorm"
)

const seedPassword = "password123"

// Options configures a seeding run.
type Options struct {
	NumUsers    int
	NumMessages int
	MaxDays     int
	SkipBcrypt  bool
	ShouldClean bool
}

var groupNames = []string{
	"General", "Announcements", "Engineering", "Design", "Gaming",
	"Music", "Movies", "Random", "Support", "Off Topic",
}

// Run populates the database with demo users, conversations and messages.
func Run(db *gorm.DB, opts Options) error {
	if opts.NumUsers < models.MinGroupMembers {
		opts.NumUsers = models.MinGroupMembers
	}
	log.Printf("seeding database with %d users and %d messages...", opts.NumUsers, opts.NumMessages)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			return fmt.Errorf("failed to clear existing data: %w", err)
		}
	}

	f := NewFactory(db, opts)

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, u)
	}
	log.Printf("created %d users", len(users))

	// Private threads between adjacent user pairs.
	conversations := make([]*models.Conversation, 0)
	for i := 0; i+1 < len(users); i += 2 {
		conv, err := f.CreatePrivateConversation(users[i], users[i+1])
		if err != nil {
			return fmt.Errorf("failed to create private conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	// A handful of groups over random member subsets, each with one
	// pending invitee so the request flow has demo data.
	numGroups := len(groupNames)
	if numGroups > len(users)/models.MinGroupMembers {
		numGroups = len(users) / models.MinGroupMembers
	}
	for i := 0; i < numGroups; i++ {
		members := pickUsers(f, users, models.MinGroupMembers+f.rand.Intn(3))
		conv, err := f.CreateGroupConversation(groupNames[i], members)
		if err != nil {
			return fmt.Errorf("failed to create group conversation: %w", err)
		}
		if invitee := pickOutsider(f, users, members); invitee != nil {
			if err := f.AddPendingMember(conv, invitee); err != nil {
				return fmt.Errorf("failed to add pending member: %w", err)
			}
		}
		conversations = append(conversations, conv)
	}
	log.Printf("created %d conversations", len(conversations))

	if err := createMessages(f, conversations, opts.NumMessages); err != nil {
		return err
	}

	log.Printf("seeding complete")
	return nil
}

func createMessages(f *Factory, conversations []*models.Conversation, total int) error {
	if len(conversations) == 0 || total == 0 {
		return nil
	}
	created := 0
	for created < total {
		conv := conversations[f.rand.Intn(len(conversations))]
		var members []models.ConversationMember
		err := f.db.
			Where("conversation_id = ? AND state = ?", conv.ID, models.MemberStateActive).
			Find(&members).Error
		if err != nil {
			return fmt.Errorf("failed to load members: %w", err)
		}
		if len(members) == 0 {
			continue
		}
		sender := members[f.rand.Intn(len(members))]
		msg, err := f.CreateMessage(conv, &models.User{ID: sender.UserID})
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		// Occasionally react from another member.
		if len(members) > 1 && f.rand.Intn(4) == 0 {
			other := members[f.rand.Intn(len(members))]
			if other.UserID != sender.UserID {
				if err := f.CreateReaction(msg, &models.User{ID: other.UserID}); err != nil {
					return fmt.Errorf("failed to create reaction: %w", err)
				}
			}
		}
		created++
	}
	log.Printf("created %d messages", created)
	return nil
}

func pickUsers(f *Factory, users []*models.User, n int) []*models.User {
	if n > len(users) {
		n = len(users)
	}
	idx := f.rand.Perm(len(users))[:n]
	out := make([]*models.User, 0, n)
	for _, i := range idx {
		out = append(out, users[i])
	}
	return out
}

func pickOutsider(f *Factory, users, members []*models.User) *models.User {
	inGroup := make(map[uint]bool, len(members))
	for _, m := range members {
		inGroup[m.ID] = true
	}
	outside := make([]*models.User, 0)
	for _, u := range users {
		if !inGroup[u.ID] {
			outside = append(outside, u)
		}
	}
	if len(outside) == 0 {
		return nil
	}
	return outside[f.rand.Intn(len(outside))]
}

// clearData removes seedable rows in dependency order. Hard deletes so
// reseeding does not trip unique indexes on soft-deleted rows.
func clearData(db *gorm.DB) error {
	tables := []interface{}{
		&models.MessageReaction{},
		&models.Message{},
		&models.ConversationMember{},
		&models.Conversation{},
		&models.UserBlock{},
		&models.User{},
	}
	for _, table := range tables {
		if err := db.Unscoped().Where("1 = 1").Delete(table).Error; err != nil {
			return err
		}
	}
	return nil
}
