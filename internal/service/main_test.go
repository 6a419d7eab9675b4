package service

import (
	"testing"

	"relay/internal/database"
	"relay/internal/models"
	"relay/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEnv wires the services over a fresh in-memory SQLite database.
type testEnv struct {
	db       *gorm.DB
	convSvc  *ConversationService
	msgSvc   *MessageService
	userSvc  *UserService
	userRepo repository.UserRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)

	return &testEnv{
		db:       db,
		convSvc:  NewConversationService(convRepo, msgRepo, userRepo),
		msgSvc:   NewMessageService(msgRepo, convRepo, userRepo),
		userSvc:  NewUserService(userRepo),
		userRepo: userRepo,
	}
}

func (e *testEnv) user(t *testing.T, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	require.NoError(t, e.db.Create(u).Error)
	return u
}
