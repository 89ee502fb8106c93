package integration

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"ai-chatapp-be/internal/entity"
	"ai-chatapp-be/internal/repository/specification"
	"ai-chatapp-be/internal/repository/unitofwork"
	"ai-chatapp-be/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
)

func TestGormConnection(t *testing.T) {
	// Load .env from root
	err := godotenv.Load("../../.env")
	if err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	gormDB, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}

	// Verify Wiring
	uowFactory := unitofwork.NewRepositoryFactory(gormDB)
	uow := uowFactory.NewUnitOfWork(context.Background())

	assert.NotNil(t, uow.UserRepository())
	assert.NotNil(t, uow.ChatSessionRepository())
	assert.NotNil(t, uow.ChatMessageRepository())

	// Basic Ping
	sqlDB, _ := gormDB.DB()
	err = sqlDB.Ping()
	assert.NoError(t, err)
	t.Log("Successfully connected to DB and initialized UnitOfWork Factory")

	t.Run("Check User Repository", func(t *testing.T) {
		count, err := uow.UserRepository().Count(context.Background())
		assert.NoError(t, err)
		t.Logf("User count: %d", count)
	})

	t.Run("Check Chat Session Lifecycle", func(t *testing.T) {
		ctx := context.Background()

		user := &entity.User{
			Id:           uuid.New(),
			Username:     "integration-" + uuid.New().String()[:8],
			Email:        "integration-" + uuid.New().String() + "@example.com",
			PasswordHash: "not-a-real-hash",
			CreatedAt:    time.Now(),
		}
		err := uow.UserRepository().Create(ctx, user)
		assert.NoError(t, err)

		now := time.Now()
		session := &entity.ChatSession{
			Id:        uuid.New(),
			UserId:    user.Id,
			Title:     "Integration Session",
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = uow.ChatSessionRepository().Create(ctx, session)
		assert.NoError(t, err)

		message := &entity.ChatMessage{
			Id:            uuid.New(),
			ChatSessionId: session.Id,
			Role:          entity.ChatMessageRoleUser,
			Content:       "hello from the integration test",
			CreatedAt:     time.Now(),
		}
		err = uow.ChatMessageRepository().Create(ctx, message)
		assert.NoError(t, err)

		found, err := uow.ChatSessionRepository().FindOne(ctx,
			specification.ByID{ID: session.Id},
			specification.UserOwnedBy{UserID: user.Id},
		)
		assert.NoError(t, err)
		assert.NotNil(t, found)

		messages, err := uow.ChatMessageRepository().FindAll(ctx,
			specification.BySessionID{SessionID: session.Id},
			specification.OrderBy{Field: "created_at", Desc: false},
		)
		assert.NoError(t, err)
		assert.Len(t, messages, 1)

		// Transactional cleanup mirrors the session delete flow.
		err = uow.Begin(ctx)
		assert.NoError(t, err)
		defer uow.Rollback()

		err = uow.ChatMessageRepository().DeleteBySessionId(ctx, session.Id)
		assert.NoError(t, err)
		err = uow.ChatSessionRepository().Delete(ctx, session.Id)
		assert.NoError(t, err)
		err = uow.Commit()
		assert.NoError(t, err)
	})
}
