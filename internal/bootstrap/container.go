package bootstrap

import (
	"log"

	"ai-chatapp-be/internal/config"
	"ai-chatapp-be/internal/controller"
	"ai-chatapp-be/internal/pkg/logger"
	"ai-chatapp-be/internal/repository/unitofwork"
	"ai-chatapp-be/internal/service"
	"ai-chatapp-be/pkg/llm/factory"
	pktNats "ai-chatapp-be/pkg/nats"
	"ai-chatapp-be/pkg/vision"

	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	AuthController controller.IAuthController
	ChatController controller.IChatController

	// Shared infrastructure
	Logger logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. AI Providers
	apiKey, baseURL := cfg.Ai.GroqAPIKey, cfg.Ai.GroqBaseURL
	if cfg.Ai.LLMProvider == "huggingface" {
		apiKey, baseURL = cfg.Ai.HFAPIKey, cfg.Ai.HFBaseURL
	}
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		apiKey,
		baseURL,
		cfg.Ai.OllamaBaseURL,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	annotator := vision.NewGroqAnnotator(cfg.Ai.GroqAPIKey, cfg.Ai.GroqBaseURL, cfg.Ai.VisionModel)

	// 3. Event Bus
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}

	// 4. Services
	authService := service.NewAuthService(uowFactory, natsPub, sysLogger)
	chatService := service.NewChatService(uowFactory, llmProvider, annotator, natsPub, sysLogger)

	// 5. Controllers
	return &Container{
		AuthController: controller.NewAuthController(authService),
		ChatController: controller.NewChatController(chatService),
		Logger:         sysLogger,
	}
}
