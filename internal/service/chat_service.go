package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-chatapp-be/internal/constant"
	"ai-chatapp-be/internal/dto"
	"ai-chatapp-be/internal/entity"
	"ai-chatapp-be/internal/pkg/logger"
	"ai-chatapp-be/internal/pkg/serverutils"
	"ai-chatapp-be/internal/repository/specification"
	"ai-chatapp-be/internal/repository/unitofwork"
	"ai-chatapp-be/pkg/events"
	"ai-chatapp-be/pkg/llm"
	pktNats "ai-chatapp-be/pkg/nats"
	"ai-chatapp-be/pkg/vision"

	"github.com/google/uuid"
)

// IChatService defines the chat service interface
type IChatService interface {
	CreateSession(ctx context.Context, userId uuid.UUID, req *dto.CreateSessionRequest) (*dto.SessionDTO, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID) ([]dto.SessionDTO, error)
	GetSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) (*dto.SessionDetailResponse, error)
	DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error
	SendMessage(ctx context.Context, userId uuid.UUID, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
}

type chatService struct {
	uowFactory     unitofwork.RepositoryFactory
	llmProvider    llm.LLMProvider
	annotator      vision.Annotator
	eventPublisher *pktNats.Publisher
	log            logger.ILogger
}

func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	llmProvider llm.LLMProvider,
	annotator vision.Annotator,
	eventPublisher *pktNats.Publisher,
	log logger.ILogger,
) IChatService {
	return &chatService{
		uowFactory:     uowFactory,
		llmProvider:    llmProvider,
		annotator:      annotator,
		eventPublisher: eventPublisher,
		log:            log,
	}
}

// CreateSession creates a new chat session
func (cs *chatService) CreateSession(ctx context.Context, userId uuid.UUID, req *dto.CreateSessionRequest) (*dto.SessionDTO, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)
	now := time.Now()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = constant.DefaultSessionTitle
	}

	session := entity.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uow.ChatSessionRepository().Create(ctx, &session); err != nil {
		return nil, err
	}

	s := toSessionDTO(&session)
	return &s, nil
}

// GetAllSessions retrieves the caller's sessions, most recently active first
func (cs *chatService) GetAllSessions(ctx context.Context, userId uuid.UUID) ([]dto.SessionDTO, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	sessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	response := make([]dto.SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, toSessionDTO(s))
	}

	return response, nil
}

// GetSession retrieves a session with its transcript
func (cs *chatService) GetSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) (*dto.SessionDetailResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	session, err := cs.verifySession(ctx, uow, userId, sessionId)
	if err != nil {
		return nil, err
	}

	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.BySessionID{SessionID: sessionId},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, err
	}

	msgDTOs := make([]dto.MessageDTO, 0, len(messages))
	for _, m := range messages {
		msgDTOs = append(msgDTOs, dto.MessageDTO{
			Id:           m.Id,
			Role:         m.Role,
			Content:      m.Content,
			ResponseTime: m.ResponseTime,
			CreatedAt:    m.CreatedAt,
		})
	}

	return &dto.SessionDetailResponse{
		Session:  toSessionDTO(session),
		Messages: msgDTOs,
	}, nil
}

// DeleteSession removes a session and all of its messages
func (cs *chatService) DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	if _, err := cs.verifySession(ctx, uow, userId, sessionId); err != nil {
		return err
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ChatSessionRepository().Delete(ctx, sessionId); err != nil {
		return err
	}
	if err := uow.ChatMessageRepository().DeleteBySessionId(ctx, sessionId); err != nil {
		return err
	}

	return uow.Commit()
}

// SendMessage runs one chat turn: persist the user message, replay the full
// transcript to the inference provider, persist the reply, and retitle the
// session after its second user message.
func (cs *chatService) SendMessage(ctx context.Context, userId uuid.UUID, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	if req.SessionId == uuid.Nil {
		return nil, serverutils.NewBadRequestError("Session id is required")
	}
	if strings.TrimSpace(req.Message) == "" && req.Image == "" {
		return nil, serverutils.NewBadRequestError("Message or image is required")
	}

	session, err := cs.verifySession(ctx, uow, userId, req.SessionId)
	if err != nil {
		return nil, err
	}

	content := cs.annotateContent(ctx, req)

	// Counted before the insert below: exactly one prior user message means
	// this turn is the session's second.
	priorUserMessages, err := uow.ChatMessageRepository().Count(ctx,
		specification.BySessionID{SessionID: req.SessionId},
		specification.ByRole{Role: entity.ChatMessageRoleUser},
	)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	userMessage := entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: req.SessionId,
		Role:          entity.ChatMessageRoleUser,
		Content:       content,
		CreatedAt:     now,
	}
	// Committed before the provider call so the user's message survives a
	// provider failure. A client retry after a timeout can duplicate the
	// turn; there is no idempotency key.
	if err := uow.ChatMessageRepository().Create(ctx, &userMessage); err != nil {
		return nil, err
	}

	transcript, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.BySessionID{SessionID: req.SessionId},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, err
	}

	history := make([]llm.Message, len(transcript))
	for i, m := range transcript {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	start := time.Now()
	reply, err := cs.llmProvider.Chat(ctx, history,
		llm.WithTemperature(constant.ChatTemperature),
		llm.WithMaxTokens(constant.ChatMaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("inference provider: %w", err)
	}
	responseTime := time.Since(start).Milliseconds()

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = constant.FallbackReply
	}

	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	assistantMessage := entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: req.SessionId,
		Role:          entity.ChatMessageRoleAssistant,
		Content:       reply,
		ResponseTime:  &responseTime,
		CreatedAt:     time.Now(),
	}
	if err := uow.ChatMessageRepository().Create(ctx, &assistantMessage); err != nil {
		return nil, err
	}

	session.UpdatedAt = time.Now()
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	// Best-effort retitle; its failure never reaches the caller.
	if priorUserMessages == 1 {
		cs.generateTitle(ctx, session)
	}

	cs.publishEvent(ctx, "CHAT_TURN_COMPLETED", map[string]interface{}{
		"session_id":    session.Id,
		"user_id":       userId,
		"response_time": responseTime,
	})

	return &dto.SendMessageResponse{
		Success:      true,
		Message:      reply,
		ResponseTime: responseTime,
	}, nil
}

// verifySession enforces row-level ownership. A session that exists but
// belongs to someone else is indistinguishable from one that does not exist.
func (cs *chatService) verifySession(ctx context.Context, uow unitofwork.UnitOfWork, userId uuid.UUID, sessionId uuid.UUID) (*entity.ChatSession, error) {
	session, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, serverutils.NewNotFoundError("Session not found")
	}
	return session, nil
}

// annotateContent runs the vision annotator when an image is attached.
// Annotation failure degrades to the unannotated text.
func (cs *chatService) annotateContent(ctx context.Context, req *dto.SendMessageRequest) string {
	content := strings.TrimSpace(req.Message)
	if req.Image == "" || cs.annotator == nil {
		return content
	}

	description, err := cs.annotator.Describe(ctx, req.Image)
	if err != nil {
		cs.log.Warn("chat", "Image annotation failed, continuing without it", map[string]interface{}{
			"error": err.Error(),
		})
		return content
	}

	note := "[Image attached: " + description + "]"
	if content == "" {
		return note
	}
	return content + "\n\n" + note
}

// generateTitle asks the provider for a 4-5 word summary of the first two
// user messages and falls back to truncating the first one.
func (cs *chatService) generateTitle(ctx context.Context, session *entity.ChatSession) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	userMessages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.BySessionID{SessionID: session.Id},
		specification.ByRole{Role: entity.ChatMessageRoleUser},
		specification.OrderBy{Field: "created_at", Desc: false},
		specification.Limit{N: 2},
	)
	if err != nil || len(userMessages) < 2 {
		cs.log.Warn("chat", "Skipping title generation", map[string]interface{}{
			"session_id": session.Id,
		})
		return
	}

	first := userMessages[0].Content
	second := userMessages[1].Content

	title, err := cs.llmProvider.Chat(ctx, []llm.Message{
		{Role: entity.ChatMessageRoleSystem, Content: constant.TitleSystemPrompt},
		{Role: entity.ChatMessageRoleUser, Content: fmt.Sprintf("First message: %s\n\nSecond message: %s", first, second)},
	},
		llm.WithTemperature(constant.ChatTemperature),
		llm.WithMaxTokens(constant.TitleMaxTokens),
	)
	if err != nil {
		cs.log.Warn("chat", "Title generation failed", map[string]interface{}{
			"session_id": session.Id,
			"error":      err.Error(),
		})
		title = ""
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = FallbackTitle(first)
	}

	session.Title = title
	session.UpdatedAt = time.Now()
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		cs.log.Warn("chat", "Failed to save generated title", map[string]interface{}{
			"session_id": session.Id,
			"error":      err.Error(),
		})
	}
}

// FallbackTitle returns the first few words of a message as a session title.
func FallbackTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > constant.FallbackTitleWords {
		words = words[:constant.FallbackTitleWords]
	}
	return strings.Join(words, " ")
}

func (cs *chatService) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if cs.eventPublisher == nil {
		return
	}
	event := events.BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now(),
	}
	if err := cs.eventPublisher.Publish(ctx, event); err != nil {
		cs.log.Warn("chat", "Failed to publish event", map[string]interface{}{
			"event": eventType,
			"error": err.Error(),
		})
	}
}

func toSessionDTO(s *entity.ChatSession) dto.SessionDTO {
	return dto.SessionDTO{
		Id:        s.Id,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
