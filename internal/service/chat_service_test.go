package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"ai-chatapp-be/internal/constant"
	"ai-chatapp-be/internal/dto"
	"ai-chatapp-be/internal/entity"
	"ai-chatapp-be/internal/pkg/serverutils"
	"ai-chatapp-be/internal/repository/contract"
	"ai-chatapp-be/internal/repository/specification"
	"ai-chatapp-be/internal/repository/unitofwork"
	"ai-chatapp-be/pkg/llm"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- In-memory fakes ----------

type fakeStore struct {
	users    []*entity.User
	sessions []*entity.ChatSession
	messages []*entity.ChatMessage
}

type messageFilter struct {
	sessionId *uuid.UUID
	role      *string
	orderDesc bool
	limit     int
}

func parseMessageSpecs(specs []specification.Specification) messageFilter {
	f := messageFilter{limit: -1}
	for _, spec := range specs {
		switch s := spec.(type) {
		case specification.BySessionID:
			id := s.SessionID
			f.sessionId = &id
		case specification.ByRole:
			role := s.Role
			f.role = &role
		case specification.OrderBy:
			f.orderDesc = s.Desc
		case specification.Limit:
			f.limit = s.N
		}
	}
	return f
}

type fakeMessageRepo struct {
	store *fakeStore
}

func (r *fakeMessageRepo) Create(_ context.Context, message *entity.ChatMessage) error {
	m := *message
	r.store.messages = append(r.store.messages, &m)
	return nil
}

func (r *fakeMessageRepo) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error) {
	f := parseMessageSpecs(specs)
	var out []*entity.ChatMessage
	for _, m := range r.store.messages {
		if f.sessionId != nil && m.ChatSessionId != *f.sessionId {
			continue
		}
		if f.role != nil && m.Role != *f.role {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.orderDesc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.limit >= 0 && len(out) > f.limit {
		out = out[:f.limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, err := r.FindAll(ctx, specs...)
	return int64(len(all)), err
}

func (r *fakeMessageRepo) DeleteBySessionId(_ context.Context, sessionId uuid.UUID) error {
	kept := r.store.messages[:0]
	for _, m := range r.store.messages {
		if m.ChatSessionId != sessionId {
			kept = append(kept, m)
		}
	}
	r.store.messages = kept
	return nil
}

type fakeSessionRepo struct {
	store *fakeStore
}

func (r *fakeSessionRepo) matches(s *entity.ChatSession, specs []specification.Specification) bool {
	for _, spec := range specs {
		switch sp := spec.(type) {
		case specification.ByID:
			if s.Id != sp.ID {
				return false
			}
		case specification.UserOwnedBy:
			if s.UserId != sp.UserID {
				return false
			}
		}
	}
	return true
}

func (r *fakeSessionRepo) Create(_ context.Context, session *entity.ChatSession) error {
	s := *session
	r.store.sessions = append(r.store.sessions, &s)
	return nil
}

func (r *fakeSessionRepo) Update(_ context.Context, session *entity.ChatSession) error {
	for i, s := range r.store.sessions {
		if s.Id == session.Id {
			copied := *session
			r.store.sessions[i] = &copied
			return nil
		}
	}
	return errors.New("session not found")
}

func (r *fakeSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	kept := r.store.sessions[:0]
	for _, s := range r.store.sessions {
		if s.Id != id {
			kept = append(kept, s)
		}
	}
	r.store.sessions = kept
	return nil
}

func (r *fakeSessionRepo) FindOne(_ context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	for _, s := range r.store.sessions {
		if r.matches(s, specs) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.ChatSession, error) {
	var desc bool
	var out []*entity.ChatSession
	for _, spec := range specs {
		if o, ok := spec.(specification.OrderBy); ok {
			desc = o.Desc
		}
	}
	for _, s := range r.store.sessions {
		if r.matches(s, specs) {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *fakeSessionRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, err := r.FindAll(ctx, specs...)
	return int64(len(all)), err
}

type fakeUserRepo struct {
	store *fakeStore
}

func (r *fakeUserRepo) Create(_ context.Context, user *entity.User) error {
	u := *user
	r.store.users = append(r.store.users, &u)
	return nil
}

func (r *fakeUserRepo) FindOne(_ context.Context, specs ...specification.Specification) (*entity.User, error) {
	for _, u := range r.store.users {
		ok := true
		for _, spec := range specs {
			switch sp := spec.(type) {
			case specification.ByID:
				if u.Id != sp.ID {
					ok = false
				}
			case specification.ByUsername:
				if u.Username != sp.Username {
					ok = false
				}
			case specification.ByEmail:
				if u.Email != sp.Email {
					ok = false
				}
			}
		}
		if ok {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Count(_ context.Context, _ ...specification.Specification) (int64, error) {
	return int64(len(r.store.users)), nil
}

type fakeUnitOfWork struct {
	store *fakeStore
}

func (u *fakeUnitOfWork) Begin(_ context.Context) error { return nil }
func (u *fakeUnitOfWork) Commit() error                 { return nil }
func (u *fakeUnitOfWork) Rollback() error               { return nil }

func (u *fakeUnitOfWork) UserRepository() contract.UserRepository {
	return &fakeUserRepo{store: u.store}
}

func (u *fakeUnitOfWork) ChatSessionRepository() contract.ChatSessionRepository {
	return &fakeSessionRepo{store: u.store}
}

func (u *fakeUnitOfWork) ChatMessageRepository() contract.ChatMessageRepository {
	return &fakeMessageRepo{store: u.store}
}

type fakeFactory struct {
	store *fakeStore
}

func (f *fakeFactory) NewUnitOfWork(_ context.Context) unitofwork.UnitOfWork {
	return &fakeUnitOfWork{store: f.store}
}

var _ unitofwork.RepositoryFactory = &fakeFactory{}

// scriptedProvider returns canned replies in order. An entry in errs at the
// same index takes precedence over the reply.
type scriptedProvider struct {
	replies []string
	errs    []error
	calls   [][]llm.Message
}

func (p *scriptedProvider) Chat(_ context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	idx := len(p.calls)
	p.calls = append(p.calls, history)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return "", p.errs[idx]
	}
	if idx < len(p.replies) {
		return p.replies[idx], nil
	}
	return "", nil
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}

type fakeAnnotator struct {
	description string
	err         error
	calls       int
}

func (a *fakeAnnotator) Describe(_ context.Context, _ string) (string, error) {
	a.calls++
	return a.description, a.err
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }

// ---------- Helpers ----------

type chatFixture struct {
	store    *fakeStore
	provider *scriptedProvider
	ann      *fakeAnnotator
	svc      IChatService
}

func newChatFixture(replies []string, errs []error, ann *fakeAnnotator) *chatFixture {
	store := &fakeStore{}
	provider := &scriptedProvider{replies: replies, errs: errs}
	return &chatFixture{
		store:    store,
		provider: provider,
		ann:      ann,
		svc:      NewChatService(&fakeFactory{store: store}, provider, ann, nil, nopLogger{}),
	}
}

func (f *chatFixture) seedSession(userId uuid.UUID, title string) *entity.ChatSession {
	now := time.Now()
	s := &entity.ChatSession{Id: uuid.New(), UserId: userId, Title: title, CreatedAt: now, UpdatedAt: now}
	f.store.sessions = append(f.store.sessions, s)
	return s
}

func (f *chatFixture) sessionById(t *testing.T, id uuid.UUID) *entity.ChatSession {
	t.Helper()
	for _, s := range f.store.sessions {
		if s.Id == id {
			return s
		}
	}
	t.Fatalf("session %s not in store", id)
	return nil
}

// ---------- Tests ----------

func TestCreateSession(t *testing.T) {
	f := newChatFixture(nil, nil, nil)
	userId := uuid.New()

	t.Run("uses the given title", func(t *testing.T) {
		got, err := f.svc.CreateSession(context.Background(), userId, &dto.CreateSessionRequest{Title: "Trip planning"})
		require.NoError(t, err)
		assert.Equal(t, "Trip planning", got.Title)
	})

	t.Run("defaults an empty title", func(t *testing.T) {
		got, err := f.svc.CreateSession(context.Background(), userId, &dto.CreateSessionRequest{Title: "   "})
		require.NoError(t, err)
		assert.Equal(t, constant.DefaultSessionTitle, got.Title)
	})
}

func TestGetAllSessionsOrderingAndOwnership(t *testing.T) {
	f := newChatFixture(nil, nil, nil)
	alice := uuid.New()
	bob := uuid.New()

	older := f.seedSession(alice, "older")
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := f.seedSession(alice, "newer")
	f.seedSession(bob, "not alice's")

	got, err := f.svc.GetAllSessions(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.Id, got[0].Id)
	assert.Equal(t, older.Id, got[1].Id)
}

func TestGetSessionNotOwnedLooksLikeMissing(t *testing.T) {
	f := newChatFixture(nil, nil, nil)
	owner := uuid.New()
	intruder := uuid.New()
	session := f.seedSession(owner, "private")

	_, errMissing := f.svc.GetSession(context.Background(), owner, uuid.New())
	_, errForeign := f.svc.GetSession(context.Background(), intruder, session.Id)

	var appErr *serverutils.AppError
	require.ErrorAs(t, errForeign, &appErr)
	assert.Equal(t, 404, appErr.Code)
	// Both failures carry the same status and message.
	assert.Equal(t, errMissing.Error(), errForeign.Error())
}

func TestGetSessionReturnsMessagesInOrder(t *testing.T) {
	f := newChatFixture(nil, nil, nil)
	userId := uuid.New()
	session := f.seedSession(userId, "chat")

	base := time.Now()
	for i, content := range []string{"first", "second", "third"} {
		f.store.messages = append(f.store.messages, &entity.ChatMessage{
			Id:            uuid.New(),
			ChatSessionId: session.Id,
			Role:          entity.ChatMessageRoleUser,
			Content:       content,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
	}

	got, err := f.svc.GetSession(context.Background(), userId, session.Id)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "first", got.Messages[0].Content)
	assert.Equal(t, "third", got.Messages[2].Content)
}

func TestDeleteSessionCascadesMessages(t *testing.T) {
	f := newChatFixture(nil, nil, nil)
	userId := uuid.New()
	session := f.seedSession(userId, "doomed")
	other := f.seedSession(userId, "survivor")

	f.store.messages = append(f.store.messages,
		&entity.ChatMessage{Id: uuid.New(), ChatSessionId: session.Id, Role: entity.ChatMessageRoleUser, Content: "bye"},
		&entity.ChatMessage{Id: uuid.New(), ChatSessionId: other.Id, Role: entity.ChatMessageRoleUser, Content: "stay"},
	)

	require.NoError(t, f.svc.DeleteSession(context.Background(), userId, session.Id))

	assert.Len(t, f.store.sessions, 1)
	require.Len(t, f.store.messages, 1)
	assert.Equal(t, other.Id, f.store.messages[0].ChatSessionId)
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(nil, nil, nil)
	userId := uuid.New()
	session := f.seedSession(userId, "chat")

	tests := []struct {
		name string
		req  *dto.SendMessageRequest
	}{
		{"missing session id", &dto.SendMessageRequest{Message: "hi"}},
		{"empty message and image", &dto.SendMessageRequest{SessionId: session.Id, Message: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), userId, tt.req)
			var appErr *serverutils.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, 400, appErr.Code)
		})
	}
}

func TestSendMessagePersistsTurn(t *testing.T) {
	f := newChatFixture([]string{"Hello back!"}, nil, nil)
	userId := uuid.New()
	session := f.seedSession(userId, "chat")
	before := f.sessionById(t, session.Id).UpdatedAt

	resp, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{
		SessionId: session.Id,
		Message:   "Hello there",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Hello back!", resp.Message)
	assert.GreaterOrEqual(t, resp.ResponseTime, int64(0))

	require.Len(t, f.store.messages, 2)
	userMsg, assistantMsg := f.store.messages[0], f.store.messages[1]
	assert.Equal(t, entity.ChatMessageRoleUser, userMsg.Role)
	assert.Equal(t, "Hello there", userMsg.Content)
	assert.Nil(t, userMsg.ResponseTime)
	assert.Equal(t, entity.ChatMessageRoleAssistant, assistantMsg.Role)
	require.NotNil(t, assistantMsg.ResponseTime)

	// The provider saw the stored transcript including the new user turn.
	require.Len(t, f.provider.calls, 1)
	require.Len(t, f.provider.calls[0], 1)
	assert.Equal(t, "Hello there", f.provider.calls[0][0].Content)

	assert.True(t, f.sessionById(t, session.Id).UpdatedAt.After(before) ||
		f.sessionById(t, session.Id).UpdatedAt.Equal(before))
}

func TestSendMessageEmptyReplyGetsFallback(t *testing.T) {
	f := newChatFixture([]string{"   "}, nil, nil)
	userId := uuid.New()
	session := f.seedSession(userId, "chat")

	resp, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{
		SessionId: session.Id,
		Message:   "anyone home?",
	})
	require.NoError(t, err)
	assert.Equal(t, constant.FallbackReply, resp.Message)
}

func TestSendMessageProviderFailureKeepsUserMessage(t *testing.T) {
	f := newChatFixture(nil, []error{errors.New("upstream 503")}, nil)
	userId := uuid.New()
	session := f.seedSession(userId, "chat")

	_, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{
		SessionId: session.Id,
		Message:   "hello?",
	})
	require.Error(t, err)

	var appErr *serverutils.AppError
	assert.False(t, errors.As(err, &appErr), "provider failures surface as internal errors")

	require.Len(t, f.store.messages, 1)
	assert.Equal(t, entity.ChatMessageRoleUser, f.store.messages[0].Role)
}

func TestSendMessageAnnotatesImage(t *testing.T) {
	t.Run("description appended to the text", func(t *testing.T) {
		ann := &fakeAnnotator{description: "a red bicycle"}
		f := newChatFixture([]string{"nice bike"}, nil, ann)
		userId := uuid.New()
		session := f.seedSession(userId, "chat")

		_, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{
			SessionId: session.Id,
			Message:   "look at this",
			Image:     "base64data",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, ann.calls)
		assert.Equal(t, "look at this\n\n[Image attached: a red bicycle]", f.store.messages[0].Content)
	})

	t.Run("image only", func(t *testing.T) {
		ann := &fakeAnnotator{description: "a red bicycle"}
		f := newChatFixture([]string{"nice bike"}, nil, ann)
		userId := uuid.New()
		session := f.seedSession(userId, "chat")

		_, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{
			SessionId: session.Id,
			Image:     "base64data",
		})
		require.NoError(t, err)
		assert.Equal(t, "[Image attached: a red bicycle]", f.store.messages[0].Content)
	})

	t.Run("annotator failure degrades to plain text", func(t *testing.T) {
		ann := &fakeAnnotator{err: errors.New("vision model down")}
		f := newChatFixture([]string{"ok"}, nil, ann)
		userId := uuid.New()
		session := f.seedSession(userId, "chat")

		resp, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{
			SessionId: session.Id,
			Message:   "look at this",
			Image:     "base64data",
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Message)
		assert.Equal(t, "look at this", f.store.messages[0].Content)
	})
}

func TestSendMessageRetitlesAfterSecondUserMessage(t *testing.T) {
	f := newChatFixture([]string{"reply one", "reply two", "Paris Trip Ideas"}, nil, nil)
	userId := uuid.New()
	session := f.seedSession(userId, constant.DefaultSessionTitle)

	_, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{SessionId: session.Id, Message: "planning a trip to Paris"})
	require.NoError(t, err)
	assert.Equal(t, constant.DefaultSessionTitle, f.sessionById(t, session.Id).Title, "no retitle after the first turn")

	_, err = f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{SessionId: session.Id, Message: "what about the Louvre?"})
	require.NoError(t, err)
	assert.Equal(t, "Paris Trip Ideas", f.sessionById(t, session.Id).Title)

	// The title call carried the system prompt and both user messages.
	require.Len(t, f.provider.calls, 3)
	titleCall := f.provider.calls[2]
	require.Len(t, titleCall, 2)
	assert.Equal(t, entity.ChatMessageRoleSystem, titleCall[0].Role)
	assert.Contains(t, titleCall[1].Content, "planning a trip to Paris")
	assert.Contains(t, titleCall[1].Content, "what about the Louvre?")

	// A third turn does not retitle again.
	_, err = f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{SessionId: session.Id, Message: "and Versailles?"})
	require.NoError(t, err)
	assert.Len(t, f.provider.calls, 4)
	assert.Equal(t, "Paris Trip Ideas", f.sessionById(t, session.Id).Title)
}

func TestSendMessageTitleFailureFallsBackToTruncation(t *testing.T) {
	f := newChatFixture(
		[]string{"reply one", "reply two"},
		[]error{nil, nil, errors.New("rate limited")},
		nil,
	)
	userId := uuid.New()
	session := f.seedSession(userId, constant.DefaultSessionTitle)

	_, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{SessionId: session.Id, Message: "tell me about black holes and quasars"})
	require.NoError(t, err)

	resp, err := f.svc.SendMessage(context.Background(), userId, &dto.SendMessageRequest{SessionId: session.Id, Message: "and neutron stars?"})
	require.NoError(t, err)
	assert.True(t, resp.Success, "a failed retitle never fails the turn")

	assert.Equal(t, "tell me about black holes", f.sessionById(t, session.Id).Title)
}

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"short message kept whole", "hello world", "hello world"},
		{"long message truncated", "one two three four five six seven", "one two three four five"},
		{"whitespace collapsed", "  spaced \t out   words  ", "spaced out words"},
		{"empty message", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackTitle(tt.message)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(strings.Fields(got)), constant.FallbackTitleWords)
		})
	}
}
