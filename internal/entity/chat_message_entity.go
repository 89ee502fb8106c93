package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleSystem    = "system"
)

// ChatMessage is immutable once created: the conversation transcript is the
// ordered (created_at ASC) list of messages in a session.
type ChatMessage struct {
	Id            uuid.UUID
	ChatSessionId uuid.UUID
	Role          string
	Content       string
	ResponseTime  *int64 // milliseconds, assistant messages only
	CreatedAt     time.Time
}
