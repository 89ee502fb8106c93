package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type SessionDTO struct {
	Id        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageDTO struct {
	Id           uuid.UUID `json:"id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	ResponseTime *int64    `json:"response_time"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionDetailResponse struct {
	Session  SessionDTO   `json:"session"`
	Messages []MessageDTO `json:"messages"`
}

type SendMessageRequest struct {
	SessionId uuid.UUID `json:"sessionId" validate:"required"`
	Message   string    `json:"message"`
	Image     string    `json:"image"`
}

type SendMessageResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"response_time"`
}
