package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind - тип содержимого сообщения в чате
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageSystem MessageKind = "system"
)

// IsValidMessageKind проверяет тип сообщения
func IsValidMessageKind(k MessageKind) bool {
	return k == MessageText || k == MessageImage || k == MessageSystem
}

// ChatSession - канал переписки, один на инцидент
type ChatSession struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message - сообщение чата. ID выдается сервером и задает порядок внутри сессии.
// Для изображений Content содержит base64-кодированные данные.
type Message struct {
	ID        int64       `json:"id"`
	ChatID    uuid.UUID   `json:"chat_id"`
	AuthorID  string      `json:"author_id"`
	Kind      MessageKind `json:"type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// ChatStatus - зеркало статуса инцидента для сессии чата
type ChatStatus struct {
	ChatID     uuid.UUID `json:"chat_id"`
	IncidentID uuid.UUID `json:"incident_id"`
	Status     Status    `json:"status"`
	ChatActive bool      `json:"chat_active"`
}
