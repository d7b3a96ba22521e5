package v1

import (
	"time"

	"github.com/google/uuid"
)

// CreateIncidentRequest DTO для создания инцидента
// @Description DTO для создания инцидента
type CreateIncidentRequest struct {
	Category    string  `json:"category" validate:"required,oneof=ASSALTO FURTO INCENDIO ACIDENTE VANDALISMO OUTRO"`
	Title       string  `json:"title,omitempty" validate:"max=255"`
	Description string  `json:"description,omitempty"`
	Latitude    float64 `json:"latitude" validate:"latitude"`
	Longitude   float64 `json:"longitude" validate:"longitude"`
}

// UpdateStatusRequest DTO для смены статуса. expected_status включает сравнение с заменой.
// @Description DTO для смены статуса инцидента
type UpdateStatusRequest struct {
	Status         string  `json:"status" validate:"required"`
	ExpectedStatus *string `json:"expected_status,omitempty"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID          uuid.UUID `json:"id"`
	Category    string    `json:"category"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Status      string    `json:"status"`
	ReporterID  string    `json:"reporter_id"`
	ResponderID *string   `json:"responder_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatRef - ссылка на сессию чата
type ChatRef struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
}

// OpenChatResponse DTO ответа на открытие чата
// @Description DTO ответа на открытие чата
type OpenChatResponse struct {
	Chat ChatRef `json:"chat"`
}

// MessageResponse DTO сообщения чата
// @Description DTO сообщения чата
type MessageResponse struct {
	ID        int64     `json:"id"`
	ChatID    uuid.UUID `json:"chat_id"`
	AuthorID  string    `json:"author_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatStatusResponse DTO статуса сессии
// @Description DTO статуса сессии чата
type ChatStatusResponse struct {
	ChatID     uuid.UUID `json:"chat_id"`
	IncidentID uuid.UUID `json:"incident_id"`
	Status     string    `json:"status"`
	ChatActive bool      `json:"chat_active"`
}
