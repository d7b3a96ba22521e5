// Package events описывает конверт событий, которые ходят по постоянному соединению.
// Каждое событие несет дискриминатор type, по нему соединение мультиплексируется между компонентами.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shenikar/incident_dispatch/internal/models"
)

type Type string

// Исходящие от клиента
const (
	TypeAuthenticate Type = "authenticate"
	TypeJoinChat     Type = "join_chat"
	TypeLeaveChat    Type = "leave_chat"
	TypeChatMessage  Type = "chat_message"
)

// Входящие от сервера
const (
	TypeAuthenticated    Type = "authenticated"
	TypeNewMessage       Type = "new_message"
	TypeChatConnected    Type = "chat_connected"
	TypeChatClosed       Type = "chat_closed"
	TypeNewOccurrence    Type = "NEW_OCURRENCE"
	TypeOccurrenceStatus Type = "occurrence_status"
	TypeError            Type = "error"
)

// Локальные события канала, по сети не передаются
const (
	TypeConnected       Type = "connected"
	TypeDisconnected    Type = "disconnected"
	TypeReconnectFailed Type = "reconnect_failed"
)

// Event - конверт события
type Event struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler обрабатывает событие
type Handler func(Event)

// New упаковывает payload в конверт
func New(t Type, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw}, nil
}

// Decode распаковывает payload
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

type Authenticate struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	ClientID string `json:"clientId,omitempty"`
}

type Authenticated struct {
	UserID string      `json:"userId"`
	Role   models.Role `json:"role"`
}

type JoinChat struct {
	ChatID string `json:"chatId"`
}

type LeaveChat struct {
	ChatID string `json:"chatId"`
}

type ChatMessage struct {
	ChatID  string             `json:"chatId"`
	Content string             `json:"content"`
	Type    models.MessageKind `json:"type"`
}

type NewMessage struct {
	ChatID  string         `json:"chatId"`
	Message models.Message `json:"message"`
}

type ChatConnected struct {
	ChatID     string        `json:"chatId"`
	IncidentID string        `json:"incidentId"`
	Status     models.Status `json:"status"`
}

type ChatClosed struct {
	ChatID     string `json:"chatId"`
	IncidentID string `json:"incidentId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type NewOccurrence struct {
	Incident models.Incident `json:"incident"`
	Deadline time.Time       `json:"deadline"`
}

type OccurrenceStatus struct {
	IncidentID  string        `json:"incidentId"`
	Status      models.Status `json:"status"`
	ResponderID *string       `json:"responderId,omitempty"`
}

// Error - ошибка, адресованная одному соединению
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ChatID  string `json:"chatId,omitempty"`
}

// Коды ошибок в событии error
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeValidation         = "validation"
	CodeChatLocked         = "chat_locked"
	CodeSessionUnavailable = "session_unavailable"
	CodeForbidden          = "forbidden"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
	CodeTransport          = "transport"
)
