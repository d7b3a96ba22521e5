package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/policy"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
)

// ChatRepository определяет контракт хранилища сессий и сообщений чата
type ChatRepository interface {
	// GetOrCreateSession идемпотентно возвращает единственную сессию инцидента
	GetOrCreateSession(ctx context.Context, incidentID uuid.UUID) (*models.ChatSession, error)
	GetSession(ctx context.Context, chatID uuid.UUID) (*models.ChatSession, error)
	GetSessionByIncident(ctx context.Context, incidentID uuid.UUID) (*models.ChatSession, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error)
}

// ChatService определяет контракт бизнес-логики чата инцидента
type ChatService interface {
	OpenSession(ctx context.Context, actor models.Identity, incidentID uuid.UUID) (*models.ChatSession, error)
	JoinSession(ctx context.Context, actor models.Identity, chatID uuid.UUID) (*models.ChatSession, models.Status, error)
	History(ctx context.Context, actor models.Identity, chatID uuid.UUID) ([]*models.Message, error)
	SessionStatus(ctx context.Context, actor models.Identity, chatID uuid.UUID) (*models.ChatStatus, error)
	PostMessage(ctx context.Context, actor models.Identity, chatID uuid.UUID, kind models.MessageKind, content string) (*models.Message, error)
}

type chatService struct {
	chats     ChatRepository
	incidents IncidentRepository
	publisher EventPublisher
	policy    *policy.Policy
	logger    *logrus.Logger
}

func NewChatService(chats ChatRepository, incidents IncidentRepository, publisher EventPublisher, pol *policy.Policy, logger *logrus.Logger) ChatService {
	return &chatService{
		chats:     chats,
		incidents: incidents,
		publisher: publisher,
		policy:    pol,
		logger:    logger,
	}
}

// OpenSession возвращает сессию инцидента, создавая ее при первом обращении
func (s *chatService) OpenSession(ctx context.Context, actor models.Identity, incidentID uuid.UUID) (*models.ChatSession, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "chat",
		"method":      "OpenSession",
		"incident_id": incidentID,
		"user_id":     actor.UserID,
	})

	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("service: could not resolve incident for chat: %w", err)
	}
	if err := s.checkMember(actor, incident); err != nil {
		return nil, err
	}

	session, err := s.chats.GetOrCreateSession(ctx, incidentID)
	if err != nil {
		log.WithError(err).Error("Failed to open chat session")
		return nil, fmt.Errorf("service: could not open chat session: %w: %w", models.ErrSessionUnavailable, err)
	}
	log.WithField("chat_id", session.ID).Debug("Chat session resolved")
	return session, nil
}

// JoinSession проверяет доступ к сессии и возвращает текущий статус инцидента
func (s *chatService) JoinSession(ctx context.Context, actor models.Identity, chatID uuid.UUID) (*models.ChatSession, models.Status, error) {
	session, incident, err := s.resolve(ctx, actor, chatID)
	if err != nil {
		return nil, "", err
	}
	return session, incident.Status, nil
}

// History возвращает сообщения сессии в порядке их ID
func (s *chatService) History(ctx context.Context, actor models.Identity, chatID uuid.UUID) ([]*models.Message, error) {
	if _, _, err := s.resolve(ctx, actor, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.chats.ListMessages(ctx, chatID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"service": "chat", "method": "History", "chat_id": chatID}).
			WithError(err).Error("Failed to list chat messages")
		return nil, fmt.Errorf("service: could not list messages: %w", err)
	}
	return msgs, nil
}

// SessionStatus возвращает статус инцидента, к которому привязана сессия
func (s *chatService) SessionStatus(ctx context.Context, actor models.Identity, chatID uuid.UUID) (*models.ChatStatus, error) {
	session, incident, err := s.resolve(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}
	return &models.ChatStatus{
		ChatID:     session.ID,
		IncidentID: incident.ID,
		Status:     incident.Status,
		ChatActive: status.IsChatActive(incident.Status),
	}, nil
}

// PostMessage сохраняет сообщение и рассылает его участникам сессии
func (s *chatService) PostMessage(ctx context.Context, actor models.Identity, chatID uuid.UUID, kind models.MessageKind, content string) (*models.Message, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "chat",
		"method":  "PostMessage",
		"chat_id": chatID,
		"user_id": actor.UserID,
	})

	if kind == "" {
		kind = models.MessageText
	}
	if err := validateContent(kind, content); err != nil {
		return nil, err
	}

	session, incident, err := s.resolve(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}
	if !status.IsChatActive(incident.Status) {
		return nil, fmt.Errorf("service: incident %s is %s: %w", incident.ID, incident.Status, models.ErrChatLocked)
	}

	msg := &models.Message{
		ChatID:   session.ID,
		AuthorID: actor.UserID,
		Kind:     kind,
		Content:  content,
	}
	if err := s.chats.AddMessage(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to store chat message")
		return nil, fmt.Errorf("service: could not store message: %w", err)
	}

	evt, err := events.New(events.TypeNewMessage, events.NewMessage{ChatID: session.ID.String(), Message: *msg})
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		log.WithError(err).Error("Failed to publish chat message")
	}
	return msg, nil
}

func (s *chatService) resolve(ctx context.Context, actor models.Identity, chatID uuid.UUID) (*models.ChatSession, *models.Incident, error) {
	session, err := s.chats.GetSession(ctx, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("service: chat %s: %w", chatID, err)
	}
	incident, err := s.incidents.GetByID(ctx, session.IncidentID)
	if err != nil {
		return nil, nil, fmt.Errorf("service: incident for chat %s: %w", chatID, err)
	}
	if err := s.checkMember(actor, incident); err != nil {
		return nil, nil, err
	}
	return session, incident, nil
}

// checkMember: репортер видит только свой инцидент, ответственный - пока инцидент никем
// не принят или принят им самим, супервизор - любой
func (s *chatService) checkMember(actor models.Identity, incident *models.Incident) error {
	if !s.policy.CanChat(actor.Role) {
		return fmt.Errorf("service: role %s cannot use chat: %w", actor.Role, models.ErrForbidden)
	}
	switch actor.Role {
	case models.RoleSupervisor:
		return nil
	case models.RoleReporter:
		if incident.ReporterID == actor.UserID {
			return nil
		}
	default:
		if incident.ResponderID == nil || *incident.ResponderID == actor.UserID {
			return nil
		}
	}
	return fmt.Errorf("service: user %s is not a member of incident %s chat: %w", actor.UserID, incident.ID, models.ErrForbidden)
}

func validateContent(kind models.MessageKind, content string) error {
	switch kind {
	case models.MessageText:
		if strings.TrimSpace(content) == "" {
			return models.NewValidationError("content", "message must not be empty")
		}
	case models.MessageImage:
		if content == "" {
			return models.NewValidationError("content", "image must not be empty")
		}
		if _, err := base64.StdEncoding.DecodeString(content); err != nil {
			return models.NewValidationError("content", "image must be base64 encoded")
		}
	default:
		// system сообщения пишет только сервер
		return models.NewValidationError("type", fmt.Sprintf("unsupported message type %q", kind))
	}
	return nil
}
