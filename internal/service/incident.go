package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/policy"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/shenikar/incident_dispatch/internal/webhook"
	"github.com/sirupsen/logrus"
)

// maxCASAttempts - число попыток оптимистичного обновления статуса без явного ожидаемого статуса
const maxCASAttempts = 3

// systemActor - инициатор автоматических переходов (истечение предложения)
const systemActor = "system"

// IncidentRepository определяет контракт для работы с бд инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	// CompareAndSetStatus меняет статус, только если текущий равен expected.
	// Возвращает models.ErrTransitionRejected, если инцидент существует, но статус уже другой.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next models.Status, responderID *string) (*models.Incident, error)
	ListByStatus(ctx context.Context, st models.Status, limit int) ([]*models.Incident, error)
	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// OfferStore хранит сроки активных предложений и историю доставки
type OfferStore interface {
	Schedule(ctx context.Context, incidentID uuid.UUID, deadline time.Time) error
	Deadline(ctx context.Context, incidentID uuid.UUID) (time.Time, bool, error)
	Clear(ctx context.Context, incidentID uuid.UUID) error
	Due(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error)
	// MarkDelivered возвращает true, если получателю это предложение еще не доставлялось
	MarkDelivered(ctx context.Context, incidentID uuid.UUID, recipient string) (bool, error)
}

// EventPublisher публикует доменные события в шину реального времени
type EventPublisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// IncidentService определяет контракт бизнес-логики диспетчеризации инцидентов
type IncidentService interface {
	CreateIncident(ctx context.Context, actor models.Identity, incident *models.Incident) error
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	UpdateStatus(ctx context.Context, actor models.Identity, id uuid.UUID, next models.Status, expected *models.Status) (*models.Incident, error)
	ExpireOffer(ctx context.Context, id uuid.UUID) error
	ListOpen(ctx context.Context, actor models.Identity) ([]*models.Incident, error)
}

type incidentService struct {
	repo      IncidentRepository
	chats     ChatRepository
	offers    OfferStore
	publisher EventPublisher
	webhooks  webhook.WebhookPublisher
	policy    *policy.Policy
	logger    *logrus.Logger
	cfg       *config.Config
	now       func() time.Time
}

func NewIncidentService(
	repo IncidentRepository,
	chats ChatRepository,
	offers OfferStore,
	publisher EventPublisher,
	webhooks webhook.WebhookPublisher,
	pol *policy.Policy,
	logger *logrus.Logger,
	cfg *config.Config,
) IncidentService {
	return &incidentService{
		repo:      repo,
		chats:     chats,
		offers:    offers,
		publisher: publisher,
		webhooks:  webhooks,
		policy:    pol,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateIncident создает инцидент и рассылает предложение ответственным
func (s *incidentService) CreateIncident(ctx context.Context, actor models.Identity, incident *models.Incident) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":  "incident",
		"method":   "CreateIncident",
		"category": incident.Category,
		"user_id":  actor.UserID,
	})
	log.Info("Attempting to create a new incident")

	if !s.policy.CanCreate(actor.Role) {
		return fmt.Errorf("service: role %s cannot create incidents: %w", actor.Role, models.ErrForbidden)
	}
	if !models.IsValidCategory(incident.Category) {
		return models.NewValidationError("category", fmt.Sprintf("unknown category %q", incident.Category))
	}

	incident.Status = models.StatusOpen
	incident.ReporterID = actor.UserID
	incident.ResponderID = nil
	if err := s.repo.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return fmt.Errorf("service: could not create incident: %w", err)
	}
	log = log.WithField("incident_id", incident.ID)

	deadline := s.now().Add(s.cfg.OfferWindow)
	if err := s.offers.Schedule(ctx, incident.ID, deadline); err != nil {
		// Инцидент уже создан, без срока он просто не истечет на сервере
		log.WithError(err).Error("Failed to schedule offer deadline")
	}

	evt, err := events.New(events.TypeNewOccurrence, events.NewOccurrence{Incident: *incident, Deadline: deadline})
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		log.WithError(err).Error("Failed to broadcast dispatch offer")
	}

	log.Info("Incident created successfully")
	return nil
}

// GetIncident получает инцидент по ID, сначала из кеша
func (s *incidentService) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if cached != nil {
		return cached, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident in repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return incident, nil
}

// UpdateStatus выполняет переход статуса по принципу compare-and-set.
// При expected != nil переход выполняется только из этого статуса, иначе из текущего
// с повтором при гонке.
func (s *incidentService) UpdateStatus(ctx context.Context, actor models.Identity, id uuid.UUID, next models.Status, expected *models.Status) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateStatus",
		"incident_id": id,
		"user_id":     actor.UserID,
		"status":      next,
	})

	if !status.IsValid(next) {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	if expected != nil && !status.IsValid(*expected) {
		return nil, models.NewValidationError("expected_status", fmt.Sprintf("unknown status %q", *expected))
	}
	if !s.policy.CanSetStatus(actor.Role, next) {
		return nil, fmt.Errorf("service: role %s cannot set %s: %w", actor.Role, next, models.ErrForbidden)
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: incident %s not found for status update: %w", id, err)
	}
	if actor.Role == models.RoleReporter && incident.ReporterID != actor.UserID {
		return nil, fmt.Errorf("service: reporter does not own incident %s: %w", id, models.ErrForbidden)
	}

	var responderID *string
	if next == models.StatusAccepted {
		responderID = &actor.UserID
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		from := incident.Status
		if expected != nil && *expected != from {
			log.WithField("current", from).Info("Status already moved, transition rejected")
			return nil, fmt.Errorf("service: incident %s is %s, expected %s: %w", id, from, *expected, models.ErrTransitionRejected)
		}
		if err := checkTransition(from, next); err != nil {
			return nil, err
		}
		if from == models.StatusOpen && next == models.StatusAccepted {
			if expired := s.offerExpired(ctx, log, id); expired {
				if err := s.ExpireOffer(ctx, id); err != nil {
					log.WithError(err).Warn("Failed to expire overdue offer")
				}
				return nil, fmt.Errorf("service: offer for incident %s has expired: %w", id, models.ErrTransitionRejected)
			}
		}

		updated, err := s.repo.CompareAndSetStatus(ctx, id, from, next, responderID)
		if err == nil {
			log.WithField("from", from).Info("Incident status updated")
			s.afterTransition(ctx, updated, from, actor.UserID)
			return updated, nil
		}
		if !errors.Is(err, models.ErrTransitionRejected) {
			log.WithError(err).Error("Failed to update incident status in repository")
			return nil, fmt.Errorf("service: could not update status: %w", err)
		}
		if expected != nil {
			return nil, fmt.Errorf("service: incident %s left %s: %w", id, *expected, err)
		}
		// Кто-то успел раньше, перечитываем и пробуем еще раз
		incident, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service: could not reload incident %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("service: incident %s kept changing: %w", id, models.ErrTransitionRejected)
}

// ExpireOffer закрывает инцидент, если предложение так никто и не принял.
// Проигрыш гонки с принятием - не ошибка.
func (s *incidentService) ExpireOffer(ctx context.Context, id uuid.UUID) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "ExpireOffer",
		"incident_id": id,
	})

	updated, err := s.repo.CompareAndSetStatus(ctx, id, models.StatusOpen, models.StatusClosed, nil)
	if err != nil {
		if errors.Is(err, models.ErrTransitionRejected) || errors.Is(err, models.ErrNotFound) {
			log.Debug("Offer already resolved")
			if clearErr := s.offers.Clear(ctx, id); clearErr != nil {
				log.WithError(clearErr).Warn("Failed to clear offer deadline")
			}
			return nil
		}
		return fmt.Errorf("service: could not expire offer: %w", err)
	}

	log.Info("Dispatch offer expired, incident closed")
	s.afterTransition(ctx, updated, models.StatusOpen, systemActor)
	return nil
}

// ListOpen возвращает открытые инциденты для опроса уведомлений
func (s *incidentService) ListOpen(ctx context.Context, actor models.Identity) ([]*models.Incident, error) {
	if !s.policy.CanReceiveOffers(actor.Role) {
		return []*models.Incident{}, nil
	}
	incidents, err := s.repo.ListByStatus(ctx, models.StatusOpen, 100)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"service": "incident", "method": "ListOpen"}).
			WithError(err).Error("Failed to list open incidents")
		return nil, fmt.Errorf("service: could not list open incidents: %w", err)
	}
	return incidents, nil
}

// checkTransition отделяет устаревший запрос (статус уже ушел вперед) от некорректного
func checkTransition(from, next models.Status) error {
	if status.IsTerminal(from) || status.Rank(from) >= status.Rank(next) {
		return fmt.Errorf("service: incident already %s: %w", from, models.ErrTransitionRejected)
	}
	return status.Validate(from, next)
}

func (s *incidentService) offerExpired(ctx context.Context, log *logrus.Entry, id uuid.UUID) bool {
	deadline, ok, err := s.offers.Deadline(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read offer deadline")
		return false
	}
	return ok && !s.now().Before(deadline)
}

// afterTransition - побочные эффекты успешного перехода. Ошибки только логируются:
// статус уже зафиксирован в бд.
func (s *incidentService) afterTransition(ctx context.Context, incident *models.Incident, from models.Status, actorID string) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "afterTransition",
		"incident_id": incident.ID,
		"status":      incident.Status,
	})

	if err := s.repo.InvalidateIncidentCache(ctx, incident.ID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	if from == models.StatusOpen {
		if err := s.offers.Clear(ctx, incident.ID); err != nil {
			log.WithError(err).Warn("Failed to clear offer deadline")
		}
	}

	s.publish(ctx, log, events.TypeOccurrenceStatus, events.OccurrenceStatus{
		IncidentID:  incident.ID.String(),
		Status:      incident.Status,
		ResponderID: incident.ResponderID,
	})

	if status.IsTerminal(incident.Status) {
		session, err := s.chats.GetSessionByIncident(ctx, incident.ID)
		switch {
		case err == nil:
			s.publish(ctx, log, events.TypeChatClosed, events.ChatClosed{
				ChatID:     session.ID.String(),
				IncidentID: incident.ID.String(),
				Reason:     string(incident.Status),
			})
		case !errors.Is(err, models.ErrNotFound):
			log.WithError(err).Warn("Failed to look up chat session for closed incident")
		}
	}

	hook := webhook.WebhookEvent{
		IncidentID:  incident.ID,
		From:        from,
		To:          incident.Status,
		ActorID:     actorID,
		ResponderID: incident.ResponderID,
		Timestamp:   s.now().UTC(),
	}
	if err := s.webhooks.Publish(ctx, hook); err != nil {
		log.WithError(err).Warn("Failed to enqueue status webhook")
	}
}

func (s *incidentService) publish(ctx context.Context, log *logrus.Entry, t events.Type, payload any) {
	evt, err := events.New(t, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		log.WithError(err).WithField("event", t).Error("Failed to publish event")
	}
}
