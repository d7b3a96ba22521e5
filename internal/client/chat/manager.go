// Package chat - клиентские сессии чата: открытие, история, живая доставка и
// блокировка отправки по статусу инцидента.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	resumeTimeout = 15 * time.Second
	// openTimeout ограничивает общий запрос открытия, он не зависит от ctx вызывающих
	openTimeout = 15 * time.Second
)

// API - REST часть чата
type API interface {
	OpenChat(ctx context.Context, incidentID string) (string, error)
	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	ChatStatus(ctx context.Context, chatID string) (*models.ChatStatus, error)
}

// Channel - общее постоянное соединение
type Channel interface {
	On(t events.Type, h events.Handler)
	Send(ctx context.Context, evt events.Event) error
	Authenticated() bool
}

// Manager - реестр сессий, по одной на инцидент. Реестр и сессии меняются только на цикле.
type Manager struct {
	loop    *loop.Loop
	api     API
	channel Channel
	tracker *status.Tracker
	logger  *logrus.Logger

	group      singleflight.Group
	byIncident map[string]*Session
	byChat     map[string]*Session
	listeners  []func(*Session)
}

// NewManager создает менеджер и подписывает его на канал и трекер статусов.
// Вызывается до запуска цикла или на нем.
func NewManager(l *loop.Loop, api API, channel Channel, tracker *status.Tracker, logger *logrus.Logger) *Manager {
	m := &Manager{
		loop:       l,
		api:        api,
		channel:    channel,
		tracker:    tracker,
		logger:     logger,
		byIncident: make(map[string]*Session),
		byChat:     make(map[string]*Session),
	}
	channel.On(events.TypeNewMessage, m.onNewMessage)
	channel.On(events.TypeChatConnected, m.onChatConnected)
	channel.On(events.TypeChatClosed, m.onChatClosed)
	channel.On(events.TypeDisconnected, m.onDisconnected)
	channel.On(events.TypeAuthenticated, m.onAuthenticated)
	channel.On(events.TypeError, m.onError)
	tracker.OnClosed(m.onIncidentClosed)
	tracker.OnChange(func(incidentID string, _, _ models.Status) {
		if s, ok := m.byIncident[incidentID]; ok {
			m.notify(s)
		}
	})
	return m
}

// OnUpdate - слушатель изменений сессий, вызывается на цикле
func (m *Manager) OnUpdate(fn func(*Session)) {
	m.listeners = append(m.listeners, fn)
}

// Open возвращает сессию инцидента, создавая ее при первом вызове.
// Параллельные вызовы для одного инцидента делают один запрос, отмена ctx
// освобождает только своего вызывающего.
func (m *Manager) Open(ctx context.Context, incidentID string) (*Session, error) {
	var existing *Session
	if err := m.loop.Do(ctx, func() { existing = m.byIncident[incidentID] }); err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ch := m.group.DoChan(incidentID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		return m.open(flightCtx, incidentID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("chat: open %s: %w", incidentID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// open - один запрос на инцидент, общий для всех ожидающих Open
func (m *Manager) open(ctx context.Context, incidentID string) (*Session, error) {
	// предыдущий полет мог завершиться между проверкой и входом в группу
	var cur *Session
	if err := m.loop.Do(ctx, func() { cur = m.byIncident[incidentID] }); err != nil {
		return nil, err
	}
	if cur != nil {
		return cur, nil
	}

	chatID, err := m.api.OpenChat(ctx, incidentID)
	if err != nil {
		if !errors.Is(err, models.ErrSessionUnavailable) && !errors.Is(err, models.ErrUnauthenticated) {
			err = fmt.Errorf("%w: %w", models.ErrSessionUnavailable, err)
		}
		return nil, fmt.Errorf("chat: open %s: %w", incidentID, err)
	}

	var s *Session
	err = m.loop.Do(context.WithoutCancel(ctx), func() {
		if cur, ok := m.byIncident[incidentID]; ok {
			s = cur
			return
		}
		s = &Session{
			manager:      m,
			id:           chatID,
			incidentID:   incidentID,
			seen:         make(map[int64]struct{}),
			connectivity: Disconnected,
		}
		m.byIncident[incidentID] = s
		m.byChat[chatID] = s
		if st, ok := m.tracker.Get(incidentID); ok && status.IsTerminal(st) {
			s.locked = true
		}
	})
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{"incident_id": incidentID, "chat_id": chatID}).Info("Chat session opened")
	return s, nil
}

// Session возвращает открытую сессию по инциденту. Только на цикле.
func (m *Manager) Session(incidentID string) (*Session, bool) {
	s, ok := m.byIncident[incidentID]
	return s, ok
}

func (m *Manager) onNewMessage(evt events.Event) {
	var p events.NewMessage
	if err := evt.Decode(&p); err != nil {
		m.logger.WithError(err).Warn("Dropping malformed chat message")
		return
	}
	s, ok := m.byChat[p.ChatID]
	if !ok {
		return
	}
	if s.merge(p.Message) {
		m.notify(s)
	}
}

func (m *Manager) onChatConnected(evt events.Event) {
	var p events.ChatConnected
	if err := evt.Decode(&p); err != nil {
		m.logger.WithError(err).Warn("Dropping malformed chat_connected")
		return
	}
	s, ok := m.byChat[p.ChatID]
	if !ok || s.locked || !s.joined {
		return
	}
	s.connectivity = Connected
	if p.Status != "" {
		m.tracker.Observe(s.incidentID, p.Status)
	}
	m.notify(s)
}

func (m *Manager) onChatClosed(evt events.Event) {
	var p events.ChatClosed
	if err := evt.Decode(&p); err != nil {
		m.logger.WithError(err).Warn("Dropping malformed chat_closed")
		return
	}
	s, ok := m.byChat[p.ChatID]
	if !ok && p.IncidentID != "" {
		s, ok = m.byIncident[p.IncidentID]
	}
	if !ok {
		return
	}
	m.teardown(s, p.Reason)
}

func (m *Manager) onIncidentClosed(incidentID string) {
	if s, ok := m.byIncident[incidentID]; ok {
		m.teardown(s, "incident closed")
	}
}

func (m *Manager) onDisconnected(events.Event) {
	for _, s := range m.byChat {
		if s.joined && !s.locked && s.connectivity != Connecting {
			s.connectivity = Connecting
			m.notify(s)
		}
	}
}

// onAuthenticated после переподключения догружает историю и заново входит в комнаты
func (m *Manager) onAuthenticated(events.Event) {
	for _, s := range m.byChat {
		if !s.joined || s.locked {
			continue
		}
		go m.resume(s)
	}
}

func (m *Manager) resume(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()
	log := m.logger.WithField("chat_id", s.id)
	if err := s.LoadHistory(ctx); err != nil {
		log.WithError(err).Warn("Failed to reload chat history")
	}
	if err := s.sendJoin(ctx); err != nil {
		log.WithError(err).Warn("Failed to rejoin chat")
	}
}

func (m *Manager) onError(evt events.Event) {
	var p events.Error
	if err := evt.Decode(&p); err != nil || p.ChatID == "" {
		return
	}
	s, ok := m.byChat[p.ChatID]
	if !ok {
		return
	}
	log := m.logger.WithFields(logrus.Fields{"chat_id": p.ChatID, "code": p.Code})
	switch p.Code {
	case events.CodeForbidden, events.CodeSessionUnavailable:
		s.joined = false
		s.connectivity = Disconnected
		log.Warn("Chat join refused")
		m.notify(s)
	default:
		log.WithField("message", p.Message).Debug("Chat error")
	}
}

// teardown - единый путь закрытия: блокирует отправку и разрывает участие
func (m *Manager) teardown(s *Session, reason string) {
	if s.locked && s.connectivity == Disconnected {
		return
	}
	s.locked = true
	s.joined = false
	s.connectivity = Disconnected
	m.logger.WithFields(logrus.Fields{"chat_id": s.id, "reason": reason}).Info("Chat session closed")
	m.notify(s)
}

func (m *Manager) notify(s *Session) {
	for _, fn := range m.listeners {
		fn(s)
	}
}
