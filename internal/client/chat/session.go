package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/status"
)

// Connectivity - состояние участия в комнате чата
type Connectivity string

const (
	Disconnected Connectivity = "disconnected"
	Connecting   Connectivity = "connecting"
	Connected    Connectivity = "connected"
)

// Session - переписка по одному инциденту. Сообщения хранятся без повторов
// в порядке серверных идентификаторов.
type Session struct {
	manager    *Manager
	id         string
	incidentID string

	messages     []models.Message
	seen         map[int64]struct{}
	connectivity Connectivity
	joined       bool
	locked       bool
}

// View - снимок сессии для чтения вне цикла
type View struct {
	ID           string
	IncidentID   string
	Messages     []models.Message
	Connectivity Connectivity
	CanSend      bool
}

func (s *Session) ID() string         { return s.id }
func (s *Session) IncidentID() string { return s.incidentID }

// Messages - копия истории. Только на цикле.
func (s *Session) Messages() []models.Message {
	return append([]models.Message(nil), s.messages...)
}

// Connectivity - только на цикле
func (s *Session) Connectivity() Connectivity {
	return s.connectivity
}

// CanSend - подключена и статус инцидента разрешает переписку. Только на цикле.
func (s *Session) CanSend() bool {
	return s.sendBlocked() == ""
}

// Snapshot - View для вызова вне цикла
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.manager.loop.Do(ctx, func() {
		v = View{
			ID:           s.id,
			IncidentID:   s.incidentID,
			Messages:     s.Messages(),
			Connectivity: s.connectivity,
			CanSend:      s.CanSend(),
		}
	})
	return v, err
}

// LoadHistory загружает историю и статус сессии, сливая их с уже полученными сообщениями
func (s *Session) LoadHistory(ctx context.Context) error {
	m := s.manager
	msgs, err := m.api.Messages(ctx, s.id)
	if err != nil {
		return fmt.Errorf("chat: load history %s: %w", s.id, err)
	}
	st, err := m.api.ChatStatus(ctx, s.id)
	if err != nil {
		return fmt.Errorf("chat: load status %s: %w", s.id, err)
	}
	return m.loop.Do(context.WithoutCancel(ctx), func() {
		changed := s.merge(msgs...)
		m.tracker.Observe(s.incidentID, st.Status)
		if cur, ok := m.tracker.Get(s.incidentID); ok && status.IsTerminal(cur) {
			m.teardown(s, "incident closed")
			return
		}
		if changed {
			m.notify(s)
		}
	})
}

// Join входит в комнату. До подтверждения личности запрос откладывается
// и уходит после события authenticated.
func (s *Session) Join(ctx context.Context) error {
	m := s.manager
	var locked bool
	err := m.loop.Do(ctx, func() {
		if s.locked {
			locked = true
			return
		}
		s.joined = true
		if s.connectivity != Connected {
			s.connectivity = Connecting
		}
		m.notify(s)
	})
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("chat: join %s: %w", s.id, models.ErrChatLocked)
	}
	if !m.channel.Authenticated() {
		return nil
	}
	return s.sendJoin(ctx)
}

func (s *Session) sendJoin(ctx context.Context) error {
	evt, err := events.New(events.TypeJoinChat, events.JoinChat{ChatID: s.id})
	if err != nil {
		return err
	}
	if err := s.manager.channel.Send(ctx, evt); err != nil {
		return fmt.Errorf("chat: join %s: %w", s.id, err)
	}
	return nil
}

// Send отправляет сообщение. Все проверки локальные: при отказе сеть не трогается.
func (s *Session) Send(ctx context.Context, content string, kind models.MessageKind) error {
	if kind == "" {
		kind = models.MessageText
	}
	if err := validate(kind, content); err != nil {
		return err
	}

	var reason string
	if err := s.manager.loop.Do(ctx, func() { reason = s.sendBlocked() }); err != nil {
		return err
	}
	if reason != "" {
		return fmt.Errorf("chat: send to %s: %s: %w", s.id, reason, models.ErrChatLocked)
	}

	evt, err := events.New(events.TypeChatMessage, events.ChatMessage{ChatID: s.id, Content: content, Type: kind})
	if err != nil {
		return err
	}
	if err := s.manager.channel.Send(ctx, evt); err != nil {
		return fmt.Errorf("chat: send to %s: %w", s.id, err)
	}
	return nil
}

// SendImage кодирует изображение в base64 и отправляет его тем же конвертом
func (s *Session) SendImage(ctx context.Context, data []byte, mime string) error {
	if len(data) == 0 {
		return models.NewValidationError("content", "image must not be empty")
	}
	if !strings.HasPrefix(mime, "image/") {
		return models.NewValidationError("mime", fmt.Sprintf("unsupported image type %q", mime))
	}
	return s.Send(ctx, base64.StdEncoding.EncodeToString(data), models.MessageImage)
}

// Close выходит из комнаты, история остается
func (s *Session) Close(ctx context.Context) error {
	m := s.manager
	var wasJoined bool
	err := m.loop.Do(ctx, func() {
		wasJoined = s.joined
		s.joined = false
		s.connectivity = Disconnected
		m.notify(s)
	})
	if err != nil || !wasJoined || !m.channel.Authenticated() {
		return err
	}
	evt, err := events.New(events.TypeLeaveChat, events.LeaveChat{ChatID: s.id})
	if err != nil {
		return err
	}
	if err := m.channel.Send(ctx, evt); err != nil {
		return fmt.Errorf("chat: leave %s: %w", s.id, err)
	}
	return nil
}

// sendBlocked возвращает причину запрета отправки или пустую строку
func (s *Session) sendBlocked() string {
	switch {
	case s.locked:
		return "chat closed"
	case s.connectivity != Connected:
		return "not connected"
	case !s.manager.tracker.ChatActive(s.incidentID):
		return "incident status does not allow messages"
	}
	return ""
}

// merge добавляет новые сообщения, уже известные id отбрасываются
func (s *Session) merge(msgs ...models.Message) bool {
	added := false
	for _, msg := range msgs {
		if _, ok := s.seen[msg.ID]; ok {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
		added = true
	}
	if added {
		sort.SliceStable(s.messages, func(i, j int) bool { return s.messages[i].ID < s.messages[j].ID })
	}
	return added
}

func validate(kind models.MessageKind, content string) error {
	switch kind {
	case models.MessageText:
		if strings.TrimSpace(content) == "" {
			return models.NewValidationError("content", "message must not be empty")
		}
	case models.MessageImage:
		if content == "" {
			return models.NewValidationError("content", "image must not be empty")
		}
	default:
		return models.NewValidationError("type", fmt.Sprintf("unsupported message type %q", kind))
	}
	return nil
}
