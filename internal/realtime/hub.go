package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/policy"
	"github.com/shenikar/incident_dispatch/internal/service"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
)

// maxMessageSize ограничивает входящий кадр, изображения приходят в base64
const maxMessageSize = 8 << 20

// Authenticator проверяет bearer-токен из события authenticate
type Authenticator interface {
	Authenticate(authHeader string) (models.Identity, error)
}

// OfferLedger помнит, каким получателям уже доставлено предложение
type OfferLedger interface {
	MarkDelivered(ctx context.Context, incidentID uuid.UUID, recipient string) (bool, error)
}

// Options - параметры соединений
type Options struct {
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Hub держит websocket-соединения клиентов и комнаты чатов
type Hub struct {
	auth     Authenticator
	chats    service.ChatService
	ledger   OfferLedger
	policy   *policy.Policy
	mirror   *Mirror
	logger   *logrus.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*conn]struct{}
	rooms   map[string]map[*conn]struct{}
}

func NewHub(auth Authenticator, chats service.ChatService, ledger OfferLedger, pol *policy.Policy, mirror *Mirror, logger *logrus.Logger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		auth:   auth,
		chats:  chats,
		ledger: ledger,
		policy: pol,
		mirror: mirror,
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// мобильные клиенты не присылают Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*conn]struct{}),
		rooms:   make(map[string]map[*conn]struct{}),
	}
}

// ServeHTTP переводит запрос в websocket и обслуживает соединение до его закрытия
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade websocket connection")
		return
	}

	c := &conn{
		hub:   h,
		ws:    ws,
		send:  make(chan []byte, h.opts.SendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("remote", r.RemoteAddr).Debug("Websocket client connected")

	go c.writePump()
	c.readPump(r.Context())
}

// Dispatch маршрутизирует событие шины подключенным клиентам
func (h *Hub) Dispatch(evt events.Event) {
	if h.mirror != nil {
		h.mirror.Publish(evt)
	}

	log := h.logger.WithFields(logrus.Fields{"service": "hub", "method": "Dispatch", "event": evt.Type})
	switch evt.Type {
	case events.TypeNewOccurrence:
		var p events.NewOccurrence
		if err := evt.Decode(&p); err != nil {
			log.WithError(err).Warn("Dropping malformed offer")
			return
		}
		h.dispatchOffer(evt, p)
	case events.TypeOccurrenceStatus:
		for _, c := range h.authenticated() {
			c.enqueue(evt)
		}
	case events.TypeNewMessage:
		var p events.NewMessage
		if err := evt.Decode(&p); err != nil {
			log.WithError(err).Warn("Dropping malformed chat message")
			return
		}
		for _, c := range h.room(p.ChatID) {
			c.enqueue(evt)
		}
	case events.TypeChatClosed:
		var p events.ChatClosed
		if err := evt.Decode(&p); err != nil {
			log.WithError(err).Warn("Dropping malformed chat_closed")
			return
		}
		for _, c := range h.room(p.ChatID) {
			c.enqueue(evt)
		}
		h.closeRoom(p.ChatID)
	}
}

// dispatchOffer отправляет предложение каждому подходящему получателю не более одного раза,
// в том числе после переподключения
func (h *Hub) dispatchOffer(evt events.Event, p events.NewOccurrence) {
	for _, c := range h.authenticated() {
		id := c.identity()
		if !h.policy.CanReceiveOffers(id.Role) {
			continue
		}
		fresh, err := h.ledger.MarkDelivered(context.Background(), p.Incident.ID, recipientKey(id))
		if err != nil {
			h.logger.WithError(err).WithField("incident_id", p.Incident.ID).Warn("Failed to record offer delivery")
			fresh = true
		}
		if fresh {
			c.enqueue(evt)
		}
	}
}

// Clients возвращает число подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close разрывает все соединения
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) authenticated() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		if c.isAuthenticated() {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) room(chatID string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[chatID]
	out := make([]*conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (h *Hub) join(chatID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[chatID]
	if !ok {
		members = make(map[*conn]struct{})
		h.rooms[chatID] = members
	}
	members[c] = struct{}{}
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leave(chatID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
}

func (h *Hub) closeRoom(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[chatID] {
		c.mu.Lock()
		delete(c.rooms, chatID)
		c.mu.Unlock()
	}
	delete(h.rooms, chatID)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.mu.Lock()
	for chatID := range c.rooms {
		if members, ok := h.rooms[chatID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	c.mu.Unlock()
}

// recipientKey - получатель предложения: пользователь плюс конкретный клиент
func recipientKey(id models.Identity) string {
	if id.ClientID == "" {
		return id.UserID
	}
	return id.UserID + "/" + id.ClientID
}

// errorCode переводит ошибку сервиса в код события error
func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return events.CodeUnauthenticated
	case models.IsValidation(err):
		return events.CodeValidation
	case errors.Is(err, models.ErrChatLocked):
		return events.CodeChatLocked
	case errors.Is(err, models.ErrSessionUnavailable), errors.Is(err, models.ErrNotFound):
		return events.CodeSessionUnavailable
	case errors.Is(err, models.ErrForbidden):
		return events.CodeForbidden
	default:
		return events.CodeInternal
	}
}

// conn - одно websocket-соединение
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	mu    sync.Mutex
	ident *models.Identity
	rooms map[string]struct{}
}

func (c *conn) identity() models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ident == nil {
		return models.Identity{}
	}
	return *c.ident
}

func (c *conn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ident != nil
}

// enqueue кладет событие в буфер отправки. Медленный клиент, переполнивший буфер, отключается.
func (c *conn) enqueue(evt events.Event) {
	raw, err := json.Marshal(evt)
	if err != nil {
		c.hub.logger.WithError(err).WithField("event", evt.Type).Error("Failed to marshal outbound event")
		return
	}
	select {
	case <-c.done:
	case c.send <- raw:
	default:
		c.hub.logger.WithField("user_id", c.identity().UserID).Warn("Dropping slow websocket client")
		c.close()
	}
}

func (c *conn) reply(t events.Type, payload any) {
	evt, err := events.New(t, payload)
	if err != nil {
		c.hub.logger.WithError(err).Error("Failed to build reply")
		return
	}
	c.enqueue(evt)
}

func (c *conn) replyError(err error, chatID string) {
	c.reply(events.TypeError, events.Error{Code: errorCode(err), Message: err.Error(), ChatID: chatID})
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.ws.Close()
	})
}

func (c *conn) readPump(ctx context.Context) {
	defer c.close()

	pongWait := c.hub.opts.PingInterval * 2
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).Debug("Websocket closed unexpectedly")
			}
			return
		}
		var evt events.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.reply(events.TypeError, events.Error{Code: events.CodeBadRequest, Message: "malformed event"})
			continue
		}
		c.handle(ctx, evt)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, evt events.Event) {
	if evt.Type == events.TypeAuthenticate {
		c.authenticate(evt)
		return
	}
	if !c.isAuthenticated() {
		c.reply(events.TypeError, events.Error{Code: events.CodeUnauthenticated, Message: "authenticate first"})
		return
	}

	switch evt.Type {
	case events.TypeJoinChat:
		var p events.JoinChat
		chatID, ok := c.decodeChat(evt, &p, func() string { return p.ChatID })
		if !ok {
			return
		}
		c.joinChat(ctx, chatID)
	case events.TypeLeaveChat:
		var p events.LeaveChat
		if err := evt.Decode(&p); err != nil {
			c.reply(events.TypeError, events.Error{Code: events.CodeBadRequest, Message: err.Error()})
			return
		}
		c.hub.leave(p.ChatID, c)
	case events.TypeChatMessage:
		var p events.ChatMessage
		chatID, ok := c.decodeChat(evt, &p, func() string { return p.ChatID })
		if !ok {
			return
		}
		if _, err := c.hub.chats.PostMessage(ctx, c.identity(), chatID, p.Type, p.Content); err != nil {
			c.replyError(err, p.ChatID)
		}
	default:
		c.reply(events.TypeError, events.Error{Code: events.CodeBadRequest, Message: "unsupported event " + string(evt.Type)})
	}
}

func (c *conn) decodeChat(evt events.Event, v any, chatID func() string) (uuid.UUID, bool) {
	if err := evt.Decode(v); err != nil {
		c.reply(events.TypeError, events.Error{Code: events.CodeBadRequest, Message: err.Error()})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chatID())
	if err != nil {
		c.reply(events.TypeError, events.Error{Code: events.CodeBadRequest, Message: "invalid chatId", ChatID: chatID()})
		return uuid.Nil, false
	}
	return id, true
}

func (c *conn) authenticate(evt events.Event) {
	var p events.Authenticate
	if err := evt.Decode(&p); err != nil {
		c.reply(events.TypeError, events.Error{Code: events.CodeBadRequest, Message: err.Error()})
		return
	}
	id, err := c.hub.auth.Authenticate(p.Token)
	if err == nil && p.UserID != "" && p.UserID != id.UserID {
		err = fmt.Errorf("userId does not match token subject: %w", models.ErrUnauthenticated)
	}
	if err != nil {
		c.replyError(err, "")
		return
	}
	id.ClientID = p.ClientID

	c.mu.Lock()
	c.ident = &id
	c.mu.Unlock()
	c.hub.logger.WithFields(logrus.Fields{"user_id": id.UserID, "role": id.Role}).Debug("Websocket client authenticated")
	c.reply(events.TypeAuthenticated, events.Authenticated{UserID: id.UserID, Role: id.Role})
}

func (c *conn) joinChat(ctx context.Context, chatID uuid.UUID) {
	session, st, err := c.hub.chats.JoinSession(ctx, c.identity(), chatID)
	if err != nil {
		c.replyError(err, chatID.String())
		return
	}
	if status.IsTerminal(st) {
		c.reply(events.TypeChatClosed, events.ChatClosed{
			ChatID:     session.ID.String(),
			IncidentID: session.IncidentID.String(),
			Reason:     string(st),
		})
		return
	}
	c.hub.join(session.ID.String(), c)
	c.reply(events.TypeChatConnected, events.ChatConnected{
		ChatID:     session.ID.String(),
		IncidentID: session.IncidentID.String(),
		Status:     st,
	})
}
