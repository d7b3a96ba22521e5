// Package transport - единственное постоянное соединение клиента с сервером.
// События мультиплексируются по полю type между компонентами (предложения, чат, уведомления).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/sirupsen/logrus"
)

// State - состояние соединения для индикатора в интерфейсе
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const writeTimeout = 10 * time.Second

// Options - параметры канала
type Options struct {
	URL            string
	Identity       models.Identity
	ReconnectDelay time.Duration
	MaxAttempts    int
	Dialer         *websocket.Dialer
	Logger         *logrus.Logger
}

// Channel переподключается с фиксированной задержкой и после MaxAttempts неудач
// сообщает reconnect_failed. История событий не буферизуется: после connected
// каждый компонент сам пересинхронизирует свое состояние.
type Channel struct {
	opts   Options
	loop   *loop.Loop
	logger *logrus.Logger

	mu            sync.Mutex
	ws            *websocket.Conn
	state         State
	authenticated bool
	handlers      map[events.Type][]events.Handler
	cancel        context.CancelFunc

	writeMu sync.Mutex
}

func New(l *loop.Loop, opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Channel{
		opts:     opts,
		loop:     l,
		logger:   opts.Logger,
		state:    StateDisconnected,
		handlers: make(map[events.Type][]events.Handler),
	}
}

// On подписывает обработчик на тип события. Обработчики выполняются на цикле.
func (c *Channel) On(t events.Type, h events.Handler) {
	c.mu.Lock()
	c.handlers[t] = append(c.handlers[t], h)
	c.mu.Unlock()
}

// Connect устанавливает соединение и запускает чтение с переподключением.
// Первая попытка синхронная. Ее неудача не ошибка для вызывающего: подписчики
// получают error и disconnected, а канал уходит в ту же серию переподключений,
// что и после обрыва. Ошибка возвращается только при отмененном ctx.
func (c *Channel) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			cancel()
			return fmt.Errorf("transport: could not connect: %w", ctx.Err())
		}
		c.lost(err)
	}
	go c.run(runCtx, ws)
	return nil
}

// Send отправляет событие, без соединения - ErrTransport
func (c *Channel) Send(ctx context.Context, evt events.Event) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("transport: not connected: %w", models.ErrTransport)
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("transport: could not marshal %s: %w", evt.Type, err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("transport: could not send %s: %w: %w", evt.Type, models.ErrTransport, err)
	}
	return nil
}

// Authenticated - сервер подтвердил личность на текущем соединении
func (c *Channel) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close закрывает соединение и отменяет переподключение
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.authenticated = false
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return ws.Close()
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Identity.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Identity.Token)
	}
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// run обслуживает соединение до отмены. ws == nil - первая попытка не удалась.
func (c *Channel) run(ctx context.Context, ws *websocket.Conn) {
	for {
		if ws == nil {
			if ws = c.reconnect(ctx); ws == nil {
				return
			}
		}
		if !c.attach(ctx, ws) {
			_ = ws.Close()
			return
		}
		err := c.read(ws)
		if ctx.Err() != nil {
			return
		}

		c.detach(ws)
		c.lost(err)
		ws = nil
	}
}

// lost сообщает подписчикам о потере (или недоступности) соединения
func (c *Channel) lost(err error) {
	c.setState(StateDisconnected)
	c.logger.WithError(err).Warn("Transport connection lost")
	c.emit(mustEvent(events.TypeError, events.Error{Code: events.CodeTransport, Message: err.Error()}))
	c.emit(events.Event{Type: events.TypeDisconnected})
}

// attach делает соединение текущим, аутентифицируется и сообщает connected
func (c *Channel) attach(ctx context.Context, ws *websocket.Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.ws = ws
	c.state = StateConnected
	c.authenticated = false
	c.mu.Unlock()

	id := c.opts.Identity
	if id.Token != "" {
		auth := mustEvent(events.TypeAuthenticate, events.Authenticate{UserID: id.UserID, Token: id.Token, ClientID: id.ClientID})
		if err := c.Send(ctx, auth); err != nil {
			c.logger.WithError(err).Warn("Failed to send authenticate")
		}
	}
	c.logger.WithField("url", c.opts.URL).Info("Transport connected")
	c.emit(events.Event{Type: events.TypeConnected})
	return true
}

func (c *Channel) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.state = StateDisconnected
	c.authenticated = false
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Channel) read(ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var evt events.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.logger.WithError(err).Warn("Dropping malformed inbound event")
			continue
		}
		c.logger.WithField("event", evt.Type).Debug("Inbound event")
		if evt.Type == events.TypeAuthenticated {
			c.mu.Lock()
			c.authenticated = true
			c.mu.Unlock()
		}
		c.emit(evt)
	}
}

// reconnect - новая серия попыток на каждый обрыв, поэтому счетчик сбрасывается после успеха
func (c *Channel) reconnect(ctx context.Context) *websocket.Conn {
	c.setState(StateConnecting)
	var b backoff.BackOff = backoff.NewConstantBackOff(c.opts.ReconnectDelay)
	if c.opts.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var ws *websocket.Conn
	op := func() error {
		attempt++
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.WithError(err).WithField("attempt", attempt).Debug("Reconnect attempt failed")
			return err
		}
		ws = conn
		return nil
	}

	// первая попытка тоже ждет задержку
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(c.opts.ReconnectDelay):
	}
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateDisconnected)
		c.logger.WithError(err).WithField("attempts", attempt).Error("Transport reconnect failed")
		c.emit(mustEvent(events.TypeReconnectFailed, events.Error{Code: events.CodeTransport, Message: err.Error()}))
		return nil
	}
	return ws
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// emit передает событие обработчикам на цикле
func (c *Channel) emit(evt events.Event) {
	c.mu.Lock()
	handlers := append([]events.Handler(nil), c.handlers[evt.Type]...)
	c.mu.Unlock()
	if len(handlers) == 0 {
		return
	}
	c.loop.Post(func() {
		for _, h := range handlers {
			h(evt)
		}
	})
}

func mustEvent(t events.Type, payload any) events.Event {
	evt, err := events.New(t, payload)
	if err != nil {
		return events.Event{Type: t}
	}
	return evt
}
