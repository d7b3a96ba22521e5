// Package notify - входящие уведомления о новых инцидентах: дедупликация,
// счетчик непрочитанных и резервный опрос сервера.
package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
)

// Source - список открытых инцидентов для опроса
type Source interface {
	Notifications(ctx context.Context) ([]models.Incident, error)
}

// Alerter - звук и всплывающее уведомление
type Alerter interface {
	Sound(incidentID string)
	Toast(n Notification)
}

// Subscriber - подписка на события канала
type Subscriber interface {
	On(t events.Type, h events.Handler)
}

type Notification struct {
	Incident   models.Incident
	ReceivedAt time.Time
	Read       bool
}

// LogAlerter пишет уведомления в лог
type LogAlerter struct {
	Logger *logrus.Logger
}

func (a LogAlerter) Sound(incidentID string) {
	a.Logger.WithField("incident_id", incidentID).Debug("Alert sound")
}

func (a LogAlerter) Toast(n Notification) {
	a.Logger.WithFields(logrus.Fields{
		"incident_id": n.Incident.ID,
		"category":    n.Incident.Category,
	}).Info("New incident")
}

// Center хранит уведомления по id инцидента. Запись никогда не удаляется,
// поэтому сигнал по одному id звучит один раз за жизнь процесса.
type Center struct {
	loop     *loop.Loop
	source   Source
	tracker  *status.Tracker
	identity models.Identity
	alerter  Alerter
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time
	poke     chan struct{}

	entries   map[string]*Notification
	unread    int
	listeners []func(unread int)
}

// New создает центр уведомлений. Вызывается до запуска цикла или на нем.
func New(l *loop.Loop, source Source, tracker *status.Tracker, identity models.Identity, alerter Alerter, interval time.Duration, logger *logrus.Logger) *Center {
	if alerter == nil {
		alerter = LogAlerter{Logger: logger}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &Center{
		loop:     l,
		source:   source,
		tracker:  tracker,
		identity: identity,
		alerter:  alerter,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		poke:     make(chan struct{}, 1),
		entries:  make(map[string]*Notification),
	}
	tracker.OnChange(func(incidentID string, _, to models.Status) {
		if to != models.StatusOpen {
			c.MarkRead(incidentID)
		}
	})
	return c
}

// Attach подписывает центр на рассылку и на восстановление соединения
func (c *Center) Attach(sub Subscriber) {
	sub.On(events.TypeNewOccurrence, func(evt events.Event) {
		var p events.NewOccurrence
		if err := evt.Decode(&p); err != nil {
			c.logger.WithError(err).Warn("Dropping malformed broadcast")
			return
		}
		c.HandleBroadcast(p.Incident)
	})
	sub.On(events.TypeConnected, func(events.Event) { c.Poke() })
}

// OnUnread - слушатель счетчика непрочитанных, вызывается на цикле
func (c *Center) OnUnread(fn func(unread int)) {
	c.listeners = append(c.listeners, fn)
}

// HandleBroadcast добавляет уведомление, если id еще не встречался. Только на цикле.
func (c *Center) HandleBroadcast(incident models.Incident) bool {
	if !c.identity.ReceivesOffers() {
		return false
	}
	id := incident.ID.String()
	if _, ok := c.entries[id]; ok {
		return false
	}
	if incident.Status != "" && incident.Status != models.StatusOpen {
		return false
	}
	if st, ok := c.tracker.Get(id); ok && st != models.StatusOpen {
		return false
	}

	n := &Notification{Incident: incident, ReceivedAt: c.now()}
	c.entries[id] = n
	c.alerter.Sound(id)
	c.alerter.Toast(*n)
	c.setUnread(c.unread + 1)
	return true
}

// MarkRead - только на цикле
func (c *Center) MarkRead(incidentID string) {
	n, ok := c.entries[incidentID]
	if !ok || n.Read {
		return
	}
	n.Read = true
	c.setUnread(c.unread - 1)
}

// MarkAllRead - только на цикле
func (c *Center) MarkAllRead() {
	for _, n := range c.entries {
		n.Read = true
	}
	c.setUnread(0)
}

// Unread - только на цикле
func (c *Center) Unread() int {
	return c.unread
}

// List - уведомления, новые первыми. Только на цикле.
func (c *Center) List() []Notification {
	out := make([]Notification, 0, len(c.entries))
	for _, n := range c.entries {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out
}

// Poll забирает открытые инциденты с сервера и сливает их по тому же правилу
func (c *Center) Poll(ctx context.Context) error {
	if !c.identity.ReceivesOffers() {
		return nil
	}
	items, err := c.source.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("notify: poll: %w", err)
	}
	return c.loop.Do(ctx, func() {
		for _, inc := range items {
			c.HandleBroadcast(inc)
		}
	})
}

// Poke запрашивает внеочередной опрос
func (c *Center) Poke() {
	select {
	case c.poke <- struct{}{}:
	default:
	}
}

// Run опрашивает сервер с интервалом до отмены ctx
func (c *Center) Run(ctx context.Context) error {
	log := c.logger.WithFields(logrus.Fields{"service": "notify", "method": "Run"})
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Notification polling stopped")
			return nil
		case <-ticker.C:
		case <-c.poke:
		}
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("Notification poll failed")
		}
	}
}

func (c *Center) setUnread(n int) {
	if n < 0 {
		n = 0
	}
	if n == c.unread {
		return
	}
	c.unread = n
	for _, fn := range c.listeners {
		fn(n)
	}
}
