// Package offers - предложения на вызов на стороне клиента: отсчет окна, принятие,
// отказ и автоматический отказ по таймауту. Победителя выбирает сервер.
package offers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
)

const rejectTimeout = 10 * time.Second

// StatusAPI - запросы к авторитетному эндпоинту статусов
type StatusAPI interface {
	UpdateStatus(ctx context.Context, incidentID string, to models.Status, expected *models.Status) (*models.Incident, error)
	Notifications(ctx context.Context) ([]models.Incident, error)
}

// Subscriber - подписка на события канала
type Subscriber interface {
	On(t events.Type, h events.Handler)
}

type Resolution string

const (
	Pending  Resolution = "pending"
	Accepted Resolution = "accepted"
	Rejected Resolution = "rejected"
	TimedOut Resolution = "timed-out"
	Lost     Resolution = "lost"
)

type Offer struct {
	Incident   models.Incident
	Deadline   time.Time
	Resolution Resolution
}

type entry struct {
	offer    Offer
	timer    *loop.Timer
	inFlight bool
	expired  bool
	seq      uint64
}

// Manager хранит не более одного предложения на инцидент. Все поля, кроме
// неизменяемых зависимостей, трогаются только на цикле.
type Manager struct {
	loop     *loop.Loop
	api      StatusAPI
	tracker  *status.Tracker
	identity models.Identity
	window   time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	pending   map[string]*entry
	settled   map[string]Resolution
	seq       uint64
	listeners []func(Offer)
}

// New создает менеджер. Вызывается до запуска цикла или на нем.
func New(l *loop.Loop, api StatusAPI, tracker *status.Tracker, identity models.Identity, window time.Duration, logger *logrus.Logger) *Manager {
	if window <= 0 {
		window = 30 * time.Second
	}
	m := &Manager{
		loop:     l,
		api:      api,
		tracker:  tracker,
		identity: identity,
		window:   window,
		logger:   logger,
		now:      time.Now,
		pending:  make(map[string]*entry),
		settled:  make(map[string]Resolution),
	}
	tracker.OnChange(m.onStatus)
	return m
}

// Attach подписывает менеджер на предложения и на повторную аутентификацию
func (m *Manager) Attach(sub Subscriber) {
	sub.On(events.TypeNewOccurrence, m.onOfferEvent)
	sub.On(events.TypeAuthenticated, func(events.Event) {
		go func() {
			if err := m.Resync(context.Background()); err != nil {
				m.logger.WithError(err).Warn("Offer resync failed")
			}
		}()
	})
}

// OnChange - слушатель изменений предложений, вызывается на цикле
func (m *Manager) OnChange(fn func(Offer)) {
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) onOfferEvent(evt events.Event) {
	var p events.NewOccurrence
	if err := evt.Decode(&p); err != nil {
		m.logger.WithError(err).Warn("Dropping malformed offer")
		return
	}
	m.HandleOffer(p.Incident, p.Deadline)
}

// HandleOffer показывает предложение и запускает отсчет. Только на цикле.
// false - предложение проигнорировано.
func (m *Manager) HandleOffer(incident models.Incident, deadline time.Time) bool {
	log := m.logger.WithFields(logrus.Fields{"service": "offers", "method": "HandleOffer", "incident_id": incident.ID})
	if !m.identity.ReceivesOffers() {
		return false
	}
	id := incident.ID.String()
	if _, ok := m.pending[id]; ok {
		log.Debug("Duplicate offer ignored")
		return false
	}
	if incident.Status != "" && incident.Status != models.StatusOpen {
		return false
	}
	if st, ok := m.tracker.Get(id); ok && st != models.StatusOpen {
		log.WithField("status", st).Debug("Offer for settled incident ignored")
		return false
	}

	remaining := m.window
	if !deadline.IsZero() {
		left := deadline.Sub(m.now())
		if left <= 0 {
			return false
		}
		if left < remaining {
			remaining = left
		}
	}

	m.tracker.Observe(id, models.StatusOpen)
	delete(m.settled, id)
	m.seq++
	e := &entry{offer: Offer{Incident: incident, Deadline: m.now().Add(remaining), Resolution: Pending}, seq: m.seq}
	e.timer = m.loop.AfterFunc(remaining, func() { m.onTimeout(id) })
	m.pending[id] = e
	log.Info("Dispatch offer received")
	m.notify(e.offer)
	return true
}

// Accept пытается забрать инцидент. Проигрыш арбитража снимает предложение
// и возвращает ErrTransitionRejected.
func (m *Manager) Accept(ctx context.Context, incidentID string) error {
	if err := m.begin(ctx, incidentID); err != nil {
		return err
	}
	open := models.StatusOpen
	incident, err := m.api.UpdateStatus(ctx, incidentID, models.StatusAccepted, &open)

	doErr := m.loop.Do(context.WithoutCancel(ctx), func() {
		e, ok := m.finish(incidentID)
		switch {
		case err == nil:
			if ok {
				m.resolve(incidentID, Accepted)
			}
			m.tracker.Observe(incidentID, incident.Status)
		case errors.Is(err, models.ErrTransitionRejected):
			if ok {
				m.resolve(incidentID, Lost)
			}
		default:
			if ok && e.expired {
				m.expire(incidentID)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("offers: accept %s: %w", incidentID, err)
	}
	return doErr
}

// Reject отказывается от предложения (ENCERRADO при ожидаемом EM_ABERTO)
func (m *Manager) Reject(ctx context.Context, incidentID string) error {
	if err := m.begin(ctx, incidentID); err != nil {
		return err
	}
	open := models.StatusOpen
	incident, err := m.api.UpdateStatus(ctx, incidentID, models.StatusClosed, &open)

	doErr := m.loop.Do(context.WithoutCancel(ctx), func() {
		e, ok := m.finish(incidentID)
		switch {
		case err == nil:
			if ok {
				m.resolve(incidentID, Rejected)
			}
			m.tracker.Observe(incidentID, incident.Status)
		case errors.Is(err, models.ErrTransitionRejected):
			if ok {
				m.resolve(incidentID, Lost)
			}
		default:
			if ok && e.expired {
				m.expire(incidentID)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("offers: reject %s: %w", incidentID, err)
	}
	return doErr
}

// Resync снимает предложения, которых больше нет в списке открытых на сервере.
// Предложения, пришедшие во время запроса, не трогаются.
func (m *Manager) Resync(ctx context.Context) error {
	if !m.identity.ReceivesOffers() {
		return nil
	}
	var cutoff uint64
	if err := m.loop.Do(ctx, func() { cutoff = m.seq }); err != nil {
		return err
	}
	open, err := m.api.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("offers: resync: %w", err)
	}
	stillOpen := make(map[string]struct{}, len(open))
	for _, inc := range open {
		stillOpen[inc.ID.String()] = struct{}{}
	}
	return m.loop.Do(ctx, func() {
		for id, e := range m.pending {
			if _, ok := stillOpen[id]; ok || e.inFlight || e.seq > cutoff {
				continue
			}
			m.resolve(id, Lost)
		}
	})
}

// Pending возвращает активные предложения по сроку. Только на цикле.
func (m *Manager) Pending() []Offer {
	out := make([]Offer, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e.offer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Remaining - сколько осталось до автоматического отказа. Только на цикле.
func (m *Manager) Remaining(incidentID string) time.Duration {
	e, ok := m.pending[incidentID]
	if !ok {
		return 0
	}
	left := e.offer.Deadline.Sub(m.now())
	if left < 0 {
		return 0
	}
	return left
}

// Snapshot - Pending для вызова вне цикла
func (m *Manager) Snapshot(ctx context.Context) ([]Offer, error) {
	var out []Offer
	err := m.loop.Do(ctx, func() { out = m.Pending() })
	return out, err
}

// begin помечает предложение как отправляемое
func (m *Manager) begin(ctx context.Context, incidentID string) error {
	var err error
	doErr := m.loop.Do(ctx, func() {
		e, ok := m.pending[incidentID]
		if !ok {
			if r, was := m.settled[incidentID]; was {
				err = fmt.Errorf("offers: offer %s already %s: %w", incidentID, r, models.ErrTransitionRejected)
				return
			}
			err = fmt.Errorf("offers: no offer for %s: %w", incidentID, models.ErrNotFound)
			return
		}
		if e.inFlight {
			err = fmt.Errorf("offers: request for %s already in flight: %w", incidentID, models.ErrTransitionRejected)
			return
		}
		e.inFlight = true
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (m *Manager) finish(incidentID string) (*entry, bool) {
	e, ok := m.pending[incidentID]
	if ok {
		e.inFlight = false
	}
	return e, ok
}

func (m *Manager) onTimeout(incidentID string) {
	e, ok := m.pending[incidentID]
	if !ok {
		return
	}
	if e.inFlight {
		// решение за ответом сервера
		e.expired = true
		return
	}
	m.expire(incidentID)
}

// expire - единственный путь автоматического отказа, запрос уходит один раз
func (m *Manager) expire(incidentID string) {
	m.resolve(incidentID, TimedOut)
	m.logger.WithField("incident_id", incidentID).Info("Dispatch offer timed out")
	go m.sendTimeoutReject(incidentID)
}

func (m *Manager) sendTimeoutReject(incidentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), rejectTimeout)
	defer cancel()
	open := models.StatusOpen
	incident, err := m.api.UpdateStatus(ctx, incidentID, models.StatusClosed, &open)
	if err != nil {
		if !errors.Is(err, models.ErrTransitionRejected) {
			m.logger.WithError(err).WithField("incident_id", incidentID).Warn("Failed to send timeout reject")
		}
		return
	}
	m.loop.Post(func() { m.tracker.Observe(incidentID, incident.Status) })
}

func (m *Manager) onStatus(incidentID string, _, to models.Status) {
	if to == models.StatusOpen {
		return
	}
	if _, ok := m.pending[incidentID]; ok {
		m.resolve(incidentID, Lost)
	}
}

func (m *Manager) resolve(incidentID string, r Resolution) {
	e, ok := m.pending[incidentID]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(m.pending, incidentID)
	m.settled[incidentID] = r
	e.offer.Resolution = r
	m.logger.WithFields(logrus.Fields{"incident_id": incidentID, "resolution": r}).Debug("Offer resolved")
	m.notify(e.offer)
}

func (m *Manager) notify(o Offer) {
	for _, fn := range m.listeners {
		fn(o)
	}
}
